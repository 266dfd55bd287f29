package sqlite

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTemplate - шаблон содержит неподдерживаемую последовательность с %
	ErrTemplate = errors.New("sqlite: malformed query template")
	// ErrArgCount - число аргументов не совпадает с числом маркеров %s
	ErrArgCount = errors.New("sqlite: argument count does not match template markers")
	// ErrSizeMismatch - длина собранного запроса не совпала с расчётной
	ErrSizeMismatch = errors.New("sqlite: rendered query size mismatch")
)

// Blob описывает привязку бинарного значения к позиционному параметру "?".
// Data не экранируется и копируется движком в момент привязки.
type Blob struct {
	Param int
	Data  []byte
}

// Query - шаблон запроса с упорядоченными экранированными аргументами
// и привязками бинарных значений.
//
// В шаблоне %s - место подстановки очередного аргумента, %% - литеральный
// символ процента. Собранный текст интерпретирует %% как один процент
// одинаково для текста шаблона и для аргументов, поэтому удвоение процента
// в Escape не искажает сохраняемые значения. Удвоенные кавычки остаются
// в тексте запроса и снимаются уже самим SQL.
type Query struct {
	template string
	args     []Escaped
	blobs    []Blob
}

// NewQuery проверяет шаблон и число аргументов.
func NewQuery(template string, args ...Escaped) (Query, error) {
	markers, _, err := scanTemplate(template)
	if err != nil {
		return Query{}, err
	}
	if markers != len(args) {
		return Query{}, fmt.Errorf("%w: %d markers, %d arguments", ErrArgCount, markers, len(args))
	}
	return Query{template: template, args: append([]Escaped(nil), args...)}, nil
}

// MustQuery - вариант NewQuery для константных шаблонов; паникует при ошибке.
func MustQuery(template string, args ...Escaped) Query {
	q, err := NewQuery(template, args...)
	if err != nil {
		panic(err)
	}
	return q
}

// WithBlob возвращает копию запроса с дополнительной привязкой data к параметру param.
func (q Query) WithBlob(param int, data []byte) Query {
	blobs := make([]Blob, len(q.blobs), len(q.blobs)+1)
	copy(blobs, q.blobs)
	q.blobs = append(blobs, Blob{Param: param, Data: data})
	return q
}

// Template возвращает исходный шаблон.
func (q Query) Template() string {
	return q.template
}

// Blobs возвращает привязки бинарных значений.
func (q Query) Blobs() []Blob {
	return q.blobs
}

// Render собирает текст запроса. Размер результата вычисляется заранее
// из длин шаблона и аргументов; расхождение с фактической длиной - ErrSizeMismatch.
func (q Query) Render() (string, error) {
	markers, literals, err := scanTemplate(q.template)
	if err != nil {
		return "", err
	}
	if markers != len(q.args) {
		return "", fmt.Errorf("%w: %d markers, %d arguments", ErrArgCount, markers, len(q.args))
	}

	size := len(q.template) - 2*markers - literals
	for _, a := range q.args {
		size += a.Len() - strings.Count(a.s, "%")/2
	}

	var b strings.Builder
	b.Grow(size)

	next := 0
	t := q.template
	for i := 0; i < len(t); i++ {
		if t[i] != '%' {
			b.WriteByte(t[i])
			continue
		}
		i++
		if t[i] == '%' {
			b.WriteByte('%')
			continue
		}
		writeCollapsed(&b, q.args[next].s)
		next++
	}

	if b.Len() != size {
		return "", fmt.Errorf("%w: expected %d bytes, built %d", ErrSizeMismatch, size, b.Len())
	}
	return b.String(), nil
}

// scanTemplate считает маркеры %s и литералы %% в шаблоне.
func scanTemplate(t string) (markers, literals int, err error) {
	for i := 0; i < len(t); i++ {
		if t[i] != '%' {
			continue
		}
		if i+1 >= len(t) {
			return 0, 0, fmt.Errorf("%w: trailing %% at offset %d", ErrTemplate, i)
		}
		switch t[i+1] {
		case 's':
			markers++
		case '%':
			literals++
		default:
			return 0, 0, fmt.Errorf("%w: unsupported verb %%%c at offset %d", ErrTemplate, t[i+1], i)
		}
		i++
	}
	return markers, literals, nil
}

// writeCollapsed пишет экранированный аргумент, сворачивая %% в %.
func writeCollapsed(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		b.WriteByte(s[i])
		if s[i] == '%' && i+1 < len(s) && s[i+1] == '%' {
			i++
		}
	}
}
