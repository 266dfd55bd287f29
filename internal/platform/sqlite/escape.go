package sqlite

// Escaped - строка, подготовленная для подстановки в шаблон запроса.
// Получить значение можно только через Escape, поэтому Query не принимает
// неэкранированные аргументы.
type Escaped struct {
	s string
}

// Escape возвращает копию s, в которой каждая одинарная кавычка и каждый
// символ процента удвоены. Первый проход считает размер результата,
// второй строит копию; исходная строка не изменяется.
// Это не разбор SQL: правило применяется к классу символов без учёта контекста.
func Escape(s string) Escaped {
	need := 0
	for i := 0; i < len(s); i++ {
		if isEscapable(s[i]) {
			need++
		}
	}
	if need == 0 {
		return Escaped{s: s}
	}

	out := make([]byte, 0, len(s)+need)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isEscapable(c) {
			out = append(out, c)
		}
		out = append(out, c)
	}
	return Escaped{s: string(out)}
}

// String возвращает экранированный текст.
func (e Escaped) String() string {
	return e.s
}

// Len возвращает длину экранированного текста в байтах.
func (e Escaped) Len() int {
	return len(e.s)
}

func isEscapable(c byte) bool {
	return c == '\'' || c == '%'
}
