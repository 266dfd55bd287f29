package sqlite

import (
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite/lib"
)

// Code - первичный код результата движка SQLite.
type Code int

// Коды результата, с которыми работает исполнитель запросов.
const (
	CodeOK         = Code(sqlite3.SQLITE_OK)
	CodeError      = Code(sqlite3.SQLITE_ERROR)
	CodeBusy       = Code(sqlite3.SQLITE_BUSY)
	CodeLocked     = Code(sqlite3.SQLITE_LOCKED)
	CodeNoMem      = Code(sqlite3.SQLITE_NOMEM)
	CodeConstraint = Code(sqlite3.SQLITE_CONSTRAINT)
	CodeMisuse     = Code(sqlite3.SQLITE_MISUSE)
	CodeRange      = Code(sqlite3.SQLITE_RANGE)
	CodeRow        = Code(sqlite3.SQLITE_ROW)
	CodeDone       = Code(sqlite3.SQLITE_DONE)
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "SQLITE_OK"
	case CodeError:
		return "SQLITE_ERROR"
	case CodeBusy:
		return "SQLITE_BUSY"
	case CodeLocked:
		return "SQLITE_LOCKED"
	case CodeNoMem:
		return "SQLITE_NOMEM"
	case CodeConstraint:
		return "SQLITE_CONSTRAINT"
	case CodeMisuse:
		return "SQLITE_MISUSE"
	case CodeRange:
		return "SQLITE_RANGE"
	case CodeRow:
		return "SQLITE_ROW"
	case CodeDone:
		return "SQLITE_DONE"
	default:
		return fmt.Sprintf("SQLITE_CODE(%d)", int(c))
	}
}

// CodeOf извлекает первичный код результата из цепочки ошибок.
// Расширенные коды (например, SQLITE_CONSTRAINT_UNIQUE) сводятся к первичным
// по младшим 8 битам. nil соответствует CodeOK, неизвестная ошибка - CodeError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return Code(coder.Code() & 0xff)
	}
	return CodeError
}

// IsContention сообщает, является ли ошибка временной блокировкой (BUSY/LOCKED),
// которую имеет смысл повторить после паузы.
func IsContention(err error) bool {
	switch CodeOf(err) {
	case CodeBusy, CodeLocked:
		return true
	default:
		return false
	}
}

// engineError - ошибка с кодом результата, порождаемая адаптером движка.
type engineError struct {
	code Code
	msg  string
}

func newEngineError(code Code, format string, args ...any) error {
	return &engineError{code: code, msg: fmt.Sprintf(format, args...)}
}

func (e *engineError) Error() string {
	return fmt.Sprintf("%s (%s)", e.msg, e.code)
}

func (e *engineError) Code() int {
	return int(e.code)
}
