package sqlite

import (
	"context"
	"database/sql"
	"strings"
)

// Engine - минимальная поверхность встроенного движка, которой пользуется Executor.
// Реализуется Conn; в тестах подменяется фейком, имитирующим BUSY/LOCKED.
type Engine interface {
	// Prepare компилирует одно выражение.
	Prepare(ctx context.Context, query string) (Stmt, error)
	// Exec выполняет скрипт из одного или нескольких выражений.
	Exec(ctx context.Context, script string) error
}

// Stmt - подготовленное выражение с пошаговым выполнением.
type Stmt interface {
	// BindBlob привязывает копию data к параметру param (нумерация с 1).
	BindBlob(param int, data []byte) error
	// Step продвигает выполнение: CodeRow - доступна строка, CodeDone - выражение завершено.
	// Ошибка несёт код результата, доступный через CodeOf.
	Step(ctx context.Context) (Code, error)
	// Reset сбрасывает частичное состояние выполнения перед повтором.
	Reset() error
	// ColumnCount возвращает число колонок текущей строки.
	ColumnCount() int
	// ColumnText возвращает текст колонки i текущей строки ("" для NULL).
	ColumnText(i int) string
	// Finalize освобождает выражение. Повторный вызов ничего не делает.
	Finalize() error
}

// sqlStmt адаптирует *sql.Stmt к пошаговой модели Stmt.
// Для выражений без результата первый Step выполняет ExecContext,
// для выборок - открывает курсор и читает по одной строке.
type sqlStmt struct {
	stmt      *sql.Stmt
	reads     bool
	args      []any
	rows      *sql.Rows
	row       []sql.NullString
	delivered int
	done      bool
	finalized bool
}

func newSQLStmt(st *sql.Stmt, reads bool) *sqlStmt {
	return &sqlStmt{stmt: st, reads: reads}
}

func (s *sqlStmt) BindBlob(param int, data []byte) error {
	if s.finalized {
		return newEngineError(CodeMisuse, "bind on finalized statement")
	}
	if param < 1 {
		return newEngineError(CodeRange, "bind parameter index %d out of range", param)
	}
	for len(s.args) < param {
		s.args = append(s.args, nil)
	}
	// Буфер вызывающего может не пережить вызов: копируем сразу
	s.args[param-1] = append([]byte{}, data...)
	return nil
}

func (s *sqlStmt) Step(ctx context.Context) (Code, error) {
	if s.finalized {
		return CodeMisuse, newEngineError(CodeMisuse, "step on finalized statement")
	}
	if s.done {
		return CodeDone, nil
	}
	if !s.reads {
		if _, err := s.stmt.ExecContext(ctx, s.args...); err != nil {
			return CodeOf(err), err
		}
		s.done = true
		return CodeDone, nil
	}
	return s.stepRows(ctx)
}

func (s *sqlStmt) stepRows(ctx context.Context) (Code, error) {
	if s.rows == nil {
		rows, err := s.stmt.QueryContext(ctx, s.args...)
		if err != nil {
			return CodeOf(err), err
		}
		cols, err := rows.Columns()
		if err != nil {
			_ = rows.Close()
			return CodeOf(err), err
		}
		s.rows = rows
		s.row = make([]sql.NullString, len(cols))
		// После повтора продолжаем с той же строки, уже отданные пропускаем
		for skipped := 0; skipped < s.delivered; skipped++ {
			if !rows.Next() {
				break
			}
		}
	}

	if s.rows.Next() {
		dest := make([]any, len(s.row))
		for i := range s.row {
			dest[i] = &s.row[i]
		}
		if err := s.rows.Scan(dest...); err != nil {
			return CodeOf(err), err
		}
		s.delivered++
		return CodeRow, nil
	}

	err := s.rows.Err()
	_ = s.rows.Close()
	s.rows = nil
	if err != nil {
		return CodeOf(err), err
	}
	s.done = true
	return CodeDone, nil
}

func (s *sqlStmt) Reset() error {
	if s.rows != nil {
		_ = s.rows.Close()
		s.rows = nil
	}
	s.done = false
	return nil
}

func (s *sqlStmt) ColumnCount() int {
	return len(s.row)
}

func (s *sqlStmt) ColumnText(i int) string {
	if i < 0 || i >= len(s.row) || !s.row[i].Valid {
		return ""
	}
	return s.row[i].String
}

func (s *sqlStmt) Finalize() error {
	if s.finalized {
		return nil
	}
	s.finalized = true
	if s.rows != nil {
		_ = s.rows.Close()
		s.rows = nil
	}
	return s.stmt.Close()
}

// returnsRows определяет, возвращает ли выражение строки.
func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "PRAGMA", "VALUES", "EXPLAIN"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return strings.Contains(q+" ", " RETURNING ")
}
