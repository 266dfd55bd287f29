package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"userstore/pkg/retry"
)

// Executor собирает запрос из шаблона, подготавливает и выполняет его
// с ограниченным числом повторов при BUSY/LOCKED.
//
// Executor возвращает коды движка как есть; перевод в ошибки предметной
// области - забота вызывающей операции, она же пишет итоговую запись об ошибке.
// Сам Executor пишет на уровне Error только нарушение протокола (MISUSE).
type Executor struct {
	engine Engine
	retry  retry.Config
	log    *slog.Logger
}

// NewExecutor создаёт исполнителя. Пустой log подавляет диагностику.
func NewExecutor(engine Engine, policy retry.Config, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Executor{engine: engine, retry: policy, log: log}
}

// Logger возвращает диагностический логгер исполнителя.
func (e *Executor) Logger() *slog.Logger {
	return e.log
}

// Policy возвращает политику повторов.
func (e *Executor) Policy() retry.Config {
	return e.retry
}

// Execute собирает, подготавливает, привязывает blob-параметры и делает первый шаг.
// При успехе Cursor находится на CodeRow или CodeDone; закрыть его обязан вызывающий.
// При ошибке выражение уже освобождено, а код результата доступен через CodeOf(err).
func (e *Executor) Execute(ctx context.Context, q Query) (*Cursor, error) {
	query, err := q.Render()
	if err != nil {
		e.log.Debug("query build failed", slog.String("template", q.Template()), slog.Any("err", err))
		return nil, err
	}

	stmt, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}

	for _, b := range q.Blobs() {
		if err := stmt.BindBlob(b.Param, b.Data); err != nil {
			_ = stmt.Finalize()
			e.log.Debug("blob bind failed",
				slog.Int("param", b.Param),
				slog.String("code", CodeOf(err).String()),
				slog.Any("err", err))
			return nil, fmt.Errorf("bind parameter %d: %w", b.Param, err)
		}
	}

	code, err := e.step(ctx, stmt)
	if err != nil {
		_ = stmt.Finalize()
		e.log.Debug("query execution failed",
			slog.String("query", query),
			slog.String("code", code.String()),
			slog.Any("err", err))
		return nil, err
	}

	return &Cursor{exec: e, stmt: stmt, code: code}, nil
}

// Exec выполняет выражение без результата и сразу освобождает его.
// Возвращает терминальный код (обычно CodeDone).
func (e *Executor) Exec(ctx context.Context, q Query) (Code, error) {
	cur, err := e.Execute(ctx, q)
	if err != nil {
		return CodeOf(err), err
	}
	code := cur.Code()
	if err := cur.Close(); err != nil {
		e.log.Warn("statement finalize failed", slog.Any("err", err))
	}
	return code, nil
}

// ExecScript выполняет скрипт атомарно: он оборачивается в BEGIN IMMEDIATE/COMMIT
// и откатывается при ошибке. При BUSY/LOCKED повторяется весь скрипт, поэтому
// выражения, выполненные до блокировки, не применяются дважды.
// Скрипт не должен сам открывать или завершать транзакции.
func (e *Executor) ExecScript(ctx context.Context, script string) error {
	wrapped := "BEGIN IMMEDIATE;\n" + script + "\n;\nCOMMIT;"
	err := retry.DoWithRetryable(ctx, e.retry, func(ctx context.Context) error {
		if err := e.engine.Exec(ctx, wrapped); err != nil {
			// Без активной транзакции ROLLBACK вернёт ошибку, она не важна
			_ = e.engine.Exec(context.WithoutCancel(ctx), "ROLLBACK")
			return err
		}
		return nil
	}, IsContention)
	if err != nil {
		e.log.Debug("script execution failed",
			slog.String("code", CodeOf(err).String()),
			slog.Any("err", err))
	}
	return err
}

// prepare компилирует выражение, повторяя попытку при BUSY/LOCKED.
func (e *Executor) prepare(ctx context.Context, query string) (Stmt, error) {
	var stmt Stmt
	err := retry.DoWithRetryable(ctx, e.retry, func(ctx context.Context) error {
		s, err := e.engine.Prepare(ctx, query)
		if err != nil {
			return err
		}
		stmt = s
		return nil
	}, IsContention)
	if err != nil {
		e.log.Debug("prepare failed",
			slog.String("query", query),
			slog.String("code", CodeOf(err).String()),
			slog.Any("err", err))
		return nil, err
	}
	return stmt, nil
}

// step продвигает выражение. При BUSY ждёт и повторяет, при LOCKED
// дополнительно сбрасывает выражение, чтобы следующая попытка началась с чистого состояния.
func (e *Executor) step(ctx context.Context, stmt Stmt) (Code, error) {
	var (
		code    Code
		retries int
	)

	policy := e.retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = attempt
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	err := retry.DoWithRetryable(ctx, policy, func(ctx context.Context) error {
		c, err := stmt.Step(ctx)
		if err != nil {
			if CodeOf(err) == CodeLocked {
				if resetErr := stmt.Reset(); resetErr != nil {
					e.log.Debug("statement reset failed", slog.Any("err", resetErr))
				}
			}
			return err
		}
		code = c
		return nil
	}, IsContention)

	var exceeded *retry.RetriesExceededError
	if errors.As(err, &exceeded) {
		e.log.Warn("step timeout",
			slog.Int("attempts", exceeded.Attempts),
			slog.String("code", CodeOf(err).String()))
	}
	if retries > 2 {
		e.log.Warn("step retried under contention", slog.Int("retries", retries))
	}

	if err != nil {
		code = CodeOf(err)
		if code == CodeMisuse {
			e.log.Error("engine misuse: statement stepped outside its protocol", slog.Any("err", err))
		}
		return code, err
	}
	return code, nil
}

// Cursor - выполняемое выражение, стоящее на строке (CodeRow) или завершённое (CodeDone).
type Cursor struct {
	exec   *Executor
	stmt   Stmt
	code   Code
	closed bool
}

// Code возвращает последний код шага.
func (c *Cursor) Code() Code {
	return c.code
}

// HasRow сообщает, доступна ли текущая строка.
func (c *Cursor) HasRow() bool {
	return c.code == CodeRow
}

// Next переходит к следующей строке с той же дисциплиной повторов, что и Execute.
// После CodeDone вызов ничего не делает.
func (c *Cursor) Next(ctx context.Context) error {
	if c.closed {
		c.code = CodeMisuse
		err := newEngineError(CodeMisuse, "next on closed cursor")
		c.exec.log.Error("engine misuse: statement stepped outside its protocol", slog.Any("err", err))
		return err
	}
	if c.code != CodeRow {
		return nil
	}
	code, err := c.exec.step(ctx, c.stmt)
	c.code = code
	return err
}

// Columns возвращает число колонок текущей строки.
func (c *Cursor) Columns() int {
	return c.stmt.ColumnCount()
}

// Text возвращает текст колонки i текущей строки.
func (c *Cursor) Text(i int) string {
	return c.stmt.ColumnText(i)
}

// Close освобождает выражение. Повторный вызов ничего не делает.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stmt.Finalize()
}
