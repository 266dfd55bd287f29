package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"userstore/pkg/queue"
)

// Stream выполняет выборку и кладёт каждую строку в dst.
// scan превращает текущую строку курсора в новую запись, которой владеет Stream:
// после Push (очередь хранит свою копию) запись освобождается.
//
// Если Push не удался, выражение освобождается и ошибка возвращается сразу;
// уже помещённые в очередь записи остаются там и корректны.
// Выборка обязана завершиться с CodeDone, иной терминальный код - ошибка.
func Stream[T queue.Element[T]](ctx context.Context, exec *Executor, q Query, dst *queue.Queue[T], scan func(*Cursor) T) error {
	cur, err := exec.Execute(ctx, q)
	if err != nil {
		return err
	}
	defer func() { _ = cur.Close() }()

	for cur.HasRow() {
		rec := scan(cur)
		err := dst.Push(rec)
		rec.Free()
		if err != nil {
			exec.Logger().Debug("stream push failed", slog.Any("err", err))
			return fmt.Errorf("stream: push row: %w", err)
		}

		if err := cur.Next(ctx); err != nil {
			return fmt.Errorf("stream: next row: %w", err)
		}
	}

	if code := cur.Code(); code != CodeDone {
		exec.Logger().Debug("stream ended unexpectedly", slog.String("code", code.String()))
		return newEngineError(code, "stream: statement ended with %s", code)
	}
	return nil
}
