package sqlite

import (
	"context"
	"fmt"
	"log/slog"
)

// WithinTx выполняет fn внутри транзакции, открытой вручную через
// BEGIN <mode> на соединении исполнителя.
// Если fn возвращает ошибку или паникует, транзакция откатывается, иначе коммитится.
// BEGIN и COMMIT проходят через Executor, поэтому конкуренция за блокировку
// обрабатывается той же политикой повторов.
// Вложенные транзакции SQLite не поддерживает.
func WithinTx(ctx context.Context, exec *Executor, mode TxLockMode, fn func(ctx context.Context) error) error {
	if mode == "" {
		mode = TxLockDeferred
	}

	begin, err := NewQuery(fmt.Sprintf("BEGIN %s", mode))
	if err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, begin); err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", mode, err)
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, exec)
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		rollback(ctx, exec)
		return err
	}

	if _, err := exec.Exec(ctx, MustQuery("COMMIT")); err != nil {
		rollback(ctx, exec)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rollback откатывает транзакцию даже если ctx уже отменён.
func rollback(ctx context.Context, exec *Executor) {
	if _, err := exec.Exec(context.WithoutCancel(ctx), MustQuery("ROLLBACK")); err != nil {
		exec.Logger().Warn("rollback failed", slog.Any("err", err))
	}
}
