package sqlite

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"userstore/pkg/retry"
)

// FastRetryPolicy - политика повторов для тестов: много попыток без заметных пауз.
func FastRetryPolicy() retry.Config {
	return retry.Config{MaxAttempts: 1000, Interval: time.Millisecond}
}

// TestConn представляет тестовую файловую базу с исполнителем.
type TestConn struct {
	Conn *Conn
	Exec *Executor
	Path string
}

// NewTestConn создаёт файловую SQLite базу во временном каталоге теста.
// Соединение автоматически закрывается после завершения теста.
func NewTestConn(t *testing.T) *TestConn {
	t.Helper()
	return OpenTestConn(t, filepath.Join(t.TempDir(), "test.db"), FastRetryPolicy())
}

// OpenTestConn открывает ещё одно соединение с существующим файлом.
func OpenTestConn(t *testing.T, path string, policy retry.Config) *TestConn {
	t.Helper()

	opts := DefaultDBOptions()
	opts.Retry = policy
	conn, err := OpenConn(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return &TestConn{
		Conn: conn,
		Exec: NewExecutor(conn, policy, slog.New(slog.DiscardHandler)),
		Path: path,
	}
}

// MustExec выполняет скрипт и падает при ошибке.
func (tc *TestConn) MustExec(t *testing.T, script string) {
	t.Helper()

	if err := tc.Conn.Exec(context.Background(), script); err != nil {
		t.Fatalf("Failed to execute %q: %v", script, err)
	}
}

// CountRows возвращает количество строк в таблице.
func (tc *TestConn) CountRows(t *testing.T, tableName string) int {
	t.Helper()

	cur, err := tc.Exec.Execute(context.Background(), MustQuery("SELECT COUNT(*) FROM "+tableName))
	if err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	defer func() { _ = cur.Close() }()

	n, err := strconv.Atoi(cur.Text(0))
	if err != nil {
		t.Fatalf("Failed to parse row count %q: %v", cur.Text(0), err)
	}
	return n
}

// TableExists проверяет существование таблицы.
func (tc *TestConn) TableExists(t *testing.T, tableName string) bool {
	t.Helper()

	q := MustQuery("SELECT name FROM sqlite_master WHERE type='table' AND name='%s'", Escape(tableName))
	cur, err := tc.Exec.Execute(context.Background(), q)
	if err != nil {
		t.Fatalf("Failed to check table existence: %v", err)
	}
	defer func() { _ = cur.Close() }()
	return cur.HasRow()
}

// HoldExclusiveLock открывает отдельное соединение с path и держит
// EXCLUSIVE транзакцию, пока не будет вызвана возвращённая функция.
// Имитирует конкурирующий процесс. release можно вызывать из другой горутины.
func HoldExclusiveLock(t *testing.T, path string) (release func()) {
	t.Helper()

	holder := OpenTestConn(t, path, FastRetryPolicy())
	holder.MustExec(t, "BEGIN EXCLUSIVE")

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := holder.Conn.Exec(context.Background(), "COMMIT"); err != nil {
				t.Errorf("Failed to release exclusive lock: %v", err)
			}
		})
	}
}
