package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"userstore/pkg/retry"
)

// migrationsTable - таблица версий golang-migrate.
const migrationsTable = "schema_migrations"

// BuildMigrateURL возвращает URL базы dbPath для драйвера golang-migrate:
// "sqlite:///abs/path" на Unix и "sqlite:///C:/abs/path" на Windows.
func BuildMigrateURL(dbPath string) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "sqlite", Path: p}).String(), nil
}

// ApplyMigrations применяет версионированные миграции из sourceURL
// (например "file://migrations/sqlite") к базе dbPath и возвращает версию схемы.
//
// Правила те же, что у BuildSchema: работа идёт под блокировкой dbPath+".lock",
// BUSY/LOCKED повторяются по policy, непустая база без таблицы версий
// не трогается и даёт ErrStorageNotEmpty. Если новых миграций нет,
// возвращается текущая версия и ErrStorageNotEmpty.
func ApplyMigrations(ctx context.Context, dbPath, sourceURL string, policy retry.Config) (uint, error) {
	unlock, err := lockSchema(ctx, dbPath)
	if err != nil {
		return 0, err
	}
	defer unlock()

	size, err := StorageSize(dbPath)
	if err != nil {
		return 0, err
	}
	if size > 0 {
		versioned, err := hasMigrationsTable(ctx, dbPath, policy)
		if err != nil {
			return 0, err
		}
		if !versioned {
			return 0, ErrStorageNotEmpty
		}
	}

	databaseURL, err := BuildMigrateURL(dbPath)
	if err != nil {
		return 0, fmt.Errorf("failed to build database URL: %w", err)
	}

	var (
		version uint
		changed bool
	)
	err = retry.DoWithRetryable(ctx, policy, func(context.Context) error {
		v, c, err := migrateUp(sourceURL, databaseURL)
		version, changed = v, c
		return err
	}, isMigrateContention)
	if err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if !changed {
		return version, ErrStorageNotEmpty
	}
	return version, nil
}

// migrateUp выполняет одну попытку применения.
// Миграция, прерванная блокировкой, откатывается своей транзакцией, но версия
// остаётся помеченной dirty; она возвращается к предыдущей, чтобы следующая
// попытка начала с того же места.
func migrateUp(sourceURL, databaseURL string) (uint, bool, error) {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		_, _ = m.Close()
	}()

	changed := true
	if err := m.Up(); err != nil {
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			changed = false
		case isMigrateContention(err):
			if rerr := restoreClean(m, sourceURL); rerr != nil {
				return 0, false, fmt.Errorf("restore version after %v: %w", err, rerr)
			}
			return 0, false, err
		default:
			return 0, false, err
		}
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, changed, nil
	case err != nil:
		return 0, false, err
	case dirty:
		return version, false, fmt.Errorf("migration %d is dirty", version)
	}
	return version, changed, nil
}

func restoreClean(m *migrate.Migrate, sourceURL string) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) || (err == nil && !dirty) {
		return nil
	}
	if err != nil {
		return err
	}

	src, err := source.Open(sourceURL)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	prev, err := src.Prev(version)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m.Force(database.NilVersion)
	case err != nil:
		return err
	}
	return m.Force(int(prev))
}

// isMigrateContention распознаёт BUSY/LOCKED и в ошибках драйвера golang-migrate,
// который оборачивает ошибку движка в database.Error без Unwrap.
func isMigrateContention(err error) bool {
	if IsContention(err) {
		return true
	}
	var dbErr *database.Error
	if errors.As(err, &dbErr) {
		return IsContention(dbErr.OrigErr)
	}
	return false
}

func hasMigrationsTable(ctx context.Context, dbPath string, policy retry.Config) (bool, error) {
	opts := DefaultDBOptions()
	opts.Retry = policy
	conn, err := OpenConn(ctx, dbPath, opts)
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	q := MustQuery("SELECT name FROM sqlite_master WHERE type = 'table' AND name = '%s'", Escape(migrationsTable))
	cur, err := NewExecutor(conn, policy, nil).Execute(ctx, q)
	if err != nil {
		return false, err
	}
	defer func() { _ = cur.Close() }()
	return cur.HasRow(), nil
}
