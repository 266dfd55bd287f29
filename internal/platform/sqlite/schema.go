package sqlite

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrStorageNotEmpty - файл базы уже содержит данные, схема не применяется повторно.
var ErrStorageNotEmpty = errors.New("sqlite: storage is not empty")

// schemaLockRetry - пауза между попытками захватить файловую блокировку схемы.
const schemaLockRetry = 10 * time.Millisecond

// BuildSchema применяет файл схемы к пустой базе dbPath.
//
// Файл читается построчно; строки накапливаются, пока не встретится строка
// с ';', после чего накопленный текст выполняется целиком. Хвост без ';'
// не выполняется.
//
// Если база уже не пуста, возвращается ErrStorageNotEmpty и данные не трогаются.
// Проверка размера и применение схемы выполняются под межпроцессной
// блокировкой файла dbPath+".lock".
func BuildSchema(ctx context.Context, exec *Executor, dbPath, schemaPath string) error {
	unlock, err := lockSchema(ctx, dbPath)
	if err != nil {
		return err
	}
	defer unlock()

	size, err := StorageSize(dbPath)
	if err != nil {
		return err
	}
	if size > 0 {
		return ErrStorageNotEmpty
	}

	f, err := os.Open(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to open schema: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		batch      strings.Builder
		statements int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		batch.WriteString(line)
		batch.WriteByte('\n')

		if !strings.Contains(line, ";") {
			continue
		}
		if err := exec.ExecScript(ctx, batch.String()); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", statements+1, err)
		}
		statements++
		batch.Reset()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if tail := strings.TrimSpace(batch.String()); tail != "" {
		exec.Logger().Warn("schema tail without terminator ignored", slog.String("schema", schemaPath))
	}
	exec.Logger().Debug("schema applied", slog.String("schema", schemaPath), slog.Int("statements", statements))
	return nil
}

// lockSchema захватывает межпроцессную блокировку dbPath+".lock",
// общую для BuildSchema и ApplyMigrations.
func lockSchema(ctx context.Context, dbPath string) (unlock func(), err error) {
	if dbPath == ":memory:" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", dbPath, err)
	}

	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLockContext(ctx, schemaLockRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to lock schema build: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock schema build: %s", lock.Path())
	}
	return func() { _ = lock.Unlock() }, nil
}
