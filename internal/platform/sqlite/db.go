package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер

	"userstore/pkg/retry"
)

// TxLockMode определяет режим блокировки транзакций SQLite
type TxLockMode string

const (
	// TxLockDeferred - откладывает блокировку до первого чтения/записи (по умолчанию SQLite)
	TxLockDeferred TxLockMode = "DEFERRED"
	// TxLockImmediate - немедленно захватывает RESERVED блокировку
	TxLockImmediate TxLockMode = "IMMEDIATE"
	// TxLockExclusive - немедленно захватывает EXCLUSIVE блокировку
	TxLockExclusive TxLockMode = "EXCLUSIVE"
)

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWrite - режим чтения и записи (по умолчанию)
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - режим только для чтения
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate - режим чтения/записи с созданием файла если не существует
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// DBOptions содержит настройки подключения к SQLite.
type DBOptions struct {
	// PingTimeout - таймаут для проверки соединения при открытии
	PingTimeout time.Duration
	// WALMode - использовать ли WAL режим журнала.
	// Для пустого файла включение откладывается до Conn.EnableWAL.
	WALMode bool
	// ForeignKeys - включить ли проверку внешних ключей
	ForeignKeys bool
	// BusyTimeout - время, которое сам движок ждёт снятия блокировки.
	// По умолчанию 0: SQLITE_BUSY сразу возвращается в Executor,
	// где конкуренция обрабатывается ограниченным числом повторов.
	BusyTimeout time.Duration
	// AccessMode - режим доступа к базе данных
	AccessMode AccessMode
	// Retry - политика повторов при BUSY/LOCKED во время подключения
	// и смены режима журнала. Нулевое значение означает retry.DefaultConfig().
	Retry retry.Config
}

// DefaultDBOptions возвращает настройки по умолчанию.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		PingTimeout: 5 * time.Second,
		WALMode:     false, // классический журнал: блокировки видны всем процессам одинаково
		ForeignKeys: true,
		BusyTimeout: 0,
		AccessMode:  AccessModeReadWrite,
		Retry:       retry.DefaultConfig(),
	}
}

// Conn владеет одним соединением с движком SQLite и путём к файлу базы.
// Все подготовленные выражения выполняются на этом соединении, поэтому
// ручные BEGIN/COMMIT из WithinTx видны последующим запросам.
// Conn не предназначен для одновременного использования из нескольких горутин.
type Conn struct {
	db    *sql.DB
	conn  *sql.Conn
	path  string
	retry retry.Config
}

var _ Engine = (*Conn)(nil)

// OpenConn открывает (или создаёт) файл базы и закрепляет за собой одно соединение.
func OpenConn(ctx context.Context, dbPath string, opts DBOptions) (*Conn, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite: empty database path")
	}

	// Создаем директорию для БД если её нет
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", buildDSN(dbPath, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Одно соединение: Conn - единственный владелец дескриптора движка
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = DefaultDBOptions().PingTimeout
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultConfig()
	}

	// Чужая блокировка файла при подключении - та же конкуренция, что и при запросах
	var conn *sql.Conn
	err = retry.DoWithRetryable(ctx, policy, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		c, err := db.Conn(pingCtx)
		if err != nil {
			return fmt.Errorf("failed to connect to sqlite database: %w", err)
		}
		if err := c.PingContext(pingCtx); err != nil {
			_ = c.Close()
			return fmt.Errorf("failed to ping sqlite database: %w", err)
		}
		conn = c
		return nil
	}, IsContention)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	// Пустой файл остаётся пустым: WAL включится после создания схемы,
	// иначе заголовок журнала сделает базу "непустой" для BuildSchema
	size, err := StorageSize(dbPath)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	if opts.WALMode && size > 0 {
		if err := enableWAL(ctx, conn, policy); err != nil {
			_ = conn.Close()
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
		}
	}

	return &Conn{db: db, conn: conn, path: dbPath, retry: policy}, nil
}

// EnableWAL переводит базу в режим WAL. Режим сохраняется в файле,
// поэтому достаточно вызвать один раз после создания схемы.
func (c *Conn) EnableWAL(ctx context.Context) error {
	if c.conn == nil {
		return newEngineError(CodeMisuse, "pragma on closed connection")
	}
	return enableWAL(ctx, c.conn, c.retry)
}

// Path возвращает путь к файлу базы.
func (c *Conn) Path() string {
	return c.path
}

// Close освобождает соединение. Повторный вызов ничего не делает.
func (c *Conn) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	connErr := c.conn.Close()
	dbErr := c.db.Close()
	c.conn = nil
	c.db = nil
	return errors.Join(connErr, dbErr)
}

// Prepare реализует Engine.
func (c *Conn) Prepare(ctx context.Context, query string) (Stmt, error) {
	if c.conn == nil {
		return nil, newEngineError(CodeMisuse, "prepare on closed connection")
	}
	st, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return newSQLStmt(st, returnsRows(query)), nil
}

// Exec реализует Engine. Строка может содержать несколько выражений.
func (c *Conn) Exec(ctx context.Context, script string) error {
	if c.conn == nil {
		return newEngineError(CodeMisuse, "exec on closed connection")
	}
	_, err := c.conn.ExecContext(ctx, script)
	return err
}

// StorageSize возвращает размер файла базы вместе с WAL-журналом.
// Отсутствующий файл имеет размер 0.
func StorageSize(dbPath string) (int64, error) {
	if dbPath == "" || dbPath == ":memory:" {
		return 0, nil
	}
	var total int64
	for _, p := range []string{dbPath, dbPath + "-wal"} {
		st, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		total += st.Size()
	}
	return total, nil
}

// buildDSN строит DSN строку для драйвера modernc.org/sqlite.
// busy_timeout передаётся всегда, чтобы нулевое значение явно отключало
// ожидание внутри движка.
func buildDSN(dbPath string, opts DBOptions) string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", opts.BusyTimeout.Milliseconds()),
	}

	if opts.ForeignKeys {
		params = append(params, "_pragma=foreign_keys(1)")
	}

	// mode= понимается только в URI-форме имени файла
	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite && dbPath != ":memory:" {
		params = append(params, fmt.Sprintf("mode=%s", opts.AccessMode))
		return "file:" + dbPath + "?" + strings.Join(params, "&")
	}

	return dbPath + "?" + strings.Join(params, "&")
}

// enableWAL применяет PRAGMA настройки журнала, которые нельзя передать через DSN.
// Смена режима журнала требует блокировки файла, поэтому BUSY/LOCKED повторяются.
func enableWAL(ctx context.Context, conn *sql.Conn, policy retry.Config) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		err := retry.DoWithRetryable(ctx, policy, func(ctx context.Context) error {
			_, err := conn.ExecContext(ctx, pragma)
			return err
		}, IsContention)
		if err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
