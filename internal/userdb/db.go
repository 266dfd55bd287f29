// Package userdb stores user accounts in an embedded SQLite file shared by
// independent connections and processes.
//
// Every operation returns nil on success or an error classified by
// shared.KindOf: InvalidArgument, AlreadyExists or Internal.
package userdb

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"userstore/internal/platform/sqlite"
	"userstore/internal/shared"
	"userstore/pkg/queue"
	"userstore/pkg/retry"
)

const (
	insertUser = "INSERT INTO users VALUES (NULL, '%s', ?, '%s')"
	selectUser = "SELECT user, password, email FROM users ORDER BY id"
)

// DB is one connection to the user store. It is not safe for concurrent use;
// open one DB per goroutine or process.
type DB struct {
	conn *sqlite.Conn
	exec *sqlite.Executor
	path string
	wal  bool
	log  *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	log    *slog.Logger
	retry  retry.Config
	dbOpts sqlite.DBOptions
}

// WithLogger sets the diagnostic sink. A nil logger discards diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithRetry overrides the contention retry policy.
func WithRetry(c retry.Config) Option {
	return func(o *options) {
		o.retry = c
	}
}

// WithDBOptions overrides the engine connection options.
func WithDBOptions(opts sqlite.DBOptions) Option {
	return func(o *options) {
		o.dbOpts = opts
	}
}

// Open opens or creates the store at path.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	o := options{
		retry:  retry.DefaultConfig(),
		dbOpts: sqlite.DefaultDBOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}

	if path == "" {
		return nil, shared.InvalidArgumentf("userdb: empty database path")
	}
	if err := o.retry.Normalize(); err != nil {
		return nil, shared.MarkKind(err, shared.KindInvalidArgument)
	}
	o.dbOpts.Retry = o.retry

	conn, err := sqlite.OpenConn(ctx, path, o.dbOpts)
	if err != nil {
		o.log.Error("open failed", slog.String("op", "open"), slog.String("path", path), slog.Any("err", err))
		return nil, shared.MarkKind(err, shared.KindInternal)
	}

	log := o.log.With(slog.String("db", path))
	return &DB{
		conn: conn,
		exec: sqlite.NewExecutor(conn, o.retry, log),
		path: path,
		wal:  o.dbOpts.WALMode,
		log:  log,
	}, nil
}

// Path returns the backing file path.
func (db *DB) Path() string {
	return db.path
}

// Close releases the connection. Closing a nil or closed DB is a no-op.
func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return shared.MarkKind(err, shared.KindInternal)
	}
	return nil
}

// BuildSchema applies the schema file to an empty store.
// A store that already holds data yields AlreadyExists and is left untouched;
// a missing schema file yields InvalidArgument.
func (db *DB) BuildSchema(ctx context.Context, schemaPath string) error {
	if err := db.ready(); err != nil {
		return err
	}
	if schemaPath == "" {
		return shared.InvalidArgumentf("userdb: empty schema path")
	}

	err := sqlite.BuildSchema(ctx, db.exec, db.path, schemaPath)
	switch {
	case err == nil:
		if db.wal {
			if err := db.conn.EnableWAL(ctx); err != nil {
				return db.fail("enable wal", err)
			}
		}
		return nil
	case errors.Is(err, sqlite.ErrStorageNotEmpty):
		return shared.MarkKind(err, shared.KindAlreadyExists)
	case errors.Is(err, fs.ErrNotExist):
		return shared.MarkKind(err, shared.KindInvalidArgument)
	default:
		return db.fail("build schema", err)
	}
}

// Migrate applies the versioned migrations found at source (a directory or a
// source URL such as "file://migrations/sqlite") and returns the schema version.
// Storage that is already up to date, or that holds data created without
// migrations, yields AlreadyExists and is left untouched.
func (db *DB) Migrate(ctx context.Context, source string) (uint, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	if source == "" {
		return 0, shared.InvalidArgumentf("userdb: empty migrations source")
	}
	if !strings.Contains(source, "://") {
		source = "file://" + filepath.ToSlash(source)
	}

	version, err := sqlite.ApplyMigrations(ctx, db.path, source, db.exec.Policy())
	switch {
	case err == nil:
		if db.wal {
			if err := db.conn.EnableWAL(ctx); err != nil {
				return version, db.fail("enable wal", err)
			}
		}
		return version, nil
	case errors.Is(err, sqlite.ErrStorageNotEmpty):
		return version, shared.MarkKind(err, shared.KindAlreadyExists)
	default:
		return 0, db.fail("migrate", err)
	}
}

// AddUser inserts one account as given. A duplicate name yields AlreadyExists.
// Fields are bounded only when read back by ListUsers.
func (db *DB) AddUser(ctx context.Context, name string, secret []byte, mail string) error {
	if err := db.ready(); err != nil {
		return err
	}
	if name == "" || len(secret) == 0 || mail == "" {
		return shared.InvalidArgumentf("userdb: name, secret and mail are required")
	}
	return db.insert(ctx, name, secret, mail)
}

// AddUsers inserts every account inside one IMMEDIATE transaction:
// either all rows are stored or none.
func (db *DB) AddUsers(ctx context.Context, users []*User) error {
	if err := db.ready(); err != nil {
		return err
	}
	for _, u := range users {
		if u == nil || u.Name == "" || len(u.Secret) == 0 || u.Mail == "" {
			return shared.InvalidArgumentf("userdb: name, secret and mail are required")
		}
	}

	err := sqlite.WithinTx(ctx, db.exec, sqlite.TxLockImmediate, func(ctx context.Context) error {
		for _, u := range users {
			if err := db.insert(ctx, u.Name, u.Secret, u.Mail); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && shared.KindOf(err) == shared.KindUnknown {
		return db.fail("add users", err)
	}
	return err
}

// ListUsers appends every stored account to dst in insertion order.
// Rows pushed before a failure stay in dst and are valid.
func (db *DB) ListUsers(ctx context.Context, dst *queue.Queue[*User]) error {
	if err := db.ready(); err != nil {
		return err
	}
	if dst == nil {
		return shared.InvalidArgumentf("userdb: nil destination queue")
	}

	err := sqlite.Stream(ctx, db.exec, sqlite.MustQuery(selectUser), dst, func(c *sqlite.Cursor) *User {
		return NewUser(c.Text(0), []byte(c.Text(1)), c.Text(2))
	})
	if err != nil {
		return db.fail("list users", err)
	}
	return nil
}

func (db *DB) insert(ctx context.Context, name string, secret []byte, mail string) error {
	q, err := sqlite.NewQuery(insertUser, sqlite.Escape(name), sqlite.Escape(mail))
	if err != nil {
		return db.fail("add user", err)
	}

	code, err := db.exec.Exec(ctx, q.WithBlob(1, secret))
	switch {
	case err == nil && code == sqlite.CodeDone:
		return nil
	case code == sqlite.CodeConstraint:
		db.log.Info("user already exists", slog.String("op", "add user"), slog.String("user", name))
		return shared.MarkKind(err, shared.KindAlreadyExists)
	case err == nil:
		return db.fail("add user", errors.New("userdb: insert ended with "+code.String()))
	default:
		return db.fail("add user", err)
	}
}

func (db *DB) ready() error {
	if db == nil || db.conn == nil {
		return shared.InvalidArgumentf("userdb: connection is closed")
	}
	return nil
}

// fail classifies err as Internal unless it is a cancellation.
func (db *DB) fail(op string, err error) error {
	if shared.IsCanceled(err) {
		return err
	}
	db.log.Error("operation failed",
		slog.String("op", op),
		slog.String("code", sqlite.CodeOf(err).String()),
		slog.Any("err", err))
	return shared.MarkKind(err, shared.KindInternal)
}
