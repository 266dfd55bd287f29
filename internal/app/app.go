package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"userstore/internal/config"
	"userstore/internal/platform/logger"
	"userstore/internal/platform/scheduler"
	"userstore/internal/platform/sqlite"
	"userstore/internal/shared"
	"userstore/internal/userdb"
	"userstore/pkg/queue"
	"userstore/pkg/retry"
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "userstore",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run prepares the store and drives the concurrent demo workers until they
// finish or the process is interrupted.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info("starting", slog.String("db", a.cfg.DB.Path), slog.Int("workers", a.cfg.Demo.Workers))

	if err := a.prepare(ctx); err != nil {
		return err
	}

	stopMaintenance, err := a.maintain(ctx)
	if err != nil {
		return err
	}
	defer stopMaintenance()

	g, ctx := errgroup.WithContext(ctx)
	for w := range a.cfg.Demo.Workers {
		name := fmt.Sprintf("worker%d-", w)
		g.Go(func() error {
			return a.work(ctx, name)
		})
	}
	if err := g.Wait(); err != nil {
		a.log.Error("demo failed", slog.Any("err", err))
		return err
	}

	a.log.Info("done")
	return nil
}

func (a *App) options() []userdb.Option {
	dbOpts := sqlite.DefaultDBOptions()
	dbOpts.WALMode = a.cfg.DB.WAL
	return []userdb.Option{
		userdb.WithLogger(a.log),
		userdb.WithDBOptions(dbOpts),
		userdb.WithRetry(retry.Config{
			MaxAttempts: a.cfg.DB.Retry.Attempts,
			Interval:    a.cfg.DB.Retry.Interval,
		}),
	}
}

// prepare creates the schema once. Storage that already holds data is reused.
func (a *App) prepare(ctx context.Context) error {
	db, err := userdb.Open(ctx, a.cfg.DB.Path, a.options()...)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if a.cfg.DB.Migrations != "" {
		version, err := db.Migrate(ctx, a.cfg.DB.Migrations)
		switch {
		case err == nil:
			a.log.Info("migrations applied", slog.Uint64("version", uint64(version)))
		case shared.IsAlreadyExists(err):
			a.log.Info("storage already initialized", slog.Uint64("version", uint64(version)))
		default:
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	}

	err = db.BuildSchema(ctx, a.cfg.DB.Schema)
	switch {
	case err == nil:
		a.log.Info("schema built", slog.String("schema", a.cfg.DB.Schema))
	case shared.IsAlreadyExists(err):
		a.log.Info("storage already initialized")
	default:
		return fmt.Errorf("build schema: %w", err)
	}
	return nil
}

// maintain schedules WAL checkpoints on a dedicated connection while the
// workers run. The returned func stops the job and closes the connection.
func (a *App) maintain(ctx context.Context) (func(), error) {
	if a.cfg.DB.Maintenance == "" {
		return func() {}, nil
	}

	db, err := userdb.Open(ctx, a.cfg.DB.Path, a.options()...)
	if err != nil {
		return nil, err
	}

	s := scheduler.New(ctx, a.log)
	_, err = s.Add("checkpoint", a.cfg.DB.Maintenance, 10*time.Second, func(ctx context.Context) error {
		res, err := db.Checkpoint(ctx)
		if err != nil {
			return err
		}
		size, err := db.StorageSize()
		if err != nil {
			return err
		}
		a.log.Info("checkpoint",
			slog.Bool("busy", res.Busy),
			slog.Int("checkpointed", res.Checkpointed),
			slog.Int64("size", size))
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.Start()
	return func() {
		s.Stop()
		_ = db.Close()
	}, nil
}

// work adds the worker's records through its own connection and lists the store.
func (a *App) work(ctx context.Context, name string) error {
	log := a.log.With(slog.String("worker", name))

	db, err := userdb.Open(ctx, a.cfg.DB.Path, a.options()...)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	added, existing := 0, 0
	for i := range a.cfg.Demo.Records {
		err := db.AddUser(ctx, fmt.Sprintf("%s%d", name, i), []byte("pass"), "e@mail.com")
		switch {
		case err == nil:
			added++
		case shared.IsAlreadyExists(err):
			existing++
		default:
			return fmt.Errorf("%s add user %d: %w", name, i, err)
		}
	}

	users := queue.New[*userdb.User]()
	defer users.Destroy()
	if err := db.ListUsers(ctx, users); err != nil {
		return fmt.Errorf("%s list users: %w", name, err)
	}

	listed := 0
	for u := range users.Drain() {
		log.Debug("user", slog.String("user", u.Name), slog.String("mail", u.Mail))
		u.Free()
		listed++
	}
	log.Info("worker finished",
		slog.Int("added", added),
		slog.Int("existing", existing),
		slog.Int("listed", listed))
	return nil
}
