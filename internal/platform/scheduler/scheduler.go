// Package scheduler runs periodic background jobs on cron schedules
// (github.com/robfig/cron/v3) with slog logging.
//
// Jobs never overlap with themselves: a run that is still in progress when
// the next tick arrives causes that tick to be skipped. Errors and panics are
// logged and never stop the scheduler.
//
//	s := scheduler.New(ctx, logger)
//	_, err := s.Add("checkpoint", "@every 30s", 10*time.Second, func(ctx context.Context) error {
//		return nil
//	})
//	s.Start()
//	defer s.Stop()
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// JobID представляет идентификатор задачи.
type JobID = cron.EntryID

// Scheduler управляет периодическими задачами.
type Scheduler struct {
	cron      *cron.Cron
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает планировщик, задачи которого получают контекст, производный от parent.
// Расписания принимают поле секунд ("*/5 * * * * *") и дескрипторы вида "@every 1s".
func New(parent context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(parent)
	clog := cronLogger{logger: logger.With(slog.String("component", "cron"))}

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(clog),
			cron.WithChain(cron.SkipIfStillRunning(clog), cron.Recover(clog)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add регистрирует задачу name по расписанию schedule.
// timeout ограничивает одно выполнение; 0 - без ограничения.
func (s *Scheduler) Add(name, schedule string, timeout time.Duration, job JobFunc) (JobID, error) {
	id, err := s.cron.AddFunc(schedule, func() {
		s.run(name, timeout, job)
	})
	if err != nil {
		return 0, fmt.Errorf("scheduler: add %s %q: %w", name, schedule, err)
	}
	s.logger.Info("cron job added", slog.String("name", name), slog.String("schedule", schedule))
	return id, nil
}

// Start запускает планировщик. Повторный вызов ничего не делает.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.cron.Start()
	})
}

// Stop отменяет контекст задач и ждет завершения текущих выполнений.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	})
}

func (s *Scheduler) run(name string, timeout time.Duration, job JobFunc) {
	if s.ctx.Err() != nil {
		return
	}

	ctx := s.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed", slog.String("name", name), slog.Any("err", err), slog.Duration("duration", time.Since(start)))
		return
	}
	s.logger.Debug("job completed", slog.String("name", name), slog.Duration("duration", time.Since(start)))
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("err", err)}, keysAndValues...)...)
}
