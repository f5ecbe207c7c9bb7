package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CachePurger удаляет прогнозы, рассчитанные в прошлые дни.
type CachePurger interface {
	PurgeStale(ctx context.Context, today time.Time) (int64, error)
}

// PurgeJob очищает кэш прогнозов после смены даты.
type PurgeJob struct {
	purger  CachePurger
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewPurgeJob создает задачу очистки кэша.
func NewPurgeJob(purger CachePurger, logger *slog.Logger, timeout time.Duration) *PurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeJob{purger: purger, logger: logger, timeout: timeout, now: time.Now}
}

// Run реализует cron.Job.
func (j *PurgeJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	started := j.now()
	deleted, err := j.purger.PurgeStale(ctx, started.UTC())
	if err != nil {
		j.logger.Error("forecast cache purge failed", slog.Any("error", err))
		return
	}

	j.logger.Info("forecast cache purged",
		slog.Int64("deleted", deleted),
		slog.Duration("took", time.Since(started)),
	)
}

// Scheduler запускает фоновые задачи сервиса по расписанию в UTC.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler создает планировщик.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger,
	}
}

// Add регистрирует задачу по стандартному cron-выражению из пяти полей.
func (s *Scheduler) Add(name, expr string, job cron.Job) error {
	id, err := s.cron.AddJob(expr, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}

	s.logger.Info("job scheduled", slog.String("job", name), slog.String("schedule", expr), slog.Int("id", int(id)))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop останавливает планировщик и ждет завершения выполняющихся задач.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries возвращает число зарегистрированных задач.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
