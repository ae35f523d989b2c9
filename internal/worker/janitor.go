package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/queue"
	"github.com/notifyhub/event-notification-service/internal/repository"
)

const (
	statsSchedule = "@every 15s"
	// reconcileBatch bounds how many failed jobs one sweep re-checks.
	reconcileBatch = 500
)

// Janitor runs the housekeeping jobs on a cron schedule: queue retention,
// delivery-log retention, and the queue gauges. Each sweep also replays
// reconcile over the newest failed jobs, which repairs events left PENDING
// when a process died between parking a job and marking its event.
type Janitor struct {
	q         queue.Queue
	logs      repository.DeliveryLogRepository
	retention time.Duration
	schedule  string
	reconcile ExhaustedFunc
	onStats   func(queue.Stats)
	clock     func() time.Time
	logger    *zap.Logger
}

// NewJanitor validates schedule up front so a typo fails at startup.
func NewJanitor(
	q queue.Queue,
	logs repository.DeliveryLogRepository,
	retention time.Duration,
	schedule string,
	reconcile ExhaustedFunc,
	onStats func(queue.Stats),
	logger *zap.Logger,
) (*Janitor, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", schedule, err)
	}
	if reconcile == nil {
		reconcile = func(context.Context, *queue.Job, error) {}
	}
	if onStats == nil {
		onStats = func(queue.Stats) {}
	}
	return &Janitor{
		q: q, logs: logs, retention: retention, schedule: schedule,
		reconcile: reconcile, onStats: onStats, clock: time.Now, logger: logger,
	}, nil
}

// Run blocks until ctx is cancelled, then waits for a running job to finish.
func (j *Janitor) Run(ctx context.Context) {
	c := cron.New()
	// Both specs were validated already.
	_, _ = c.AddFunc(j.schedule, func() { j.Sweep(ctx) })
	_, _ = c.AddFunc(statsSchedule, func() { j.RefreshStats(ctx) })

	j.logger.Info("janitor started", zap.String("schedule", j.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("janitor stopping")
}

// Sweep reconciles failed jobs, applies queue retention, and purges delivery
// logs older than the retention period.
func (j *Janitor) Sweep(ctx context.Context) {
	// Before Clean, so a job is re-checked at least once before it is dropped.
	failed, err := j.q.Failed(ctx, reconcileBatch)
	if err != nil {
		j.logger.Error("list failed jobs", zap.Error(err))
	}
	for _, job := range failed {
		j.reconcile(ctx, job, errors.New(job.LastError))
	}

	removed, err := j.q.Clean(ctx)
	if err != nil {
		j.logger.Error("queue clean failed", zap.Error(err))
	} else if removed > 0 {
		j.logger.Info("removed finished jobs", zap.Int("count", removed))
	}

	if j.retention <= 0 {
		return
	}
	purged, err := j.logs.PurgeOlderThan(ctx, j.clock().Add(-j.retention))
	if err != nil {
		j.logger.Error("delivery log purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		j.logger.Info("purged delivery logs", zap.Int64("count", purged))
	}
}

// RefreshStats publishes a queue snapshot through onStats.
func (j *Janitor) RefreshStats(ctx context.Context) {
	s, err := j.q.Stats(ctx)
	if err != nil {
		j.logger.Warn("queue stats failed", zap.Error(err))
		return
	}
	j.onStats(s)
}
