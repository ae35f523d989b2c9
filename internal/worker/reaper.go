package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/event-notification-service/internal/queue"
)

// Reaper periodically fails jobs whose lease ran out, which happens when a
// worker process dies mid-attempt. The queue then reschedules them like any
// other failed attempt, so a crash costs one attempt and nothing more.
type Reaper struct {
	q           queue.Queue
	interval    time.Duration
	onExhausted ExhaustedFunc
	logger      *zap.Logger
}

const defaultReaperInterval = 30 * time.Second

// NewReaper falls back to a 30s interval when interval is not positive.
func NewReaper(q queue.Queue, interval time.Duration, onExhausted ExhaustedFunc, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	if onExhausted == nil {
		onExhausted = func(context.Context, *queue.Job, error) {}
	}
	return &Reaper{q: q, interval: interval, onExhausted: onExhausted, logger: logger}
}

// Run ticks every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many leases were reclaimed.
func (r *Reaper) Sweep(ctx context.Context) int {
	expired, err := r.q.RequeueExpired(ctx)
	if err != nil {
		r.logger.Error("reaper poll error", zap.Error(err))
	}

	for _, x := range expired {
		if x.Outcome.Exhausted {
			r.onExhausted(ctx, x.Job, queue.ErrLeaseExpired)
		}
	}

	if len(expired) > 0 {
		r.logger.Warn("reclaimed expired leases", zap.Int("count", len(expired)))
	}
	return len(expired)
}
