package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/notifyhub/event-notification-service/internal/queue"
)

// MetricHooks carries the metric callback functions injected by main.
// Per-channel counters are reported by the Dispatcher, not the pool.
type MetricHooks struct {
	OnJob func(outcome string, took time.Duration)
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// Throttle is shared by every worker and caps job starts across the pool.
	Throttle *rate.Limiter
}

// Pool manages the lifecycle of all workers.
// All workers share the same queue and throttle.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

func NewPool(
	cfg PoolConfig,
	q queue.Queue,
	handler Handler,
	onExhausted ExhaustedFunc,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	n := cfg.Concurrency
	if n < 1 {
		n = 1
	}
	workers := make([]*Worker, n)
	for i := range workers {
		workers[i] = NewWorker(
			i, q, handler, cfg.Throttle, cfg.PollInterval,
			logger.With(zap.Int("worker_id", i)),
			onExhausted,
			hooks.OnJob,
		)
	}
	return &Pool{workers: workers}
}

// Start launches all workers as goroutines. Cancelling ctx triggers a
// graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size reports the number of workers.
func (p *Pool) Size() int { return len(p.workers) }
