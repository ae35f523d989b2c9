package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/notifyhub/event-notification-service/internal/queue"
)

// Job outcomes reported through MetricHooks.OnJob.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeExhausted = "exhausted"
)

// ackTimeout bounds the Complete/Fail call that closes an attempt.
const ackTimeout = 5 * time.Second

// Handler processes one reserved job.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// ExhaustedFunc is called once a job has used up its attempts.
type ExhaustedFunc func(ctx context.Context, job *queue.Job, cause error)

// Worker is a single goroutine that reserves jobs from the queue, runs them
// through the handler and reports the outcome back to the queue.
type Worker struct {
	id           int
	q            queue.Queue
	handler      Handler
	throttle     *rate.Limiter
	pollInterval time.Duration
	logger       *zap.Logger

	onExhausted ExhaustedFunc
	onJob       func(outcome string, took time.Duration)
}

// NewWorker constructs a worker. throttle, onExhausted and onJob are optional.
func NewWorker(
	id int,
	q queue.Queue,
	handler Handler,
	throttle *rate.Limiter,
	pollInterval time.Duration,
	logger *zap.Logger,
	onExhausted ExhaustedFunc,
	onJob func(string, time.Duration),
) *Worker {
	if throttle == nil {
		throttle = rate.NewLimiter(rate.Inf, 0)
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if onExhausted == nil {
		onExhausted = func(context.Context, *queue.Job, error) {}
	}
	if onJob == nil {
		onJob = func(string, time.Duration) {}
	}
	return &Worker{
		id: id, q: q, handler: handler, throttle: throttle,
		pollInterval: pollInterval, logger: logger,
		onExhausted: onExhausted, onJob: onJob,
	}
}

// Run blocks until ctx is cancelled. A job that is already running when ctx
// is cancelled is allowed to finish within its lease.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		// One token per job start. The token is held while polling an empty
		// queue, so idle polls do not eat into the throughput budget.
		if err := w.throttle.Wait(ctx); err != nil {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		job, ok := w.next(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, job)
	}
}

// next polls until a job is reserved or ctx is cancelled.
func (w *Worker) next(ctx context.Context) (*queue.Job, bool) {
	for {
		job, err := w.q.Reserve(ctx)
		if err == nil {
			return job, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		if !errors.Is(err, queue.ErrEmpty) {
			w.logger.Error("reserve failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	start := time.Now()
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt()),
	)

	// The attempt may not outlive its lease; after that the job belongs to
	// whoever reserves it next.
	jobCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if !job.LeaseUntil.IsZero() {
		jobCtx, cancel = context.WithDeadline(jobCtx, job.LeaseUntil)
	}
	err := w.handler.Handle(jobCtx, job)
	cancel()
	took := time.Since(start)

	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer ackCancel()

	if err == nil {
		if cerr := w.q.Complete(ackCtx, job); cerr != nil {
			log.Error("failed to complete job", zap.Error(cerr))
		}
		w.onJob(OutcomeCompleted, took)
		log.Debug("job completed", zap.Duration("took", took))
		return
	}

	out, ferr := w.q.Fail(ackCtx, job, err)
	if ferr != nil {
		log.Error("failed to record job failure", zap.Error(ferr), zap.NamedError("cause", err))
		return
	}
	if out.Exhausted {
		log.Warn("job exhausted", zap.Int("attempts", out.AttemptsMade), zap.Error(err))
		job.AttemptsMade = out.AttemptsMade
		w.onExhausted(ackCtx, job, err)
		w.onJob(OutcomeExhausted, took)
		return
	}
	log.Warn("job failed, will retry",
		zap.Error(err),
		zap.Time("retry_at", out.RetryAt),
	)
	w.onJob(OutcomeRetried, took)
}
