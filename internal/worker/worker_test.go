package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/queue"
	"github.com/notifyhub/event-notification-service/internal/worker"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *outcomeCounter) onJob(outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[outcome]++
}

func (c *outcomeCounter) get(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[outcome]
}

func enqueueEvent(t *testing.T, q queue.Queue, eventID string, opts queue.JobOptions) {
	t.Helper()
	opts.JobID = eventID
	if _, err := q.Enqueue(context.Background(), queue.JobProcessEvent, queue.ProcessEventPayload{EventID: eventID}, opts); err != nil {
		t.Fatal(err)
	}
}

func TestPool_ProcessesEventsToCompletion(t *testing.T) {
	f := newDispatchFixture()
	q := queue.NewMemory(queue.Options{})
	d := f.dispatcher(zap.NewNop())
	counter := &outcomeCounter{}

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		f.seed(t, id, domain.EventPending)
		enqueueEvent(t, q, id, queue.JobOptions{})
	}

	pool := worker.NewPool(
		worker.PoolConfig{Concurrency: 2, PollInterval: 5 * time.Millisecond},
		q, d, d.OnExhausted, zap.NewNop(),
		worker.MetricHooks{OnJob: counter.onJob},
	)
	if pool.Size() != 2 {
		t.Fatalf("expected 2 workers, got %d", pool.Size())
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	waitFor(t, "all events processed", func() bool {
		for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
			if f.status(t, id) != domain.EventProcessed {
				return false
			}
		}
		return true
	})
	cancel()
	pool.Wait()

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 3 || stats.Waiting != 0 || stats.Active != 0 {
		t.Fatalf("unexpected queue stats %+v", stats)
	}
	if counter.get(worker.OutcomeCompleted) != 3 {
		t.Fatalf("expected 3 completed outcomes, got %d", counter.get(worker.OutcomeCompleted))
	}
	notifs, _ := f.notifs.ListByEvent(context.Background(), "evt-2")
	if len(notifs) != 3 {
		t.Fatalf("expected 3 notifications for evt-2, got %d", len(notifs))
	}
}

func TestWorker_RetriesUntilExhausted(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()
	_ = f.prefs.Upsert(ctx, &domain.UserPreference{
		UserID:   "u1",
		Channels: domain.ChannelSettings{Email: true},
	})
	f.providers[domain.ChannelEmail] = failingProvider{err: errors.New("smtp down")}
	f.seed(t, "evt-1", domain.EventPending)

	q := queue.NewMemory(queue.Options{})
	enqueueEvent(t, q, "evt-1", queue.JobOptions{
		MaxAttempts: 3,
		Backoff:     queue.Backoff{Base: time.Millisecond, Max: time.Millisecond},
	})

	d := f.dispatcher(zap.NewNop())
	counter := &outcomeCounter{}
	w := worker.NewWorker(0, q, d, nil, 2*time.Millisecond, zap.NewNop(), d.OnExhausted, counter.onJob)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		w.Run(runCtx)
		close(done)
	}()

	waitFor(t, "event marked FAILED", func() bool { return f.status(t, "evt-1") == domain.EventFailed })
	cancel()
	<-done

	logs, _ := f.logs.ListByEvent(ctx, "evt-1")
	if len(logs) != 3 {
		t.Fatalf("expected one FAILED log per attempt, got %d", len(logs))
	}
	for i, l := range logs {
		if l.Status != domain.DeliveryFailed || l.AttemptCount != i+1 {
			t.Fatalf("log %d: unexpected %+v", i, l)
		}
	}
	if counter.get(worker.OutcomeRetried) != 2 || counter.get(worker.OutcomeExhausted) != 1 {
		t.Fatalf("unexpected outcomes %v", counter.counts)
	}

	job, err := q.Get(ctx, "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.State != queue.StateFailed || job.AttemptsMade != 3 {
		t.Fatalf("expected failed job after 3 attempts, got %s/%d", job.State, job.AttemptsMade)
	}
}

func TestWorker_PermanentErrorSkipsRetries(t *testing.T) {
	f := newDispatchFixture()
	q := queue.NewMemory(queue.Options{})
	enqueueEvent(t, q, "ghost", queue.JobOptions{MaxAttempts: 10})

	var exhausted atomic.Int32
	d := f.dispatcher(zap.NewNop())
	w := worker.NewWorker(0, q, d, nil, 2*time.Millisecond, zap.NewNop(),
		func(context.Context, *queue.Job, error) { exhausted.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	waitFor(t, "job exhausted", func() bool { return exhausted.Load() == 1 })
	cancel()
	<-done

	job, _ := q.Get(context.Background(), "ghost")
	if job.AttemptsMade != 1 {
		t.Fatalf("expected a single attempt, got %d", job.AttemptsMade)
	}
}

type countingHandler struct{ n atomic.Int32 }

func (h *countingHandler) Handle(context.Context, *queue.Job) error {
	h.n.Add(1)
	return nil
}

func TestPool_ThrottleCapsJobStarts(t *testing.T) {
	q := queue.NewMemory(queue.Options{})
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		enqueueEvent(t, q, id, queue.JobOptions{})
	}

	h := &countingHandler{}
	// Burst of two, then one token an hour.
	throttle := rate.NewLimiter(rate.Every(time.Hour), 2)
	pool := worker.NewPool(
		worker.PoolConfig{Concurrency: 3, PollInterval: time.Millisecond, Throttle: throttle},
		q, h, nil, zap.NewNop(), worker.MetricHooks{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	waitFor(t, "burst consumed", func() bool { return h.n.Load() == 2 })
	time.Sleep(100 * time.Millisecond)
	cancel()
	pool.Wait()

	if got := h.n.Load(); got != 2 {
		t.Fatalf("expected throttle to allow 2 jobs, got %d", got)
	}
}

type blockingHandler struct {
	started chan struct{}
	release chan struct{}
	sawDone atomic.Bool
}

func (h *blockingHandler) Handle(ctx context.Context, _ *queue.Job) error {
	close(h.started)
	<-h.release
	h.sawDone.Store(ctx.Err() != nil)
	return nil
}

func TestWorker_InFlightJobFinishesOnShutdown(t *testing.T) {
	q := queue.NewMemory(queue.Options{Lease: time.Minute})
	enqueueEvent(t, q, "evt-1", queue.JobOptions{})

	h := &blockingHandler{started: make(chan struct{}), release: make(chan struct{})}
	w := worker.NewWorker(0, q, h, nil, time.Millisecond, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	<-h.started
	cancel()
	close(h.release)
	<-done

	if h.sawDone.Load() {
		t.Fatal("shutdown must not cancel a running attempt")
	}
	job, _ := q.Get(context.Background(), "evt-1")
	if job.State != queue.StateCompleted {
		t.Fatalf("expected job completed after shutdown, got %s", job.State)
	}
}
