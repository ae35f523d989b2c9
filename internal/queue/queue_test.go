package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/notifyhub/event-notification-service/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type factory func(t *testing.T, opts queue.Options) queue.Queue

func implementations() map[string]factory {
	return map[string]factory{
		"memory": func(_ *testing.T, opts queue.Options) queue.Queue {
			return queue.NewMemory(opts)
		},
		"redis": func(t *testing.T, opts queue.Options) queue.Queue {
			mr := miniredis.RunT(t)
			client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return queue.NewRedis(client, opts)
		},
	}
}

// forEach runs fn against every Queue implementation with a fresh fake clock.
func forEach(t *testing.T, opts queue.Options, fn func(t *testing.T, q queue.Queue, clock *fakeClock)) {
	for name, newQueue := range implementations() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			o := opts
			o.Clock = clock.Now
			fn(t, newQueue(t, o), clock)
		})
	}
}

var retryPolicy = queue.JobOptions{
	MaxAttempts: 3,
	Backoff:     queue.Backoff{Base: 2 * time.Second, Max: time.Minute},
}

func TestQueue_EnqueueReserveComplete(t *testing.T) {
	forEach(t, queue.Options{}, func(t *testing.T, q queue.Queue, _ *fakeClock) {
		ctx := context.Background()

		id, err := q.Enqueue(ctx, queue.JobProcessEvent, queue.ProcessEventPayload{EventID: "evt-1"}, retryPolicy)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		job, err := q.Reserve(ctx)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if job.ID != id || job.Name != queue.JobProcessEvent || job.Attempt() != 1 {
			t.Fatalf("unexpected job %+v", job)
		}
		var p queue.ProcessEventPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil || p.EventID != "evt-1" {
			t.Fatalf("unexpected payload %s (%v)", job.Payload, err)
		}

		if _, err := q.Reserve(ctx); !errors.Is(err, queue.ErrEmpty) {
			t.Fatalf("expected ErrEmpty while job is leased, got %v", err)
		}

		if err := q.Complete(ctx, job); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if err := q.Complete(ctx, job); !errors.Is(err, queue.ErrLeaseLost) {
			t.Fatalf("expected ErrLeaseLost on second complete, got %v", err)
		}

		stats, _ := q.Stats(ctx)
		if stats.Completed != 1 || stats.Active != 0 || stats.Waiting != 0 {
			t.Fatalf("unexpected stats %+v", stats)
		}
	})
}

func TestQueue_DuplicateJobID(t *testing.T) {
	forEach(t, queue.Options{}, func(t *testing.T, q queue.Queue, _ *fakeClock) {
		ctx := context.Background()
		opts := retryPolicy
		opts.JobID = "evt-1"
		if _, err := q.Enqueue(ctx, queue.JobProcessEvent, nil, opts); err != nil {
			t.Fatal(err)
		}
		if _, err := q.Enqueue(ctx, queue.JobProcessEvent, nil, opts); !errors.Is(err, queue.ErrJobExists) {
			t.Fatalf("expected ErrJobExists, got %v", err)
		}
	})
}

func TestQueue_ConcurrentDuplicateJobID(t *testing.T) {
	forEach(t, queue.Options{}, func(t *testing.T, q queue.Queue, _ *fakeClock) {
		ctx := context.Background()
		opts := retryPolicy
		opts.JobID = "evt-race"

		const callers = 16
		errs := make(chan error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := q.Enqueue(ctx, queue.JobProcessEvent, map[string]int{"caller": n}, opts)
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			switch {
			case err == nil:
				created++
			case errors.Is(err, queue.ErrJobExists):
			default:
				t.Fatalf("unexpected enqueue error: %v", err)
			}
		}
		if created != 1 {
			t.Fatalf("expected exactly one enqueue to win, got %d", created)
		}
		stats, err := q.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.Waiting != 1 {
			t.Fatalf("expected one waiting job, got %+v", stats)
		}
	})
}

func TestQueue_FailRetriesWithBackoffThenExhausts(t *testing.T) {
	forEach(t, queue.Options{}, func(t *testing.T, q queue.Queue, clock *fakeClock) {
		ctx := context.Background()
		id, _ := q.Enqueue(ctx, queue.JobProcessEvent, queue.ProcessEventPayload{EventID: "e"}, retryPolicy)
		boom := errors.New("smtp down")

		// Attempt 1 fails: retry after 2s.
		job, _ := q.Reserve(ctx)
		out, err := q.Fail(ctx, job, boom)
		if err != nil || out.Exhausted || out.AttemptsMade != 1 {
			t.Fatalf("unexpected outcome %+v (%v)", out, err)
		}
		if _, err := q.Reserve(ctx); !errors.Is(err, queue.ErrEmpty) {
			t.Fatalf("job should be delayed, got %v", err)
		}
		stats, _ := q.Stats(ctx)
		if stats.Delayed != 1 {
			t.Fatalf("expected 1 delayed job, got %+v", stats)
		}

		clock.Advance(2 * time.Second)
		job, err = q.Reserve(ctx)
		if err != nil || job.Attempt() != 2 {
			t.Fatalf("expected attempt 2, got %+v (%v)", job, err)
		}

		// Attempt 2 fails: retry after 4s.
		out, _ = q.Fail(ctx, job, boom)
		if out.RetryAt.Sub(clock.Now()) != 4*time.Second {
			t.Fatalf("expected 4s backoff, got %v", out.RetryAt.Sub(clock.Now()))
		}
		clock.Advance(4 * time.Second)
		job, _ = q.Reserve(ctx)

		// Attempt 3 is the last one.
		out, _ = q.Fail(ctx, job, boom)
		if !out.Exhausted || out.AttemptsMade != 3 {
			t.Fatalf("expected exhaustion after 3 attempts, got %+v", out)
		}

		stored, err := q.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if stored.State != queue.StateFailed || stored.LastError != "smtp down" {
			t.Fatalf("unexpected stored job %+v", stored)
		}
		clock.Advance(time.Hour)
		if _, err := q.Reserve(ctx); !errors.Is(err, queue.ErrEmpty) {
			t.Fatalf("failed job must not run again, got %v", err)
		}
	})
}

func TestQueue_PermanentErrorSkipsRetries(t *testing.T) {
	forEach(t, queue.Options{}, func(t *testing.T, q queue.Queue, _ *fakeClock) {
		ctx := context.Background()
		_, _ = q.Enqueue(ctx, queue.JobProcessEvent, nil, retryPolicy)
		job, _ := q.Reserve(ctx)

		out, err := q.Fail(ctx, job, queue.Permanent(errors.New("event not found")))
		if err != nil || !out.Exhausted || out.AttemptsMade != 1 {
			t.Fatalf("expected immediate exhaustion, got %+v (%v)", out, err)
		}
	})
}

func TestQueue_FailedNewestFirst(t *testing.T) {
	forEach(t, queue.Options{}, func(t *testing.T, q queue.Queue, clock *fakeClock) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			opts := retryPolicy
			opts.JobID = id
			if _, err := q.Enqueue(ctx, queue.JobProcessEvent, nil, opts); err != nil {
				t.Fatal(err)
			}
		}

		var order []string
		for range 2 {
			job, err := q.Reserve(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := q.Fail(ctx, job, queue.Permanent(errors.New("boom"))); err != nil {
				t.Fatal(err)
			}
			order = append(order, job.ID)
			clock.Advance(time.Second)
		}

		got, err := q.Failed(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != order[1] || got[1].ID != order[0] {
			t.Fatalf("expected %v newest first, got %d jobs", order, len(got))
		}
		if got[0].State != queue.StateFailed || got[0].LastError != "boom" {
			t.Fatalf("unexpected failed job %+v", got[0])
		}

		got, err = q.Failed(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != order[1] {
			t.Fatalf("expected only the newest failure, got %d jobs", len(got))
		}
	})
}

func TestQueue_RequeueExpired(t *testing.T) {
	forEach(t, queue.Options{Lease: time.Minute}, func(t *testing.T, q queue.Queue, clock *fakeClock) {
		ctx := context.Background()
		_, _ = q.Enqueue(ctx, queue.JobProcessEvent, nil, retryPolicy)
		stale, _ := q.Reserve(ctx)

		expired, err := q.RequeueExpired(ctx)
		if err != nil || len(expired) != 0 {
			t.Fatalf("nothing should expire yet, got %d (%v)", len(expired), err)
		}

		clock.Advance(time.Minute)
		expired, err = q.RequeueExpired(ctx)
		if err != nil || len(expired) != 1 {
			t.Fatalf("expected one expired job, got %d (%v)", len(expired), err)
		}
		if expired[0].Outcome.Exhausted || expired[0].Job.AttemptsMade != 1 {
			t.Fatalf("unexpected expiry %+v", expired[0])
		}

		// The crashed worker's late completion must not win.
		if err := q.Complete(ctx, stale); !errors.Is(err, queue.ErrLeaseLost) {
			t.Fatalf("expected ErrLeaseLost, got %v", err)
		}

		clock.Advance(2 * time.Second)
		job, err := q.Reserve(ctx)
		if err != nil || job.Attempt() != 2 {
			t.Fatalf("expected redelivery as attempt 2, got %+v (%v)", job, err)
		}
	})
}

func TestQueue_Clean(t *testing.T) {
	opts := queue.Options{Retention: queue.Retention{
		CompletedAge:  time.Hour,
		CompletedKeep: 2,
		FailedAge:     24 * time.Hour,
	}}
	forEach(t, opts, func(t *testing.T, q queue.Queue, clock *fakeClock) {
		ctx := context.Background()
		single := queue.JobOptions{MaxAttempts: 1}

		for i := 0; i < 3; i++ {
			_, _ = q.Enqueue(ctx, queue.JobProcessEvent, nil, single)
			job, _ := q.Reserve(ctx)
			_ = q.Complete(ctx, job)
			clock.Advance(time.Second)
		}
		_, _ = q.Enqueue(ctx, queue.JobProcessEvent, nil, single)
		job, _ := q.Reserve(ctx)
		_, _ = q.Fail(ctx, job, errors.New("boom"))

		// Only the keep-last bound applies so far.
		n, err := q.Clean(ctx)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 removed, got %d (%v)", n, err)
		}

		clock.Advance(2 * time.Hour)
		n, _ = q.Clean(ctx)
		if n != 2 {
			t.Fatalf("expected the remaining completed jobs to age out, got %d", n)
		}

		clock.Advance(24 * time.Hour)
		n, _ = q.Clean(ctx)
		if n != 1 {
			t.Fatalf("expected the failed job to age out, got %d", n)
		}
		stats, _ := q.Stats(ctx)
		if stats != (queue.Stats{}) {
			t.Fatalf("expected empty queue, got %+v", stats)
		}
	})
}

func TestQueue_ReserveOrder(t *testing.T) {
	forEach(t, queue.Options{}, func(t *testing.T, q queue.Queue, clock *fakeClock) {
		ctx := context.Background()
		later, _ := q.Enqueue(ctx, queue.JobProcessEvent, nil, queue.JobOptions{MaxAttempts: 1, Delay: time.Second})
		clock.Advance(time.Millisecond)
		now, _ := q.Enqueue(ctx, queue.JobProcessEvent, nil, queue.JobOptions{MaxAttempts: 1})

		first, _ := q.Reserve(ctx)
		if first.ID != now {
			t.Fatalf("expected the due job first, got %s", first.ID)
		}
		clock.Advance(time.Second)
		second, _ := q.Reserve(ctx)
		if second == nil || second.ID != later {
			t.Fatalf("expected delayed job once due, got %+v", second)
		}
	})
}

func TestMemory_ReserveHonoursCancelledContext(t *testing.T) {
	q := queue.NewMemory(queue.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Reserve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedis_KeysShareHashTag(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	q := queue.NewRedis(client, queue.Options{})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		opts := retryPolicy
		opts.JobID = id
		if _, err := q.Enqueue(ctx, queue.JobProcessEvent, nil, opts); err != nil {
			t.Fatal(err)
		}
	}
	job, err := q.Reserve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(ctx, job); err != nil {
		t.Fatal(err)
	}

	got := mr.Keys()
	if len(got) == 0 {
		t.Fatal("expected queue keys in redis")
	}
	for _, key := range got {
		if !strings.HasPrefix(key, "notify:{notifications}:") {
			t.Fatalf("key %q is outside the queue hash tag", key)
		}
	}
}
