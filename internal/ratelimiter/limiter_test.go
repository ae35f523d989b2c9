package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/notifyhub/event-notification-service/internal/domain"
	"github.com/notifyhub/event-notification-service/internal/ratelimiter"
)

func TestChannelLimiters_WaitRespectsContext(t *testing.T) {
	cl := ratelimiter.New(1)
	ctx := context.Background()

	// The single burst token is free.
	if err := cl.Wait(ctx, domain.ChannelEmail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The next token is a second away; a short deadline must give up.
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := cl.Wait(short, domain.ChannelEmail); err == nil {
		t.Fatal("expected the limiter to refuse within the deadline")
	}

	// Channels are independent.
	if err := cl.Wait(ctx, domain.ChannelPush); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChannelLimiters_Disabled(t *testing.T) {
	cl := ratelimiter.New(0)
	for i := 0; i < 1000; i++ {
		if err := cl.Wait(context.Background(), domain.ChannelInApp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestPerMinute(t *testing.T) {
	l := ratelimiter.PerMinute(100, 10)
	for i := 0; i < 10; i++ {
		if !l.Allow() {
			t.Fatalf("burst token %d should be available", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected burst to be exhausted")
	}
	// 90 refills a minute on top of the 10-token burst.
	if got := l.Limit(); got < 1.49 || got > 1.51 {
		t.Fatalf("expected ~1.5 tokens/s, got %v", got)
	}
}

func TestPerMinute_ClampsBurst(t *testing.T) {
	if got := ratelimiter.PerMinute(5, 50).Burst(); got != 4 {
		t.Fatalf("expected burst clamped to 4, got %d", got)
	}
	if got := ratelimiter.PerMinute(1, 10).Burst(); got != 1 {
		t.Fatalf("expected burst 1, got %d", got)
	}
}

// busiestMinute polls l every step over span starting at start and returns
// the largest number of grants seen in any 60s window (t-60s, t].
func busiestMinute(l *rate.Limiter, start time.Time, span, step time.Duration) int {
	var granted []time.Time
	for at := start; at.Before(start.Add(span)); at = at.Add(step) {
		if l.AllowN(at, 1) {
			granted = append(granted, at)
		}
	}
	worst, lo := 0, 0
	for hi, at := range granted {
		for !granted[lo].After(at.Add(-time.Minute)) {
			lo++
		}
		worst = max(worst, hi-lo+1)
	}
	return worst
}

func TestPerMinute_RollingWindowCap(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct{ n, burst int }{
		{100, 10},
		{100, 1},
		{100, 100},
		{10, 3},
		{1, 1},
	}
	for _, tc := range tests {
		l := ratelimiter.PerMinute(tc.n, tc.burst)
		worst := busiestMinute(l, start, 3*time.Minute, 10*time.Millisecond)
		if worst > tc.n {
			t.Fatalf("n=%d burst=%d: %d starts granted within one 60s window", tc.n, tc.burst, worst)
		}
		if worst < tc.n-1 {
			t.Fatalf("n=%d burst=%d: limiter too strict, busiest minute had %d starts", tc.n, tc.burst, worst)
		}
	}
}
