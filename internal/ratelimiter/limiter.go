package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/notifyhub/event-notification-service/internal/domain"
)

// ChannelLimiters holds one token bucket limiter per channel type.
// Burst equals the rate so no capacity is saved up beyond one second's worth.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New creates a ChannelLimiters with ratePerSec tokens per second per channel.
// A non-positive rate disables limiting.
func New(ratePerSec int) *ChannelLimiters {
	limiters := make(map[domain.Channel]*rate.Limiter, len(domain.Channels))
	for _, ch := range domain.Channels {
		if ratePerSec <= 0 {
			limiters[ch] = rate.NewLimiter(rate.Inf, 0)
			continue
		}
		limiters[ch] = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token. It returns a
// non-nil error only if ctx is done first.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

// PerMinute returns a limiter that grants at most n job starts in any
// 60-second window. A bucket holding burst tokens can spend them all at once
// and still refill n-burst more within the same minute, so the refill rate is
// (n-burst)/min rather than n/min. burst is clamped to [1, n-1]; with n == 1
// the single start refills after a full minute.
func PerMinute(n, burst int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if n == 1 {
		return rate.NewLimiter(rate.Every(time.Minute), 1)
	}
	burst = max(1, min(burst, n-1))
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n-burst)), burst)
}
