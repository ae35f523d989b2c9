package queue

import "time"

// Backoff is exponential: the delay before retry n (1-based) is
// Base * 2^(n-1), capped at Max when Max is positive.
type Backoff struct {
	Base time.Duration `json:"base"`
	Max  time.Duration `json:"max"`
}

// DefaultBackoff waits 2s before the first retry and doubles from there.
var DefaultBackoff = Backoff{Base: 2 * time.Second, Max: 2 * time.Second << 9}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		if d <= 0 { // overflow
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
