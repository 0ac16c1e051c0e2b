package publisher

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the process-wide client-side budget for Bot API calls. All
// feeds share one instance; it is the only point where their workers wait
// on each other.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows calls requests per period, with bursts of up to calls.
// calls <= 0 disables limiting.
func NewLimiter(calls int, period time.Duration) *Limiter {
	if calls <= 0 || period <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(period/time.Duration(calls)), calls),
	}
}

// Wait blocks until a call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
