// Package ratelimit spaces out calls against the conversation API.
package ratelimit

import (
	"context"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so tests can drive the limiter without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limiter enforces a minimum interval between consecutive turns.
type Limiter struct {
	lim   *rate.Limiter
	clock Clock
}

// New returns a limiter that allows one turn per interval. A non-positive interval never waits.
func New(interval time.Duration) *Limiter {
	return NewWithClock(interval, wallClock{})
}

// NewWithClock is New with an explicit clock.
func NewWithClock(interval time.Duration, clock Clock) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{lim: rate.NewLimiter(limit, 1), clock: clock}
}

// WaitTurn blocks until interval has elapsed since the previous turn. The first turn is immediate.
func (l *Limiter) WaitTurn(ctx context.Context) error {
	now := l.clock.Now()
	r := l.lim.ReserveN(now, 1)
	d := r.DelayFrom(now)
	if d <= 0 {
		return nil
	}
	if err := l.clock.Sleep(ctx, d); err != nil {
		r.CancelAt(l.clock.Now())
		return err
	}
	return nil
}

// FromEnv builds a transport-level token bucket, honoring <prefix>_RPS and <prefix>_BURST.
func FromEnv(prefix string, rps float64, burst int) *rate.Limiter {
	if v := os.Getenv(prefix + "_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv(prefix + "_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
