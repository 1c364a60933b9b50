// Package ratelimit bounds outbound adapter calls with a token bucket.
// Callers acquire budget before every remote operation; when the bucket
// cannot serve within the wait bound the call fails fast with
// errs.ErrRateLimited instead of queueing unbounded work.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/mailbridge/mailbridge/internal/errs"
)

type Config struct {
	RequestsPerSecond float64       `env:"RATE_LIMIT_RPS" envDefault:"10"`
	Burst             int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	MaxWait           time.Duration `env:"RATE_LIMIT_MAX_WAIT" envDefault:"5s"`
}

type Limiter struct {
	bucket  *rate.Limiter
	maxWait time.Duration
}

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		bucket:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxWait: cfg.MaxWait,
	}
}

// Acquire blocks until budget is available, the wait bound passes or
// the context is done. Context errors are passed through untouched so
// cancellation is not mistaken for throttling.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.bucket.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errs.ErrRateLimited
	}
	return nil
}

// Allow reports whether budget is available right now, without waiting.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}
