// Package ratelimit implements a sliding-window counter. Each identity has a
// counter per fixed window; the count that is compared against the limit is
// the current window's count plus the previous window's count weighted by
// how much of it still overlaps the sliding window.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/logging"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is the end of the current fixed window.
	ResetAt time.Time
}

// RetryAfter is the wait before the next attempt can succeed, rounded up to
// whole seconds and never below one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	secs := int64(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

type Limiter interface {
	Allow(ctx context.Context, identity string) (Decision, error)
}

// Options configure a limiter. Prefix separates counters of different
// limiters that share a backend.
type Options struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// window is the fixed-window arithmetic shared by the backends.
type window struct {
	start   time.Time
	end     time.Time
	prevKey int64
	curKey  int64
	// weight is the share of the previous window still inside the slide.
	weight float64
}

func windowAt(now time.Time, size time.Duration) window {
	ms := size.Milliseconds()
	startMs := now.UnixMilli() - now.UnixMilli()%ms
	start := time.UnixMilli(startMs)
	elapsed := now.Sub(start)

	return window{
		start:   start,
		end:     start.Add(size),
		curKey:  startMs / 1000,
		prevKey: (startMs - ms) / 1000,
		weight:  1 - float64(elapsed)/float64(size),
	}
}

func estimate(prev, cur int64, weight float64) float64 {
	return float64(prev)*weight + float64(cur)
}

func decide(limit int, prev, cur int64, w window, allowed bool) Decision {
	remaining := limit - int(math.Ceil(estimate(prev, cur, w.weight)))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: allowed, Limit: limit, Remaining: remaining, ResetAt: w.end}
}

type failOpen struct {
	next   Limiter
	logger logging.Logger
}

// FailOpen allows requests when next cannot reach its backend. The failure
// is logged and the error is swallowed.
func FailOpen(next Limiter, logger logging.Logger) Limiter {
	return &failOpen{next: next, logger: logger.With("module", "ratelimit")}
}

func (f *failOpen) Allow(ctx context.Context, identity string) (Decision, error) {
	d, err := f.next.Allow(ctx, identity)
	if err != nil {
		f.logger.Warn(ctx, "rate limiter unavailable, allowing request", "identity", identity, "error", err)
		return Decision{Allowed: true}, nil
	}
	return d, nil
}
