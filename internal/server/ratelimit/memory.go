package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type counter struct {
	window int64
	cur    int64
	prev   int64
}

// MemoryLimiter is the single-process variant of RedisLimiter.
type MemoryLimiter struct {
	mu       sync.Mutex
	opts     Options
	counters map[string]*counter
	calls    int
	now      func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(opts Options) *MemoryLimiter {
	return &MemoryLimiter{opts: opts, counters: map[string]*counter{}, now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, identity string) (Decision, error) {
	w := windowAt(l.now(), l.opts.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweep(w.prevKey)
	}

	c, ok := l.counters[identity]
	switch {
	case !ok:
		c = &counter{window: w.curKey}
		l.counters[identity] = c
	case c.window == w.prevKey:
		c.prev, c.cur, c.window = c.cur, 0, w.curKey
	case c.window != w.curKey:
		c.prev, c.cur, c.window = 0, 0, w.curKey
	}

	if estimate(c.prev, c.cur+1, w.weight) > float64(l.opts.Limit) {
		return decide(l.opts.Limit, c.prev, c.cur, w, false), nil
	}
	c.cur++
	return decide(l.opts.Limit, c.prev, c.cur, w, true), nil
}

// sweep drops counters too old to matter. Caller holds mu.
func (l *MemoryLimiter) sweep(oldest int64) {
	for id, c := range l.counters {
		if c.window < oldest {
			delete(l.counters, id)
		}
	}
}
