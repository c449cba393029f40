package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps a window's key alive a little past the point where it is
// last read as the previous window.
const expiryGrace = 5 * time.Second

// slidingWindowScript checks and increments in one round trip.
//
// KEYS[1] current window, KEYS[2] previous window.
// ARGV[1] limit, ARGV[2] previous window weight, ARGV[3] ttl in ms.
// Returns {allowed, current, previous}.
var slidingWindowScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
local limit = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])

if prev * weight + cur + 1 > limit then
	return {0, cur, prev}
end

cur = redis.call('INCR', KEYS[1])
if cur == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {1, cur, prev}
`)

// RedisLimiter keeps counters in Redis so all instances share one limit.
type RedisLimiter struct {
	client redis.Scripter
	opts   Options
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client redis.Scripter, opts Options) *RedisLimiter {
	return &RedisLimiter{client: client, opts: opts, now: time.Now}
}

// key wraps prefix and identity in a hash tag so both windows of one
// identity land in the same Redis Cluster slot.
func (l *RedisLimiter) key(identity string, windowStart int64) string {
	return fmt.Sprintf("rl:{%s:%s}:%d", l.opts.Prefix, identity, windowStart)
}

func (l *RedisLimiter) Allow(ctx context.Context, identity string) (Decision, error) {
	w := windowAt(l.now(), l.opts.Window)
	ttl := (2*l.opts.Window + expiryGrace).Milliseconds()

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.key(identity, w.curKey), l.key(identity, w.prevKey)},
		l.opts.Limit, strconv.FormatFloat(w.weight, 'f', 6, 64), ttl,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis error: unexpected script reply %v", res)
	}

	return decide(l.opts.Limit, res[2], res[1], w, res[0] == 1), nil
}
