package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const minWaitStep = 10 * time.Millisecond

// slidingWindowScript keeps one sorted-set member per admitted request.
// KEYS[1]=window key, ARGV: now_ms, window_ms, limit, member
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return {0, 0}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1}
`)

// RateLimiter is a sliding-window limiter shared by every instance that
// points at the same Redis. A disabled client admits everything.
// ⭐ SSOT: 레이트 리밋은 여기서만
type RateLimiter struct {
	client *Client
	prefix string
	seq    atomic.Uint64
}

// RateLimitConfig names one window
type RateLimitConfig struct {
	Key    string // "datagokr", "trigger:<ip>"
	Limit  int    // <= 0 means unlimited
	Window time.Duration
}

func NewRateLimiter(client *Client, prefix string) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix}
}

// Allow admits one request if the window has room.
// Returns (allowed, remaining, error).
func (r *RateLimiter) Allow(ctx context.Context, cfg RateLimitConfig) (bool, int, error) {
	if !r.client.Enabled() || cfg.Limit <= 0 {
		return true, cfg.Limit, nil
	}

	now := time.Now().UnixMilli()
	// 같은 ms 내 요청도 서로 다른 멤버로 기록
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(r.seq.Add(1), 10)

	res, err := slidingWindowScript.Run(ctx, r.client.Redis(),
		[]string{r.prefix + ":ratelimit:" + cfg.Key},
		now, cfg.Window.Milliseconds(), cfg.Limit, member,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", cfg.Key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected reply %v", cfg.Key, res)
	}

	return res[0] == 1, int(res[1]), nil
}

// Wait blocks until Allow admits the request or ctx ends. Retries are spaced
// by the average slot width of the window.
func (r *RateLimiter) Wait(ctx context.Context, cfg RateLimitConfig) error {
	step := minWaitStep
	if cfg.Limit > 0 {
		if s := cfg.Window / time.Duration(cfg.Limit); s > step {
			step = s
		}
	}

	for {
		allowed, _, err := r.Allow(ctx, cfg)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// TriggerRateLimit limits manual batch triggers per client per minute
func TriggerRateLimit(client string, perMinute int) RateLimitConfig {
	return RateLimitConfig{Key: "trigger:" + client, Limit: perMinute, Window: time.Minute}
}

// DataGoKrRateLimit: 공공데이터포털 초당 호출 제한 (여러 인스턴스 공유)
func DataGoKrRateLimit(rps int) RateLimitConfig {
	return RateLimitConfig{Key: "datagokr", Limit: rps, Window: time.Second}
}
