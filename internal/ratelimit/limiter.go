package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/enrollpay/internal/config"
)

const keyChargeBucket = "enrollpay:ratelimit:%s:%s"

// Refills the bucket from redis server time, takes one token if available and
// reports how long until the next token when it cannot.
// ARGV: tokens per second, burst, key ttl in ms.
// Returns {allowed, whole tokens left, retry after ms}.
var takeToken = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
end

local allowed, retry = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, math.floor(tokens), retry}
`)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// ChargeLimiter throttles the endpoints that reach the processor on the
// customer's behalf, with one bucket per endpoint and client.
type ChargeLimiter struct {
	client *redis.Client
	rate   float64 // tokens per second
	burst  int
	ttl    time.Duration
}

// NewChargeLimiter returns nil when redis is unavailable or the limit is
// zero. A nil limiter allows everything.
func NewChargeLimiter(cfg config.Config, client *redis.Client) *ChargeLimiter {
	perMinute := cfg.Limits.CheckoutPerMinute
	if client == nil || perMinute <= 0 {
		return nil
	}
	// An empty bucket refills in a minute, so idle buckets can go after two.
	return &ChargeLimiter{client: client, rate: float64(perMinute) / 60, burst: perMinute, ttl: 2 * time.Minute}
}

func (l *ChargeLimiter) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *ChargeLimiter) Allow(ctx context.Context, endpoint, client string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyChargeBucket, strings.TrimSpace(endpoint), strings.TrimSpace(client))
	out, err := takeToken.Run(ctx, l.client, []string{key}, l.rate, l.burst, l.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("charge rate limit: %w", err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("charge rate limit: unexpected reply %v", out)
	}
	return &Result{
		Allowed:    out[0] == 1,
		Limit:      l.burst,
		Remaining:  int(out[1]),
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}
