/**
 * @description
 * Redis-backed fixed-window rate limiter for payment initiation. Admission
 * attempts from one subject (customer phone or caller address) share a counter
 * per scope; the first hit in a window arms the expiry, and a window whose
 * expiry was lost (e.g. a failover mid-script) is re-armed inside the script so
 * a counter can never pin a subject forever.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var initiationWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int           // attempts left in the current window
	RetryAfter time.Duration // how long a rejected subject should wait
}

// RedisInitiationRateLimiter counts payment initiation attempts per
// (scope, subject) in Redis. A nil limiter, or one whose Redis is down,
// degrades to allowing everything; admission must not depend on Redis health.
type RedisInitiationRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisInitiationRateLimiter(client redis.UniversalClient, prefix string) *RedisInitiationRateLimiter {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "payments:rate_limit"
	}
	return &RedisInitiationRateLimiter{
		client: client,
		prefix: strings.TrimSuffix(trimmed, ":"),
	}
}

// Allow records one attempt by subject within scope and decides whether it fits
// the limit for the window. Blank scope/subject and non-positive limits are
// treated as unlimited.
func (r *RedisInitiationRateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (Decision, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: limit}, nil
	}

	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return Decision{Allowed: true, Remaining: limit}, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	raw, err := initiationWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected limiter response shape: %T", raw)
	}
	hits, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected limiter hit count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected limiter ttl type: %T", values[1])
	}

	return decide(hits, ttlMs, limit, windowMs), nil
}

// decide turns the raw window state into a Decision. RetryAfter rounds the
// remaining window up to whole seconds, never below one, so a Retry-After
// header is always honest.
func decide(hits, ttlMs int64, limit int, windowMs int64) Decision {
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := time.Duration((ttlMs+999)/1000) * time.Second
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	remaining := limit - int(hits)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:    hits <= int64(limit),
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}
