/**
 * @description
 * Certification throttling backed by Redis. Each (community, account) pair
 * gets a fixed window shared by every API replica. Attempts past the limit
 * are refused without extending or inflating the window, so a client that
 * keeps retrying is let back in as soon as the window it tripped expires.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and script runner.
 * - github.com/google/uuid: Account and community identifiers in keys.
 */
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// certifyWindowScript admits an attempt only while the window holds fewer
// than ARGV[1] admitted attempts. It returns {admitted, attempts, pttl_ms}.
var certifyWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local attempts = tonumber(redis.call("GET", KEYS[1]) or "0")
if attempts >= limit then
  local ttl = redis.call("PTTL", KEYS[1])
  if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], window)
    ttl = window
  end
  return {0, attempts, ttl}
end
attempts = redis.call("INCR", KEYS[1])
if attempts == 1 then
  redis.call("PEXPIRE", KEYS[1], window)
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = window
end
return {1, attempts, ttl}
`)

// CertifyKey identifies whose certification budget is being spent.
type CertifyKey struct {
	AccountID   uuid.UUID
	CommunityID uuid.UUID
}

// Policy caps certification attempts per key within Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// PerMinute is the policy used by the HTTP API.
func PerMinute(limit int) Policy {
	return Policy{Limit: limit, Window: time.Minute}
}

func (p Policy) enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// Decision is the outcome of one certification attempt.
type Decision struct {
	Allowed bool
	// Attempts admitted in the current window, including this one when allowed.
	Attempts   int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header. It is at least 1 for a refused attempt.
func (d Decision) RetryAfterSeconds() int {
	seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// Limiter decides whether a certification attempt may proceed.
type Limiter interface {
	AllowCertify(ctx context.Context, key CertifyKey) (Decision, error)
}

// RedisLimiter implements Limiter on a shared Redis instance.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	policy Policy
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, policy Policy) *RedisLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "certd"
	}
	return &RedisLimiter{
		client: client,
		prefix: trimmedPrefix + ":rate_limit:certify",
		policy: policy,
	}
}

func (r *RedisLimiter) key(k CertifyKey) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, k.CommunityID, k.AccountID)
}

func (r *RedisLimiter) AllowCertify(ctx context.Context, key CertifyKey) (Decision, error) {
	if r == nil || r.client == nil || !r.policy.enabled() {
		return Decision{Allowed: true}, nil
	}
	if key.AccountID == uuid.Nil || key.CommunityID == uuid.Nil {
		return Decision{Allowed: true}, nil
	}

	windowMs := r.policy.Window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	raw, err := certifyWindowScript.Run(ctx, r.client, []string{r.key(key)}, r.policy.Limit, windowMs).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("certify limiter: %w", err)
	}
	return decide(raw, r.policy.Limit, windowMs)
}

// decide turns the script reply into a Decision.
func decide(raw interface{}, limit int, windowMs int64) (Decision, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("certify limiter: unexpected reply %T", raw)
	}
	var ints [3]int64
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return Decision{}, fmt.Errorf("certify limiter: reply element %d is %T", i, v)
		}
		ints[i] = n
	}
	admitted, attempts, ttlMs := ints[0] == 1, int(ints[1]), ints[2]
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	remaining := limit - attempts
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Allowed: admitted, Attempts: attempts, Remaining: remaining}
	if !admitted {
		d.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return d, nil
}

// Noop always allows. It stands in when Redis is not configured.
type Noop struct{}

func (Noop) AllowCertify(ctx context.Context, key CertifyKey) (Decision, error) {
	return Decision{Allowed: true}, nil
}
