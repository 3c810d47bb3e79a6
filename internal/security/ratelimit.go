package security

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenBucket meters callers with a token bucket per key, held in
// Redis so every ledger replica spends from the same bucket. Tokens are
// counted in thousandths to keep the script in integer arithmetic. A nil
// Redis or a zero Capacity turns limiting off.
type RedisTokenBucket struct {
	Redis      *redis.Client
	Prefix     string
	Capacity   int
	RefillRate float64 // tokens per second

	// Now defaults to time.Now.
	Now func() time.Time
}

const milliTokens = 1000

var errBucketReply = errors.New("rate limiter: malformed bucket reply")

// KEYS[1] bucket hash. ARGV: capacity (milli), refill (milli per ms),
// now (ms). Returns {allowed, whole tokens left, ms until next token}.
var spendScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local at = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'milli', 'at_ms')
local level = tonumber(state[1]) or cap
local since = at - (tonumber(state[2]) or at)
if since > 0 then
  level = math.min(cap, level + math.floor(since * per_ms))
end

local ok = 0
local wait = 0
if level >= 1000 then
  ok = 1
  level = level - 1000
else
  wait = math.ceil((1000 - level) / per_ms)
end

redis.call('HSET', KEYS[1], 'milli', level, 'at_ms', at)
redis.call('PEXPIRE', KEYS[1], math.ceil(cap / per_ms) + 1000)
return {ok, math.floor(level / 1000), wait}
`)

func (l *RedisTokenBucket) enabled() bool {
	return l != nil && l.Redis != nil && l.Capacity > 0 && l.RefillRate > 0
}

func (l *RedisTokenBucket) bucketKey(principal string) string {
	if l.Prefix == "" {
		return principal
	}
	return l.Prefix + ":" + principal
}

func (l *RedisTokenBucket) clock() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Decision is the outcome of spending one token.
type Decision struct {
	Allowed   bool
	Remaining int
	Wait      time.Duration
}

// Spend takes one token from principal's bucket.
func (l *RedisTokenBucket) Spend(ctx context.Context, principal string) (Decision, error) {
	if !l.enabled() {
		return Decision{Allowed: true}, nil
	}

	perMS := l.RefillRate * milliTokens / 1000
	reply, err := spendScript.Run(ctx, l.Redis, []string{l.bucketKey(principal)},
		l.Capacity*milliTokens,
		strconv.FormatFloat(perMS, 'f', -1, 64),
		l.clock().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to spend rate limit token: %w", err)
	}
	if len(reply) != 3 {
		return Decision{}, errBucketReply
	}
	return Decision{
		Allowed:   reply[0] == 1,
		Remaining: int(reply[1]),
		Wait:      time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

// Allow is Spend reduced to (allowed, whole tokens left).
func (l *RedisTokenBucket) Allow(ctx context.Context, principal string) (bool, int, error) {
	d, err := l.Spend(ctx, principal)
	return d.Allowed, d.Remaining, err
}

// RateLimitMiddleware spends one token per request from the bucket named
// by keyFn. Requests with an empty key pass unmetered. When Redis is
// unreachable the request is refused with 503.
func RateLimitMiddleware(l *RedisTokenBucket, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal string
			if keyFn != nil {
				principal = keyFn(r)
			}
			if principal == "" || !l.enabled() {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Spend(r.Context(), principal)
			if err != nil {
				WriteJSONError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable")
				return
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(math.Ceil(d.Wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				WriteJSONError(w, r, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
