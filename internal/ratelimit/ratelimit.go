package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/middleware"

	"github.com/redis/go-redis/v9"
)

type LimiterConfig struct {
	RPS   int
	Burst int
}

type RateLimiter struct {
	Redis  *redis.Client
	Prefix string
	Config LimiterConfig
}

func New(client *redis.Client, prefix string, cfg LimiterConfig) *RateLimiter {
	return &RateLimiter{Redis: client, Prefix: prefix, Config: cfg}
}

// KEYS[1] bucket key; ARGV: burst, refill per second, now in ms.
var tokenBucket = redis.NewScript(`
local tokens_key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', tokens_key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or max_tokens
local last = tonumber(bucket[2]) or now
local delta = math.max(0, now - last) / 1000
local refill = math.floor(delta * refill_rate)
if refill > 0 then
  tokens = math.min(max_tokens, tokens + refill)
  last = now
end
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', tokens_key, 'tokens', tokens, 'last', last)
redis.call('EXPIRE', tokens_key, math.max(2, math.ceil(max_tokens / math.max(refill_rate, 1)) + 1))
return allowed
`)

func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.Prefix + ":" + keyFunc(r)
			allowed, err := rl.allow(r.Context(), key)
			if err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg, "code": status})
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	allowed, err := tokenBucket.Run(ctx, rl.Redis, []string{key}, rl.Config.Burst, rl.Config.RPS, now).Int64()
	if err != nil {
		slog.Error("rate limit script failed", "key", key, "error", err)
		return false, err
	}
	slog.Debug("token bucket", "key", key, "allowed", allowed, "burst", rl.Config.Burst, "rps", rl.Config.RPS)
	return allowed == 1, nil
}

// KeyByIP expects chi's RealIP middleware to have normalised RemoteAddr.
func KeyByIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByUserOrIP prefers the session user id over the client address.
func KeyByUserOrIP(r *http.Request) string {
	if s := middleware.GetSession(r); s != nil && s.UserID != "" {
		return "user:" + s.UserID
	}
	return "ip:" + KeyByIP(r)
}
