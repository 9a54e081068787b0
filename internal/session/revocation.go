package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys:
// revoked_session:<jti>  -> "1" (TTL = remaining token lifetime)
// revoked_user:<userID>  -> unix milliseconds; sessions issued before are revoked
const (
	revokedSessionPrefix = "revoked_session:"
	revokedUserPrefix    = "revoked_user:"
)

// RedisRevocations is written by the identity provider on logout and
// account lock. Lookups are never cached so a revocation takes effect on
// the next request.
type RedisRevocations struct {
	client *redis.Client
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, s *Session) (bool, error) {
	if s.TokenID != "" {
		n, err := r.client.Exists(ctx, revokedSessionPrefix+s.TokenID).Result()
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}

	v, err := r.client.Get(ctx, revokedUserPrefix+s.UserID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	cutoff, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// Unreadable marker: treat the user as revoked.
		return true, nil
	}
	if s.IssuedAt.IsZero() {
		return true, nil
	}
	return s.IssuedAt.UnixMilli() < cutoff, nil
}

// RevokeSession marks a single token id as revoked until it would have expired anyway.
func (r *RedisRevocations) RevokeSession(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.client.Set(ctx, revokedSessionPrefix+tokenID, "1", ttl).Err()
}

// RevokeUser revokes every session of userID issued before now.
func (r *RedisRevocations) RevokeUser(ctx context.Context, userID string, ttl time.Duration) error {
	return r.client.Set(ctx, revokedUserPrefix+userID, strconv.FormatInt(time.Now().UnixMilli(), 10), ttl).Err()
}
