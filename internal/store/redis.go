package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-auth-service/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	resetKeyPrefix      = "crm:reset:"
	resetEmailKeyPrefix = "crm:reset-email:"
	revokedKeyPrefix    = "crm:revoked:"
)

// RedisStore keeps reset tokens and revoked session ids as Redis keys whose
// TTL is the record's remaining lifetime, so expiry needs no sweep.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisClient parses a redis:// URL and pings the server
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps a connected client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) ResetTokens() ResetTokenStore { return redisResets{s} }
func (s *RedisStore) Revocations() RevocationStore { return redisRevocations{s} }

func resetKey(hash string) string       { return resetKeyPrefix + hash }
func resetEmailKey(email string) string { return resetEmailKeyPrefix + model.NormalizeEmail(email) }
func revokedKey(jti string) string      { return revokedKeyPrefix + jti }

type redisReset struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func encodeReset(rec *model.PasswordReset) ([]byte, error) {
	return json.Marshal(redisReset{Email: rec.Email, ExpiresAt: rec.ExpiresAt, CreatedAt: rec.CreatedAt})
}

func decodeReset(hash string, data []byte) (*model.PasswordReset, error) {
	var r redisReset
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode reset token: %w", err)
	}
	return &model.PasswordReset{TokenHash: hash, Email: r.Email, ExpiresAt: r.ExpiresAt, CreatedAt: r.CreatedAt}, nil
}

type redisResets struct{ s *RedisStore }

func (r redisResets) Save(ctx context.Context, rec *model.PasswordReset) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.s.now()
	}
	ttl := rec.ExpiresAt.Sub(r.s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := encodeReset(rec)
	if err != nil {
		return err
	}

	emailKey := resetEmailKey(rec.Email)
	previous, err := r.s.client.Get(ctx, emailKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	_, err = r.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != rec.TokenHash {
			pipe.Del(ctx, resetKey(previous))
		}
		pipe.Set(ctx, resetKey(rec.TokenHash), data, ttl)
		pipe.Set(ctx, emailKey, rec.TokenHash, ttl)
		return nil
	})
	return err
}

func (r redisResets) Get(ctx context.Context, hash string) (*model.PasswordReset, error) {
	data, err := r.s.client.Get(ctx, resetKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeReset(hash, data)
}

func (r redisResets) Consume(ctx context.Context, hash string) (*model.PasswordReset, error) {
	data, err := r.s.client.GetDel(ctx, resetKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeReset(hash, data)
}

func (r redisResets) Delete(ctx context.Context, hash string) error {
	return r.s.client.Del(ctx, resetKey(hash)).Err()
}

// DeleteExpired is a no-op: Redis evicts keys when their TTL runs out.
func (r redisResets) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type redisRevocations struct{ s *RedisStore }

func (r redisRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.s.now())
	if ttl <= 0 {
		return nil
	}
	return r.s.client.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

func (r redisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
