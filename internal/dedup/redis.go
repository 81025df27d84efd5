package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "taskexpiry:dedup:"

// RedisStore shares claims between engine instances so a leader handover
// does not reprocess events the previous leader already applied.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: defaultKeyPrefix}
}

// WithPrefix overrides the key namespace.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

func (s *RedisStore) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+id, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity; used at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
