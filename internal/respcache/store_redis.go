package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"smartop/pkg/platform/sentinel"
)

const (
	entryKeyPrefix = "respcache:entry:"
	tagKeyPrefix   = "respcache:tag:"
)

// RedisStore is the production cache store for multi-instance deployments.
// Entries live under a TTL'd key; each tag is a redis set of entry keys so
// invalidation is one SMEMBERS plus a batched DEL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, entryKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration, tags []string) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, entryKeyPrefix+key, raw, ttl)
	for _, tag := range tags {
		tagKey := tagKeyPrefix + tag
		pipe.SAdd(ctx, tagKey, entryKeyPrefix+key)
		// The tag set only needs to outlive its newest member.
		pipe.Expire(ctx, tagKey, ttl+time.Minute)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (s *RedisStore) InvalidateTag(ctx context.Context, tag string) error {
	tagKey := tagKeyPrefix + tag
	members, err := s.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	pipe := s.client.Pipeline()
	if len(members) > 0 {
		pipe.Del(ctx, members...)
	}
	pipe.Del(ctx, tagKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
