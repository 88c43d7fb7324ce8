package cooldown

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker stores cooldown stamps in Redis so they survive restarts
// and are shared across server instances.
type RedisTracker struct {
	client *redis.Client
	prefix string
}

// NewRedisTracker constructs a RedisTracker.
func NewRedisTracker(client *redis.Client, prefix string) *RedisTracker {
	return &RedisTracker{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Set stores the stamp with a TTL matching the remaining cooldown.
func (t *RedisTracker) Set(ctx context.Context, key string, availableAt time.Time) error {
	if key == "" || t == nil || t.client == nil {
		return nil
	}
	ttl := time.Until(availableAt)
	if ttl <= 0 {
		return nil
	}
	value := strconv.FormatInt(availableAt.UTC().Unix(), 10)
	return t.client.Set(ctx, t.buildKey(key), value, ttl).Err()
}

// Get returns the active stamp; expiry is handled by the key TTL.
func (t *RedisTracker) Get(ctx context.Context, key string, now time.Time) (time.Time, error) {
	if key == "" || t == nil || t.client == nil {
		return time.Time{}, nil
	}
	raw, errGet := t.client.Get(ctx, t.buildKey(key)).Result()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, errGet
	}
	unix, errParse := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if errParse != nil {
		return time.Time{}, errors.New("cooldown redis: unexpected value")
	}
	stamp := time.Unix(unix, 0).UTC()
	if !stamp.After(now) {
		return time.Time{}, nil
	}
	return stamp, nil
}

func (t *RedisTracker) buildKey(key string) string {
	if t.prefix == "" {
		return "cooldown:" + key
	}
	return t.prefix + ":cooldown:" + key
}
