package keyvalue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
}

type redisStore struct {
	client *redis.Client
}

// compareAndDeleteScript deletes the key only when it still holds the
// expected value. Between a GET and a DEL the key could expire and be
// re-acquired by another owner; the script closes that window.
var compareAndDeleteScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// incrementScript arms the TTL only on counter creation so the window
// does not slide on every increment.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// NewRedisStore connects to Redis and returns a Store backed by it.
func NewRedisStore(cfg Config) (Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

func (s *redisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrementScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return count, nil
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if d < 0 {
		return 0, ErrNotFound
	}
	return d, nil
}
