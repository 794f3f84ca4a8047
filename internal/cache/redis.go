package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures the connection parameters for the Redis store.
// URL, when set, takes precedence over the discrete fields.
type RedisConfig struct {
	URL      string
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
	Prefix   string
}

const (
	defaultRedisTimeout = 5 * time.Second
	defaultRedisPrefix  = "shivanotify:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on Redis so several scheduler instances can
// share leases and heartbeats.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore dials Redis and verifies the connection with PING so that
// misconfiguration surfaces during startup.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	if url := strings.TrimSpace(cfg.URL); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
		opts.DialTimeout = timeout
		return opts, nil
	}

	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, errors.New("redis: address is required")
	}
	opts := &redis.Options{
		Addr:         addr,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// AcquireLease uses SET NX PX, renewing the TTL when owner already holds it.
func (s *RedisStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if owner == "" {
		return false, errors.New("cache: lease owner is required")
	}
	k := s.key(key)

	ok, err := s.client.SetNX(ctx, k, owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	current, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return s.client.SetNX(ctx, k, owner, ttl).Result()
	}
	if err != nil {
		return false, err
	}
	if current != owner {
		return false, nil
	}
	if ttl > 0 {
		if err := s.client.PExpire(ctx, k, ttl).Err(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ReleaseLease deletes key atomically if owner still holds it.
func (s *RedisStore) ReleaseLease(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, owner).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Set stores value under key. A zero ttl keeps it indefinitely.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

// Get retrieves a value by key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Delete removes keys from Redis.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.key(key)
	}
	return s.client.Del(ctx, prefixed...).Err()
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}
