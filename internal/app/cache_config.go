package app

import (
	"errors"
	"strings"

	"github.com/neshama/shivanotify/internal/cache"
)

// RedisClientConfig maps the cache section onto the Redis lease store
// settings. A URL, when present, wins over the discrete fields.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	r := c.Redis
	cfg := cache.RedisConfig{
		URL:     strings.TrimSpace(r.URL),
		Timeout: r.Timeout,
		Prefix:  r.Prefix,
	}
	if cfg.URL == "" {
		cfg.Address = strings.TrimSpace(r.Address)
		cfg.Username = strings.TrimSpace(r.Username)
		cfg.Password = r.Password
		cfg.DB = r.DB
		cfg.TLS = r.TLS
	}
	return cfg
}

func (c CacheConfig) check() error {
	r := c.Redis
	if r.Enabled && strings.TrimSpace(r.URL) == "" && strings.TrimSpace(r.Address) == "" {
		return errors.New("cache.redis: url or address is required when enabled")
	}
	return nil
}
