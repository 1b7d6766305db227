// Copyright 2025 The Obskit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides the Redis-backed query result cache. When Redis is
// not configured the cache runs in a disabled mode where every read misses
// and writes are dropped, so callers never branch on configuration.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/obskit/obskit/internal/metrics"
	"github.com/obskit/obskit/pkg/errors"
)

// ErrMiss is returned by Get when the key is absent or the cache is disabled.
var ErrMiss = errors.New("cache miss")

// keyPrefix namespaces obskit keys in a shared Redis.
const keyPrefix = "obskit:"

// Config configures the query cache.
type Config struct {
	// Addr is the Redis host:port. Empty disables the cache.
	Addr string `yaml:"addr"`

	// Password authenticates against Redis (optional).
	Password string `yaml:"password"`

	// DB selects the Redis database number.
	DB int `yaml:"db"`

	// DefaultTTL applies when Set is called with a zero TTL. Default: 5m.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// PoolSize bounds the Redis connection pool. Default: 10.
	PoolSize int `yaml:"pool_size"`
}

// Cache is a read-through query result cache.
type Cache struct {
	// client is nil when the cache is disabled.
	client *redis.Client

	// defaultTTL applies to Set calls with a zero TTL.
	defaultTTL time.Duration

	// logger is used for structured logging.
	logger *slog.Logger

	// metrics records hit/miss counts (optional).
	metrics *metrics.Metrics
}

// Key derives a cache key from the request identity parts (account, query,
// variables). Hashing keeps NRQL text and entity GUIDs out of Redis keyspace
// listings.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// New connects to Redis and verifies the connection. An empty Addr yields a
// disabled cache and no connection attempt.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	if cfg.Addr == "" {
		logger.Info("cache disabled, no redis address configured")
		return &Cache{defaultTTL: cfg.DefaultTTL, logger: logger, metrics: m}, nil
	}

	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &errors.ConfigError{
			Key:    "cache.addr",
			Reason: "cannot connect to redis at " + cfg.Addr,
			Cause:  err,
		}
	}

	logger.Info("cache connected", "addr", cfg.Addr, "db", cfg.DB, "default_ttl", cfg.DefaultTTL)

	return &Cache{
		client:     client,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
		metrics:    m,
	}, nil
}

// Enabled reports whether a Redis backend is attached.
func (c *Cache) Enabled() bool {
	return c.client != nil
}

// Get returns the cached value for key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.client == nil {
		return nil, ErrMiss
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.metrics.CacheRequest(metrics.ResultMiss)
		return nil, ErrMiss
	}
	if err != nil {
		c.logger.Warn("cache get failed", "error", err)
		return nil, errors.Wrap(err, "cache get")
	}

	c.metrics.CacheRequest(metrics.ResultHit)
	return val, nil
}

// Set stores value under key for ttl (DefaultTTL when zero). A disabled cache
// drops the write.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "error", err)
		return errors.Wrap(err, "cache set")
	}
	return nil
}

// Delete removes keys. Unknown keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil || len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "cache delete")
	}
	return nil
}

// Ping verifies the Redis connection. Disabled caches always report healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	c.logger.Info("closing cache")
	return c.client.Close()
}
