// Package cache provides a two-tier cache for encoded summaries: an
// in-process LRU in front of Redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/observability"
)

// Config configures the cache.
type Config struct {
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	LocalSize int           `yaml:"local_size"`
}

// DefaultConfig returns the standard cache settings.
func DefaultConfig() Config {
	return Config{
		Prefix:    "threatpulse:cache:",
		TTL:       30 * time.Second,
		LocalSize: 64,
	}
}

// SummaryCache is safe for concurrent use. A nil Redis client leaves only
// the local tier.
type SummaryCache struct {
	redis   *redis.Client
	local   *expirable.LRU[string, []byte]
	config  Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates a cache.
func New(client *redis.Client, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *SummaryCache {
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = def.LocalSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SummaryCache{
		redis:   client,
		local:   expirable.NewLRU[string, []byte](cfg.LocalSize, nil, cfg.TTL),
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns the cached value for key. Redis errors count as a miss.
func (c *SummaryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		c.metrics.CacheResult("local", true)
		return v, true
	}
	c.metrics.CacheResult("local", false)

	if c.redis == nil {
		return nil, false
	}

	v, err := c.redis.Get(ctx, c.config.Prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		c.metrics.CacheResult("redis", false)
		return nil, false
	}
	c.metrics.CacheResult("redis", true)

	c.local.Add(key, v)
	return v, true
}

// Set stores value under key in both tiers.
func (c *SummaryCache) Set(ctx context.Context, key string, value []byte) {
	c.local.Add(key, value)

	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, c.config.Prefix+key, value, c.config.TTL).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
