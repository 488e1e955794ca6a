// Package cache provides a Redis client used both as a TTL'd cache of
// API query results (the live tail reads the EventBus, not Redis), and
// as a TTL'd cache
// fronting the kernel-symbol resolution oracle (spec.md §1 "assumed as a
// queryable oracle") so repeated wildcard kprobe expansion doesn't
// re-walk /proc/kallsyms on every collector Init.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/probe"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"pool_size"`
}

// DefaultRedisConfig returns lean defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     constants.RedisDefaultAddr,
		PoolSize: constants.RedisPoolSize,
	}
}

// Redis wraps go-redis with caching helpers.
type Redis struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedis creates and pings a Redis connection.
func NewRedis(cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info("Redis connected", zap.String("addr", cfg.Addr))
	return &Redis{Client: client, logger: logger}, nil
}

// Get fetches a cached value by key.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	return r.Client.Get(ctx, key).Result()
}

// Set stores a value with TTL.
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

// Publish sends a message to a pub/sub channel (for WebSocket live updates).
func (r *Redis) Publish(ctx context.Context, channel string, msg any) error {
	return r.Client.Publish(ctx, channel, msg).Err()
}

// Subscribe returns a pub/sub subscription channel.
func (r *Redis) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return r.Client.Subscribe(ctx, channel)
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.Client.Close()
}

// SymbolCache wraps an upstream probe.SymbolResolver, caching Match
// (wildcard kprobe expansion) results in Redis with a TTL. Exists and
// HasParameter pass straight through — they're cheap single-symbol
// lookups against an in-memory table, not worth caching across
// processes.
type SymbolCache struct {
	r        *Redis
	upstream probe.SymbolResolver
	ttl      time.Duration
}

// NewSymbolCache constructs a SymbolCache in front of upstream.
func NewSymbolCache(r *Redis, upstream probe.SymbolResolver, ttl time.Duration) *SymbolCache {
	if ttl <= 0 {
		ttl = constants.RedisCacheTTL
	}
	return &SymbolCache{r: r, upstream: upstream, ttl: ttl}
}

func (s *SymbolCache) Exists(name string) bool { return s.upstream.Exists(name) }

func (s *SymbolCache) HasParameter(symbol, kernelType string) (bool, error) {
	return s.upstream.HasParameter(symbol, kernelType)
}

// Match expands pattern via the upstream resolver, caching the result
// under a pattern-keyed Redis entry for ttl.
func (s *SymbolCache) Match(pattern string) ([]string, error) {
	ctx := context.Background()
	key := "retisgo:kprobe-match:" + pattern

	if cached, err := s.r.Client.Get(ctx, key).Result(); err == nil {
		var symbols []string
		if jsonErr := json.Unmarshal([]byte(cached), &symbols); jsonErr == nil {
			return symbols, nil
		}
	}

	symbols, err := s.upstream.Match(pattern)
	if err != nil {
		return nil, fmt.Errorf("symbolcache: upstream match %q: %w", pattern, err)
	}

	if data, err := json.Marshal(symbols); err == nil {
		if err := s.r.Client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.r.logger.Debug("symbolcache: failed to cache match result", zap.Error(err))
		}
	}
	return symbols, nil
}
