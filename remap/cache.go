package remap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type (
	// MemoryCache lives for the process.
	MemoryCache struct {
		mu       sync.RWMutex
		mappings map[cacheKey]Mapping
	}

	cacheKey struct {
		oracle     string
		partitions int
	}

	RedisCache struct {
		client *redis.Client
		prefix string
	}

	RedisOptions struct {
		Addr     string
		Password string
		// Key prefix, defaults to "pidmap_"
		Prefix string
		// Ping on construction
		PingTest bool
	}
)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{mappings: make(map[cacheKey]Mapping)}
}

func (c *MemoryCache) Load(_ context.Context, oracle string, partitions int) (Mapping, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mappings[cacheKey{oracle, partitions}]
	if !ok {
		return Mapping{}, false, nil
	}
	return copyMapping(m), true, nil
}

func (c *MemoryCache) Store(_ context.Context, m Mapping) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappings[cacheKey{m.Oracle, m.Partitions}] = copyMapping(m)
	return nil
}

func copyMapping(m Mapping) Mapping {
	values := make([]int64, len(m.Values))
	copy(values, m.Values)
	return Mapping{Partitions: m.Partitions, Values: values, Oracle: m.Oracle}
}

func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis mapping cache")
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "pidmap_"
	}
	rc := &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:        opts.Addr,
			Password:    opts.Password,
			DB:          0,
			DialTimeout: time.Second * 3,
		}),
		prefix: prefix,
	}

	if opts.PingTest {
		s := time.Now()
		_, err := rc.client.Ping(ctx).Result()
		if err != nil {
			rc.client.Close()
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		logger.Debug().Msgf("redis ping test successful in %s", time.Since(s))
	}

	return rc, nil
}

// key is <prefix><oracle>_<partitions>, e.g. pidmap_xxhash_16
func (rc *RedisCache) key(oracle string, partitions int) string {
	return rc.prefix + oracle + "_" + strconv.Itoa(partitions)
}

func (rc *RedisCache) Load(ctx context.Context, oracle string, partitions int) (Mapping, bool, error) {
	raw, err := rc.client.Get(ctx, rc.key(oracle, partitions)).Result()
	if errors.Is(err, redis.Nil) {
		return Mapping{}, false, nil
	}
	if err != nil {
		return Mapping{}, false, fmt.Errorf("error in redis GET: %w", err)
	}

	m := Mapping{Partitions: partitions, Oracle: oracle}
	if err := json.Unmarshal([]byte(raw), &m.Values); err != nil {
		return Mapping{}, false, fmt.Errorf("error in json.Unmarshal: %w", err)
	}
	if len(m.Values) != partitions {
		return Mapping{}, false, fmt.Errorf("cached mapping for %d partitions has %d values", partitions, len(m.Values))
	}
	return m, true, nil
}

func (rc *RedisCache) Store(ctx context.Context, m Mapping) error {
	b, err := json.Marshal(m.Values)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	// First writer wins, mappings are deterministic for a given oracle
	_, err = rc.client.SetNX(ctx, rc.key(m.Oracle, m.Partitions), string(b), 0).Result()
	if err != nil {
		return fmt.Errorf("error in redis SETNX: %w", err)
	}
	return nil
}

func (rc *RedisCache) Shutdown(_ context.Context) error {
	err := rc.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
