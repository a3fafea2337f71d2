package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/provider"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// DefaultCacheTTL is how long a discovered provider list is reused.
const DefaultCacheTTL = 10 * time.Minute

// Cache is a byte-value store with expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache implements Cache on go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache parses a Redis URL (e.g. "redis://host:6379/0").
func NewRedisCache(rawURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Ping checks the connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close shuts down the client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// CachedSource serves Inner's provider list from Cache while fresh.
// Cache errors fall through to Inner; Inner errors are never cached.
type CachedSource struct {
	Inner Source
	Cache Cache
	Key   string
	TTL   time.Duration
	Log   *logrus.Entry
}

// NewCachedSource keys the cache entry by a hash of apiKey so keys for
// different deployments sharing one Redis do not collide.
func NewCachedSource(inner Source, c Cache, apiKey string, ttl time.Duration, log *logrus.Entry) *CachedSource {
	sum := sha256.Sum256([]byte(apiKey))
	return &CachedSource{
		Inner: inner,
		Cache: c,
		Key:   "iptvmerge:subscriptions:" + hex.EncodeToString(sum[:8]),
		TTL:   ttl,
		Log:   log,
	}
}

func (c *CachedSource) Providers(ctx context.Context) ([]provider.Provider, error) {
	log := logging.OrDiscard(c.Log)
	if raw, err := c.Cache.Get(ctx, c.Key); err == nil {
		var ps []provider.Provider
		if jerr := json.Unmarshal(raw, &ps); jerr == nil {
			return ps, nil
		}
		log.WithField("key", c.Key).Warn("cache: discarding undecodable subscription list")
	} else if !errors.Is(err, ErrCacheMiss) {
		log.WithError(err).Warn("cache: get subscription list")
	}

	ps, err := c.Inner.Providers(ctx)
	if err != nil {
		return nil, err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	data, err := json.Marshal(ps)
	if err == nil {
		err = c.Cache.Set(ctx, c.Key, data, ttl)
	}
	if err != nil {
		log.WithError(err).Warn("cache: set subscription list")
	}
	return ps, nil
}
