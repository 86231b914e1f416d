package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtwn105/decipher-research-agent/config"
)

const scrapeKeyPrefix = "scrape:"

// ScrapeCache memoizes scraped page content by url so retried pipeline runs
// do not refetch pages. Misses are silent; the cache is best effort.
type ScrapeCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewScrapeCache connects to Redis and verifies the connection.
func NewScrapeCache(ctx context.Context, cfg config.RedisConfig) (*ScrapeCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &ScrapeCache{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}, nil
}

// Get returns cached content for a url, if present.
func (c *ScrapeCache) Get(ctx context.Context, url string) (string, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, scrapeKey(url)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("get %s: %v", url, err)
		}
		return "", false
	}
	return val, true
}

// Set stores scraped content for a url with the configured TTL.
func (c *ScrapeCache) Set(ctx context.Context, url, content string) {
	if c == nil || content == "" {
		return
	}
	if err := c.client.Set(ctx, scrapeKey(url), content, c.ttl).Err(); err != nil {
		c.logger.Printf("set %s: %v", url, err)
	}
}

// Close releases the underlying client.
func (c *ScrapeCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func scrapeKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return scrapeKeyPrefix + hex.EncodeToString(sum[:])
}
