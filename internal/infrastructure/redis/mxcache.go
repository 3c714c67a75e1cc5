// Package redisinfra shares positive MX answers between instances.
package redisinfra

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// MXCache stores MX host lists as Redis lists with a TTL.
type MXCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type MXCacheOption func(*MXCache)

func WithPrefix(prefix string) MXCacheOption {
	return func(c *MXCache) { c.prefix = strings.Trim(prefix, ":") }
}

func WithTTL(d time.Duration) MXCacheOption {
	return func(c *MXCache) { c.ttl = d }
}

// NewClient opens a client and checks it answers within two seconds.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func NewMXCache(rdb *redis.Client, opts ...MXCacheOption) *MXCache {
	c := &MXCache{
		rdb:    rdb,
		prefix: "mx",
		ttl:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns cached hosts. Redis failures read as a miss.
func (c *MXCache) Get(ctx context.Context, domain string) ([]string, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	hosts, err := c.rdb.LRange(ctx, c.key(domain), 0, -1).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("mx cache read failed", "domain", domain, "err", err)
		}
		return nil, false
	}
	return hosts, len(hosts) > 0
}

// Set replaces the cached hosts for domain atomically.
func (c *MXCache) Set(ctx context.Context, domain string, hosts []string) {
	if c == nil || c.rdb == nil || len(hosts) == 0 {
		return
	}
	key := c.key(domain)
	values := make([]interface{}, len(hosts))
	for i, h := range hosts {
		values[i] = h
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		slog.Warn("mx cache write failed", "domain", domain, "err", err)
	}
}

func (c *MXCache) key(domain string) string {
	return c.prefix + ":" + strings.ToLower(domain)
}
