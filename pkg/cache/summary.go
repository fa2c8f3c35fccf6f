// Package cache keeps the aggregate counts behind the home and dashboard views
// in Redis. Every method degrades to a no-op when Redis is not configured or
// not reachable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"loanmatch/pkg/store"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	SummaryKey        = "loanmatch:summary"
	DefaultSummaryTTL = 30 * time.Second
)

type Summary struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger

	warnedUnavailable atomic.Bool
}

// NewSummary connects to addr. A blank addr or a failed ping returns a cache
// that always misses.
func NewSummary(addr, password string, db int, ttl time.Duration, logger *log.Logger) *Summary {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	c := &Summary{ttl: ttl, logger: logger}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return c
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, bypassing summary cache", "addr", addr, "err", err)
		_ = client.Close()
		return c
	}
	c.client = client
	return c
}

func (c *Summary) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *Summary) warnOnce(err error) {
	if c.warnedUnavailable.CompareAndSwap(false, true) {
		c.logger.Warn("redis error, bypassing summary cache", "err", err)
	}
}

// Load returns the cached counts or computes them with fetch and caches the result.
func (c *Summary) Load(ctx context.Context, fetch func(context.Context) (store.Summary, error)) (store.Summary, error) {
	if sum, ok := c.get(ctx); ok {
		return sum, nil
	}
	sum, err := fetch(ctx)
	if err != nil {
		return store.Summary{}, err
	}
	c.set(ctx, sum)
	return sum, nil
}

func (c *Summary) get(ctx context.Context) (store.Summary, bool) {
	if !c.Enabled() {
		return store.Summary{}, false
	}
	b, err := c.client.Get(ctx, SummaryKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warnOnce(err)
		}
		return store.Summary{}, false
	}
	var sum store.Summary
	if err := json.Unmarshal(b, &sum); err != nil {
		return store.Summary{}, false
	}
	return sum, true
}

func (c *Summary) set(ctx context.Context, sum store.Summary) {
	if !c.Enabled() {
		return
	}
	b, err := json.Marshal(sum)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, SummaryKey, b, c.ttl).Err(); err != nil {
		c.warnOnce(err)
	}
}

// Invalidate drops the cached counts after a write.
func (c *Summary) Invalidate(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.client.Del(ctx, SummaryKey).Err(); err != nil {
		c.warnOnce(err)
		return err
	}
	return nil
}

func (c *Summary) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
