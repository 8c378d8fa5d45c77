package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/skilltrace/lrs/pkg/statement"
)

// ErrUnknownSID is returned when a continuation identifier is absent or has
// been evicted. Maps to 404.
var ErrUnknownSID = errors.New("query: unknown or expired sid")

// ResultSet is one materialized, ordered query result. The ID list is
// immutable once stored; pagination slices it by offset.
type ResultSet struct {
	SID         int64          `json:"sid"`
	IDs         []uuid.UUID    `json:"ids"`
	Format      statement.Mode `json:"format"`
	Attachments bool           `json:"attachments"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Cache stores materialized result sets under server-assigned identifiers.
type Cache interface {
	Put(ctx context.Context, rs *ResultSet) (int64, error)
	Get(ctx context.Context, sid int64) (*ResultSet, error)
	Close() error
}

// MemoryCache is the single-node cache: TTL eviction by a janitor goroutine
// plus a hard capacity cap that drops the oldest sets first.
type MemoryCache struct {
	mu       sync.Mutex
	sets     map[int64]*ResultSet
	order    []int64
	next     int64
	ttl      time.Duration
	capacity int
	done     chan struct{}
	once     sync.Once
}

func NewMemoryCache(ttl, sweep time.Duration, capacity int) *MemoryCache {
	c := &MemoryCache{
		sets:     make(map[int64]*ResultSet),
		ttl:      ttl,
		capacity: capacity,
		done:     make(chan struct{}),
	}
	go c.janitor(sweep)
	return c
}

func (c *MemoryCache) janitor(sweep time.Duration) {
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MemoryCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-c.ttl)
	kept := c.order[:0]
	for _, sid := range c.order {
		rs, ok := c.sets[sid]
		if !ok {
			continue
		}
		if rs.CreatedAt.Before(cutoff) {
			delete(c.sets, sid)
			continue
		}
		kept = append(kept, sid)
	}
	c.order = kept
}

func (c *MemoryCache) Put(_ context.Context, rs *ResultSet) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	rs.SID = c.next
	rs.CreatedAt = time.Now()
	c.sets[rs.SID] = rs
	c.order = append(c.order, rs.SID)
	for c.capacity > 0 && len(c.order) > c.capacity {
		delete(c.sets, c.order[0])
		c.order = c.order[1:]
	}
	return rs.SID, nil
}

func (c *MemoryCache) Get(_ context.Context, sid int64) (*ResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.sets[sid]
	if !ok || time.Since(rs.CreatedAt) > c.ttl {
		return nil, ErrUnknownSID
	}
	return rs, nil
}

func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// RedisCache shares result sets across nodes. Redis owns expiry, so there is
// no janitor.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	redisSeqKey = "lrs:sid:seq"
	redisSetKey = "lrs:sid:%d"
)

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Put(ctx context.Context, rs *ResultSet) (int64, error) {
	sid, err := c.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("query: sid sequence: %w", err)
	}
	rs.SID = sid
	rs.CreatedAt = time.Now()
	payload, err := json.Marshal(rs)
	if err != nil {
		return 0, err
	}
	key := fmt.Sprintf(redisSetKey, sid)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return 0, fmt.Errorf("query: store result set: %w", err)
	}
	return sid, nil
}

func (c *RedisCache) Get(ctx context.Context, sid int64) (*ResultSet, error) {
	payload, err := c.client.Get(ctx, fmt.Sprintf(redisSetKey, sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownSID
	}
	if err != nil {
		return nil, fmt.Errorf("query: load result set: %w", err)
	}
	rs := &ResultSet{}
	if err := json.Unmarshal(payload, rs); err != nil {
		return nil, fmt.Errorf("query: decode result set: %w", err)
	}
	return rs, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
