// Package sessioncache implements a Redis-backed cache of active session
// summaries. The cache is a lookup accelerator for high-frequency session
// polling; it is never authoritative and a miss simply falls back to
// replaying the session from the event log.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/ordersession"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when looking up a session that is not cached.
var ErrMiss = errors.New("session not cached")

// An Entry is the cached summary of a session. Subtotal is in minor currency
// units.
type Entry struct {
	SessionID      uuid.UUID `json:"sessionId"`
	Status         string    `json:"status"`
	ItemCount      int       `json:"itemCount"`
	Subtotal       int64     `json:"subtotal"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Cache caches session summaries in Redis with a sliding TTL.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// Option is a Cache option.
type Option func(*config)

type config struct {
	url    string
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// URL returns an Option that sets the Redis connection URL. Defaults to the
// REDIS_URL environment variable.
func URL(url string) Option {
	return func(cfg *config) {
		cfg.url = url
	}
}

// Client returns an Option that uses an existing Redis client instead of
// connecting via URL.
func Client(client redis.UniversalClient) Option {
	return func(cfg *config) {
		cfg.client = client
	}
}

// TTL returns an Option that sets the expiry of cached sessions. Defaults to
// 30 minutes.
func TTL(ttl time.Duration) Option {
	return func(cfg *config) {
		cfg.ttl = ttl
	}
}

// KeyPrefix returns an Option that sets the key prefix of cached sessions.
// Defaults to "orderflow:session:".
func KeyPrefix(prefix string) Option {
	return func(cfg *config) {
		cfg.prefix = prefix
	}
}

// New returns a session cache.
func New(opts ...Option) (*Cache, error) {
	cfg := config{
		ttl:    30 * time.Minute,
		prefix: "orderflow:session:",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		url := cfg.url
		if url == "" {
			url = os.Getenv("REDIS_URL")
		}
		redisOpts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(redisOpts)
	}

	return &Cache{
		client: client,
		ttl:    cfg.ttl,
		prefix: cfg.prefix,
	}, nil
}

// Put caches a session summary with the configured TTL.
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(entry.SessionID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %q: %w", c.key(entry.SessionID), err)
	}
	return nil
}

// Get returns the cached summary of a session. An uncached session fails
// with ErrMiss; the caller falls back to the event log.
func (c *Cache) Get(ctx context.Context, sessionID uuid.UUID) (Entry, error) {
	b, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, fmt.Errorf("session %s: %w", sessionID, ErrMiss)
		}
		return Entry{}, fmt.Errorf("get %q: %w", c.key(sessionID), err)
	}

	var entry Entry
	if err := json.Unmarshal(b, &entry); err != nil {
		return Entry{}, fmt.Errorf("unmarshal entry: %w", err)
	}
	return entry, nil
}

// Touch extends the TTL of a cached session without changing its summary.
// Touching an uncached session fails with ErrMiss.
func (c *Cache) Touch(ctx context.Context, sessionID uuid.UUID) error {
	ok, err := c.client.Expire(ctx, c.key(sessionID), c.ttl).Result()
	if err != nil {
		return fmt.Errorf("expire %q: %w", c.key(sessionID), err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrMiss)
	}
	return nil
}

// Delete evicts a session from the cache.
func (c *Cache) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("del %q: %w", c.key(sessionID), err)
	}
	return nil
}

// RecordActivity implements ordersession.ActivityRecorder. Terminal sessions
// are evicted; everything else is cached with a fresh TTL.
func (c *Cache) RecordActivity(ctx context.Context, s *ordersession.Session) error {
	if s.Status().Terminal() {
		return c.Delete(ctx, s.AggregateID())
	}

	var count int
	for _, item := range s.CartItems() {
		count += item.Quantity
	}

	return c.Put(ctx, Entry{
		SessionID:      s.AggregateID(),
		Status:         s.Status().String(),
		ItemCount:      count,
		Subtotal:       s.Subtotal(),
		LastActivityAt: s.LastActivityAt(),
	})
}

func (c *Cache) key(sessionID uuid.UUID) string {
	return c.prefix + sessionID.String()
}
