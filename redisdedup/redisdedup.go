// Package redisdedup implements consumer message deduplication on redis
package redisdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/aneshas/kafkaevents"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long processed message ids are remembered
const DefaultTTL = 24 * time.Hour

// DefaultPrefix prefixes every message id key
const DefaultPrefix = "kafkaevents:seen:"

// Config represents redis connection configuration
type Config struct {
	Addr     string
	Password string // optional
	DB       int    // optional
}

// Connect connects to redis and makes sure it is reachable
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address must be provided", kafkaevents.ErrInvalidConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Option represents deduplicator option
type Option func(*Deduplicator)

// WithTTL configures how long message ids are remembered
func WithTTL(ttl time.Duration) Option {
	return func(d *Deduplicator) {
		d.ttl = ttl
	}
}

// WithPrefix configures message id key prefix
func WithPrefix(prefix string) Option {
	return func(d *Deduplicator) {
		d.prefix = prefix
	}
}

// New constructs redis backed deduplicator
func New(client redis.Cmdable, opts ...Option) *Deduplicator {
	d := Deduplicator{
		client: client,
		ttl:    DefaultTTL,
		prefix: DefaultPrefix,
	}

	for _, opt := range opts {
		opt(&d)
	}

	return &d
}

var _ kafkaevents.Deduplicator = (*Deduplicator)(nil)

// Deduplicator remembers ids of processed messages for a limited time
type Deduplicator struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// Seen reports whether message with id has already been processed
func (d *Deduplicator) Seen(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(id)).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Mark marks message with id as processed
func (d *Deduplicator) Mark(ctx context.Context, id string) error {
	return d.client.SetNX(ctx, d.key(id), time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
}

func (d *Deduplicator) key(id string) string {
	return d.prefix + id
}
