package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL is the expiry of tiles stored by Redis.Put when the
// config leaves TTL at zero.
const DefaultRedisTTL = 24 * time.Hour

// RedisConfig configures a Redis source.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix starts every key; empty uses "tile".
	Prefix string
	TTL    time.Duration
}

// Redis reads tiles stored under "<prefix>:<z>:<x>:<y>" keys.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to the server in cfg and checks it answers.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("provider: redis %s: %w", cfg.Addr, err)
	}
	return newRedis(client, cfg), nil
}

func newRedis(client *redis.Client, cfg RedisConfig) *Redis {
	r := &Redis{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
	if r.prefix == "" {
		r.prefix = "tile"
	}
	if r.ttl == 0 {
		r.ttl = DefaultRedisTTL
	}
	return r
}

// Name implements Source.
func (r *Redis) Name() string { return "redis:" + r.prefix }

func (r *Redis) keyFor(t maptile.Tile) string {
	return fmt.Sprintf("%s:%d:%d:%d", r.prefix, t.Z, t.X, t.Y)
}

// Get implements Source.
func (r *Redis) Get(ctx context.Context, t maptile.Tile) ([]byte, error) {
	data, err := r.client.Get(ctx, r.keyFor(t)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Put stores the encoded tile.
func (r *Redis) Put(ctx context.Context, t maptile.Tile, data []byte) error {
	if err := r.client.Set(ctx, r.keyFor(t), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
