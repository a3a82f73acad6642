// Package redis stores the custom claims the token service embeds into
// issued tokens.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/opentrusty/entitlements/internal/claims"
)

// Config holds redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps a redis connection
type Client struct {
	rdb *goredis.Client
}

// NewClient connects to redis and verifies the connection
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimsRepository persists one claims set per uid as a JSON value.
type ClaimsRepository struct {
	client *Client
	prefix string
}

// NewClaimsRepository creates a claims repository. Keys are prefix+uid.
func NewClaimsRepository(client *Client, prefix string) *ClaimsRepository {
	return &ClaimsRepository{client: client, prefix: prefix}
}

func (r *ClaimsRepository) key(uid string) string {
	return r.prefix + uid
}

// Put replaces the stored set for uid
func (r *ClaimsRepository) Put(ctx context.Context, uid string, set claims.Set) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}

	if err := r.client.rdb.Set(ctx, r.key(uid), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns the stored set for uid, or claims.ErrClaimsNotFound
func (r *ClaimsRepository) Get(ctx context.Context, uid string) (claims.Set, error) {
	data, err := r.client.rdb.Get(ctx, r.key(uid)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, claims.ErrClaimsNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var set claims.Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claims: %w", err)
	}
	return set, nil
}
