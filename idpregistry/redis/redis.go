// Package redis provides a Redis-backed idpregistry.Registry. Each mapping
// is a JSON value under "<prefix>idp:<idp_id>" written with SETNX so that
// concurrent first registrations converge on a single record.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/udap-gateway-go/idpregistry"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis registry. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: REDIS_KEY_PREFIX
	KeyPrefix string `env:"REDIS_KEY_PREFIX,default=udap:"`
}

// Registry implements idpregistry.Registry on top of Redis.
type Registry struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return NewWithClient(ctx, redis.NewClient(&redis.Options{Addr: addr}), cfg.KeyPrefix)
}

// NewWithClient wraps an existing client. The registry takes ownership of
// cl and closes it on Close.
func NewWithClient(ctx context.Context, cl *redis.Client, keyPrefix string) (*Registry, error) {
	if cl == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", idpregistry.ErrStorageUnavailable, err)
	}
	if keyPrefix == "" {
		keyPrefix = "udap:"
	}
	return &Registry{client: cl, keyPrefix: keyPrefix}, nil
}

// NewFromEnv builds a Registry using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Registry, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redis registry config: %w", err)
	}
	return New(ctx, cfg)
}

func (r *Registry) key(idpID string) string { return r.keyPrefix + "idp:" + idpID }

// Register writes m with SETNX. created is false when another writer got
// there first.
func (r *Registry) Register(ctx context.Context, m idpregistry.Mapping) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", idpregistry.ErrInvalidMapping, err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("marshal mapping: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(m.IDPID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", idpregistry.ErrStorageUnavailable, m.IDPID, err)
	}
	return ok, nil
}

// Lookup reads the mapping for idpID.
func (r *Registry) Lookup(ctx context.Context, idpID string) (*idpregistry.Mapping, error) {
	data, err := r.client.Get(ctx, r.key(idpID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, idpregistry.ErrUnknownIDP
		}
		return nil, fmt.Errorf("%w: get %s: %v", idpregistry.ErrStorageUnavailable, idpID, err)
	}
	var m idpregistry.Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", idpregistry.ErrStorageUnavailable, idpID, err)
	}
	return &m, nil
}

// Close closes the Redis client.
func (r *Registry) Close() error { return r.client.Close() }

var _ idpregistry.Registry = (*Registry)(nil)
