package extreg

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jyhwng/boardlink/internal/ext"
)

const (
	keyModules = "extreg:modules"
	defaultTTL = 24 * time.Hour
)

// Registry keeps the locally installed extension list in Redis so every
// client process on a host reads one install state. It satisfies the
// session's extension-source contract.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to redisURL and verifies the server responds.
func New(redisURL string) (*Registry, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for extension registry")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Registry{rdb: rdb, ttl: defaultTTL}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb, ttl: defaultTTL}
}

func (r *Registry) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Put registers (or re-versions) one extension.
func (r *Registry) Put(ctx context.Context, info ext.Info) error {
	if strings.TrimSpace(info.Key) == "" {
		return fmt.Errorf("extension key required")
	}
	if err := r.rdb.HSet(ctx, keyModules, info.Key, info.Version).Err(); err != nil {
		return err
	}
	return r.rdb.Expire(ctx, keyModules, r.ttl).Err()
}

// Remove unregisters one extension.
func (r *Registry) Remove(ctx context.Context, key string) error {
	return r.rdb.HDel(ctx, keyModules, key).Err()
}

// Available lists the installed extensions with keys sorted for a stable
// diagnostic order.
func (r *Registry) Available(ctx context.Context) ([]ext.Info, error) {
	m, err := r.rdb.HGetAll(ctx, keyModules).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ext.Info, 0, len(keys))
	for _, k := range keys {
		out = append(out, ext.Info{Key: k, Version: m[k]})
	}
	return out, nil
}
