// Package store implements the consumed durable store (spec.md §6 "Durable
// store"): workflow_executions, workflow_step_executions,
// workflow_approval_requests/responses, and token_usage, each a logical
// table rather than a literal SQL schema. Grounded on gomind's
// execution_store.go StorageProvider abstraction (orchestration/
// execution_store.go): a small Get/Set/Del/Exists + sorted-index interface
// that Redis, a SQL table, or an in-memory map can all satisfy, so the state
// and approval packages built on top never import go-redis directly.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/AgentsPilot/neuronforge-sub000/core"
)

// Provider abstracts the underlying storage backend (ground: gomind's
// StorageProvider in orchestration/execution_store.go). Method names are
// storage-agnostic; a Redis implementation maps AddToIndex/ListByScoreDesc
// onto ZADD/ZREVRANGE.
type Provider interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	AddToIndex(ctx context.Context, indexKey string, score float64, member string) error
	ListByScoreDesc(ctx context.Context, indexKey string, offset, count int64) ([]string, error)
	RemoveFromIndex(ctx context.Context, indexKey string, members ...string) error
}

// RedisProvider is the production Provider backed by go-redis/v8. It is the
// Redis backend for everything built on a Provider: ProviderExecutionStore,
// approval.Store and state.Checkpointer.
type RedisProvider struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// RedisProviderOptions configures a RedisProvider (ground: gomind's
// core.RedisClientOptions — URL, namespace, optional logger).
type RedisProviderOptions struct {
	RedisURL  string
	Namespace string
	Logger    core.Logger
}

// NewRedisProvider dials Redis and returns a namespaced Provider.
func NewRedisProvider(opts RedisProviderOptions) (*RedisProvider, error) {
	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, core.NewFrameworkError("store.NewRedisProvider", "config", err)
	}
	client := redis.NewClient(redisOpts)
	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "pilot"
	}
	return &RedisProvider{client: client, namespace: ns, logger: logger}, nil
}

// NewRedisProviderFromClient wraps an already-constructed *redis.Client —
// used in tests against miniredis.
func NewRedisProviderFromClient(client *redis.Client, namespace string, logger core.Logger) *RedisProvider {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if namespace == "" {
		namespace = "pilot"
	}
	return &RedisProvider{client: client, namespace: namespace, logger: logger}
}

func (p *RedisProvider) key(k string) string { return p.namespace + ":" + k }

func (p *RedisProvider) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := p.client.Get(ctx, p.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, core.NewFrameworkError("store.Get", "redis", err)
	}
	return v, true, nil
}

func (p *RedisProvider) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := p.client.Set(ctx, p.key(key), value, ttl).Err(); err != nil {
		return core.NewFrameworkError("store.Set", "redis", err)
	}
	return nil
}

func (p *RedisProvider) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.key(k)
	}
	if err := p.client.Del(ctx, full...).Err(); err != nil {
		return core.NewFrameworkError("store.Del", "redis", err)
	}
	return nil
}

func (p *RedisProvider) Exists(ctx context.Context, key string) (bool, error) {
	n, err := p.client.Exists(ctx, p.key(key)).Result()
	if err != nil {
		return false, core.NewFrameworkError("store.Exists", "redis", err)
	}
	return n > 0, nil
}

func (p *RedisProvider) AddToIndex(ctx context.Context, indexKey string, score float64, member string) error {
	if err := p.client.ZAdd(ctx, p.key(indexKey), &redis.Z{Score: score, Member: member}).Err(); err != nil {
		return core.NewFrameworkError("store.AddToIndex", "redis", err)
	}
	return nil
}

func (p *RedisProvider) ListByScoreDesc(ctx context.Context, indexKey string, offset, count int64) ([]string, error) {
	stop := offset + count - 1
	if count <= 0 {
		stop = -1
	}
	members, err := p.client.ZRevRange(ctx, p.key(indexKey), offset, stop).Result()
	if err != nil {
		return nil, core.NewFrameworkError("store.ListByScoreDesc", "redis", err)
	}
	return members, nil
}

func (p *RedisProvider) RemoveFromIndex(ctx context.Context, indexKey string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := p.client.ZRem(ctx, p.key(indexKey), args...).Err(); err != nil {
		return core.NewFrameworkError("store.RemoveFromIndex", "redis", err)
	}
	return nil
}

// InMemoryProvider is a Provider for tests and single-process deployments
// without Redis. Expiry is checked lazily on Get/Exists.
type InMemoryProvider struct {
	mu      sync.Mutex
	values  map[string]inMemoryEntry
	indexes map[string]map[string]float64
}

type inMemoryEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewInMemoryProvider creates an empty in-memory Provider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		values:  map[string]inMemoryEntry{},
		indexes: map[string]map[string]float64{},
	}
}

func (p *InMemoryProvider) Get(ctx context.Context, key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.values[key]
	if !ok || p.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (p *InMemoryProvider) expired(e inMemoryEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (p *InMemoryProvider) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	p.values[key] = inMemoryEntry{value: value, expires: expires}
	return nil
}

func (p *InMemoryProvider) Del(ctx context.Context, keys ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		delete(p.values, k)
	}
	return nil
}

func (p *InMemoryProvider) Exists(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.values[key]
	return ok && !p.expired(e), nil
}

func (p *InMemoryProvider) AddToIndex(ctx context.Context, indexKey string, score float64, member string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexes[indexKey] == nil {
		p.indexes[indexKey] = map[string]float64{}
	}
	p.indexes[indexKey][member] = score
	return nil
}

func (p *InMemoryProvider) ListByScoreDesc(ctx context.Context, indexKey string, offset, count int64) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.indexes[indexKey]
	members := make([]string, 0, len(idx))
	for m := range idx {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if idx[members[i]] == idx[members[j]] {
			return members[i] > members[j]
		}
		return idx[members[i]] > idx[members[j]]
	})
	start := offset
	if start > int64(len(members)) {
		start = int64(len(members))
	}
	end := start + count
	if count <= 0 || end > int64(len(members)) {
		end = int64(len(members))
	}
	return members[start:end], nil
}

func (p *InMemoryProvider) RemoveFromIndex(ctx context.Context, indexKey string, members ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.indexes[indexKey]
	for _, m := range members {
		delete(idx, m)
	}
	return nil
}

// scoreFromTime renders a time as a ZADD-style descending-sortable score.
func scoreFromTime(t time.Time) float64 { return float64(t.UnixNano()) }

// joinKey builds a namespaced key from parts, mirroring gomind's
// key-prefix-joining convention.
func joinKey(parts ...string) string { return strings.Join(parts, ":") }

var _ Provider = (*RedisProvider)(nil)
var _ Provider = (*InMemoryProvider)(nil)
