package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// StepCache serves previously-computed step outputs keyed by (stepId, kind,
// params fingerprint) (spec.md §4.5 step (1)). Grounded on gomind's
// orchestration.RoutingCache/SimpleCache, generalized from caching routing
// plans to caching any cacheable step's normalized output.
type StepCache interface {
	Get(key string) (*schema.StepOutput, bool)
	Set(key string, out *schema.StepOutput, ttl time.Duration)
	Clear()
	Stats() CacheStats
}

// CacheStats mirrors gomind's CacheStats shape.
type CacheStats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// FingerprintKey builds the step cache key from the step id, kind, and a
// stable hash of its resolved parameters — two calls with identical
// (stepID, kind, params) collide to the same entry regardless of map
// iteration order.
func FingerprintKey(stepID string, kind schema.StepKind, params map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(stepID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(stableJSON(params)))
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// stableJSON marshals v with map keys sorted, so semantically identical
// parameter sets always fingerprint to the same bytes.
func stableJSON(v interface{}) string {
	b, err := json.Marshal(sortKeys(v))
	if err != nil {
		return ""
	}
	return string(b)
}

func sortKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]interface{}, 0, len(keys)*2)
		for _, k := range keys {
			ordered = append(ordered, k, sortKeys(t[k]))
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return t
	}
}

// MemoryStepCache is an in-process TTL cache, one per execution (the
// StepCache is shared across steps within one execution — spec.md §5
// "Shared resources"). A background goroutine evicts expired entries, same
// as gomind's SimpleCache.cleanupRoutine.
type MemoryStepCache struct {
	mu              sync.RWMutex
	items           map[string]*cacheEntry
	stats           CacheStats
	maxSize         int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopped         bool
}

type cacheEntry struct {
	out       *schema.StepOutput
	expiresAt time.Time
}

// NewMemoryStepCache creates a cache bounded to maxSize entries, evicting
// expired (then oldest) entries on overflow.
func NewMemoryStepCache(maxSize int, cleanupInterval time.Duration) *MemoryStepCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	c := &MemoryStepCache{
		items:           make(map[string]*cacheEntry),
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupRoutine()
	return c
}

func (c *MemoryStepCache) Get(key string) (*schema.StepOutput, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.items[key]
	if !found {
		c.stats.Misses++
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	c.updateHitRate()
	return entry.out, true
}

func (c *MemoryStepCache) Set(key string, out *schema.StepOutput, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxSize {
		c.evictExpired()
		if len(c.items) >= c.maxSize {
			c.evictOldest()
		}
	}
	c.items[key] = &cacheEntry{out: out, expiresAt: time.Now().Add(ttl)}
	c.stats.Size = len(c.items)
}

func (c *MemoryStepCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheEntry)
	c.stats.Size = 0
}

func (c *MemoryStepCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// Stop terminates the background cleanup goroutine. Safe to call once.
func (c *MemoryStepCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCleanup)
	}
}

func (c *MemoryStepCache) cleanupRoutine() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpired()
			c.stats.Size = len(c.items)
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryStepCache) evictExpired() {
	now := time.Now()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			c.stats.Evictions++
		}
	}
}

func (c *MemoryStepCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.items {
		if oldestAt.IsZero() || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
		c.stats.Evictions++
	}
}

func (c *MemoryStepCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
