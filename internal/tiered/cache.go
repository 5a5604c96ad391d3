// Package tiered implements the Tiered Performance Cache façade: it
// composes a Memory Cache (L1) and a Persistent Cache Backend (L2) behind
// one get/set surface, enforcing a per-tier deadline on each lookup and
// feeding an SLA monitor from the observed latencies.
package tiered

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/menoncello/standards-cache/internal/config"
	"github.com/menoncello/standards-cache/internal/memcache"
	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/persistent"
	"github.com/menoncello/standards-cache/internal/storage"
)

// Stats is the result of get_stats, combining both tiers and the current
// SLA violation rates.
type Stats struct {
	Memory                  memcache.Stats
	Persistent              persistent.ExtendedStats
	MemoryViolationRate     float64
	PersistentViolationRate float64
}

// Cache is the Tiered Performance Cache. It exclusively owns its Memory
// Cache and Persistent Cache Backend.
type Cache[V any] struct {
	memory     *memcache.Cache[V]
	persistent *persistent.Backend[V]
	sla        *SLAMonitor
	targets    config.PerformanceTargets
	logger     observability.Logger

	mu          sync.Mutex
	stopSync    func()
	stopCleanup func()
	started     bool
}

// New wires a Cache from the root Config: a memory tier sized per
// memory_cache, and a persistent tier backed by adapter and sized per
// persistent_cache.
func New[V any](cfg *config.Config, adapter *storage.Adapter, codec persistent.Codec[V], logger observability.Logger, recorder EventRecorder) *Cache[V] {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	mem := memcache.New[V](cfg.MemoryCache.MaxSize, cfg.MemoryCache.TTL)

	pb := persistent.NewBackend[V](adapter, codec, persistent.Config{
		MaxSize:         cfg.PersistentCache.MaxSize,
		DefaultTTL:      cfg.PersistentCache.TTL,
		SyncInterval:    cfg.PersistentCache.SyncInterval,
		CleanupInterval: cfg.PersistentCache.CleanupInterval,
	}, logger, recorder)

	return &Cache[V]{
		memory:     mem,
		persistent: pb,
		sla:        NewSLAMonitor(cfg.SLAMonitoring, recorder),
		targets:    cfg.PerformanceTargets,
		logger:     logger,
	}
}

// Start hydrates the persistent tier from disk and launches its
// background sync/cleanup tasks. Call once, before serving traffic.
func (c *Cache[V]) Start(ctx context.Context) error {
	if err := c.persistent.LoadFromDisk(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.stopSync = c.persistent.StartBackgroundSync(ctx)
	c.stopCleanup = c.persistent.StartBackgroundCleanup(ctx)
	c.started = true
	c.mu.Unlock()
	return nil
}

// Get consults the memory tier first (deadline: max_memory_response_time)
// then the persistent tier (deadline: max_persistent_response_time),
// promoting a persistent hit back into memory. A persistent-tier timeout
// surfaces as context.DeadlineExceeded.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	memStart := time.Now()
	if v, ok := c.memory.Get(key); ok {
		c.sla.Observe("memory", time.Since(memStart), c.targets.MaxMemoryResponseTime)
		return v, true, nil
	}
	c.sla.Observe("memory", time.Since(memStart), c.targets.MaxMemoryResponseTime)

	pctx, cancel := context.WithTimeout(ctx, c.targets.MaxPersistentResponseTime)
	defer cancel()

	type result struct {
		v   V
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	pStart := time.Now()
	go func() {
		v, ok, err := c.persistent.Get(pctx, key)
		ch <- result{v, ok, err}
	}()

	select {
	case r := <-ch:
		c.sla.Observe("persistent", time.Since(pStart), c.targets.MaxPersistentResponseTime)
		if r.err != nil {
			var zero V
			return zero, false, r.err
		}
		if r.ok {
			c.memory.Set(key, r.v, 0)
		}
		return r.v, r.ok, nil
	case <-pctx.Done():
		c.sla.Observe("persistent", time.Since(pStart), c.targets.MaxPersistentResponseTime)
		var zero V
		return zero, false, pctx.Err()
	}
}

// Set writes through to both tiers. The memory write is immediate; the
// persistent write only marks the key dirty for the next sync tick.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.memory.Set(key, value, ttl)
	c.persistent.Set(key, value, ttl)
}

// Delete removes key from both tiers, the persistent deletion landing on
// disk immediately rather than waiting for a sync tick.
func (c *Cache[V]) Delete(ctx context.Context, key string) error {
	c.memory.Delete(key)
	return c.persistent.Delete(ctx, key)
}

// Invalidate removes every key matching pattern (or every key, for an
// empty pattern) from both tiers and returns the distinct count removed.
func (c *Cache[V]) Invalidate(ctx context.Context, pattern string) (int, error) {
	if pattern != "" {
		re, err := globToAnchoredRegexp(pattern)
		if err != nil {
			return 0, err
		}
		for _, k := range c.memory.Keys() {
			if re.MatchString(k) {
				c.memory.Delete(k)
			}
		}
	} else {
		c.memory.Clear()
	}
	return c.persistent.Invalidate(ctx, pattern)
}

func globToAnchoredRegexp(pattern string) (*regexp.Regexp, error) {
	const sentinel = "\x00WILDCARD\x00"
	escaped := regexp.QuoteMeta(strings.ReplaceAll(pattern, "*", sentinel))
	escaped = strings.ReplaceAll(escaped, sentinel, ".*")
	return regexp.Compile("^" + escaped + "$")
}

// WarmupCriticalStandards loads a fixed key list into the memory tier
// within an overall deadline. It is best-effort: a key that errors or is
// absent from the persistent tier is skipped, not fatal, but the overall
// deadline expiring stops the warmup and returns the context error.
func (c *Cache[V]) WarmupCriticalStandards(ctx context.Context, keys []string, deadline time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for _, key := range keys {
		select {
		case <-wctx.Done():
			return wctx.Err()
		default:
		}
		if c.memory.Has(key) {
			continue
		}
		v, ok, err := c.persistent.Get(wctx, key)
		if err != nil {
			c.logger.Warn("tiered: warmup skipped key", map[string]interface{}{"key": key, "error": err.Error()})
			continue
		}
		if ok {
			c.memory.Set(key, v, 0)
		}
	}
	return nil
}

// ListByTechnologyAndCategory flushes pending writes to disk, then reads
// straight through to the persistent tier's denormalized facet columns,
// bypassing the memory tier — an administrative/bulk read, not a hot-path
// lookup.
func (c *Cache[V]) ListByTechnologyAndCategory(ctx context.Context, technology, category string) ([]V, error) {
	if err := c.persistent.SyncToDisk(ctx); err != nil {
		return nil, err
	}
	entries, err := c.persistent.GetByTechnologyAndCategory(ctx, technology, category)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out, nil
}

// GetStats combines both tiers' stats with the SLA monitor's current
// violation rates.
func (c *Cache[V]) GetStats(ctx context.Context) (Stats, error) {
	pstats, err := c.persistent.GetExtendedStats(ctx, 5)
	return Stats{
		Memory:                  c.memory.Stats(),
		Persistent:              pstats,
		MemoryViolationRate:     c.sla.ViolationRate("memory"),
		PersistentViolationRate: c.sla.ViolationRate("persistent"),
	}, err
}

// Destroy stops the persistent tier's background tasks deterministically.
// Safe to call even if Start was never called.
func (c *Cache[V]) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopSync != nil {
		c.stopSync()
		c.stopSync = nil
	}
	if c.stopCleanup != nil {
		c.stopCleanup()
		c.stopCleanup = nil
	}
	c.started = false
}
