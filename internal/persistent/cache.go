// Package persistent implements the Persistent Cache Backend: a durable
// mirror of a Memory Cache, synced to the Storage Adapter on a timer
// instead of on every write. It is built by composition, not inheritance —
// a Backend holds a *memcache.Cache and a *storage.Adapter rather than
// subclassing the memory cache.
package persistent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/menoncello/standards-cache/internal/keyschema"
	"github.com/menoncello/standards-cache/internal/memcache"
	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/resilience"
	"github.com/menoncello/standards-cache/internal/storage"
)

// Codec marshals/unmarshals a cached value to and from the data BLOB
// column. JSONCodec covers every value type this module actually stores;
// a caller with a more compact wire format may supply its own.
type Codec[V any] struct {
	Marshal   func(V) ([]byte, error)
	Unmarshal func([]byte) (V, error)
}

// JSONCodec is the default codec; it stores values as JSON blobs, matching
// how this module's repositories uniformly store JSON in TEXT/BLOB columns.
func JSONCodec[V any]() Codec[V] {
	return Codec[V]{
		Marshal: func(v V) ([]byte, error) { return json.Marshal(v) },
		Unmarshal: func(b []byte) (V, error) {
			var v V
			err := json.Unmarshal(b, &v)
			return v, err
		},
	}
}

// EventRecorder is the narrow slice of internal/analytics.Recorder this
// package depends on, kept local to avoid a persistent->analytics import
// for what is only a best-effort side channel.
type EventRecorder interface {
	Record(eventType, standardID string, metadata map[string]interface{}, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) Record(string, string, map[string]interface{}, time.Duration) {}

// Config configures a Backend's sizing, default TTL, and background task
// intervals.
type Config struct {
	MaxSize         int
	DefaultTTL      time.Duration
	SyncInterval    time.Duration
	CleanupInterval time.Duration
}

// Row is the decoded form of one standards_cache row.
type Row struct {
	Key          string
	TTLMillis    int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	ExpiresAt    time.Time
	Technology   sql.NullString
	Category     sql.NullString
	StandardID   sql.NullString
}

// dbRow is the sqlx scan target; unexported so callers never depend on
// the storage column layout.
type dbRow struct {
	Key          string         `db:"key"`
	Data         []byte         `db:"data"`
	TTL          int64          `db:"ttl"`
	CreatedAt    int64          `db:"created_at"`
	LastAccessed int64          `db:"last_accessed"`
	AccessCount  int64          `db:"access_count"`
	ExpiresAt    int64          `db:"expires_at"`
	Technology   sql.NullString `db:"technology"`
	Category     sql.NullString `db:"category"`
	StandardID   sql.NullString `db:"standard_id"`
}

// ExportedEntry is one record of an export()/import() round trip.
type ExportedEntry[V any] struct {
	Key       string
	Value     V
	ExpiresAt time.Time
}

// FacetCount names a (value, count) pair in GetExtendedStats' top-N lists.
type FacetCount struct {
	Name  string
	Count int
}

// ExtendedStats is the result of get_extended_stats.
type ExtendedStats struct {
	Memory          memcache.Stats
	DiskEntryCount  int
	DiskByteSize    int64
	ExpiredCount    int
	TopTechnologies []FacetCount
	TopCategories   []FacetCount
	OldestCreatedAt time.Time
	NewestCreatedAt time.Time
}

// Backend is the Persistent Cache Backend.
type Backend[V any] struct {
	mem      *memcache.Cache[V]
	storage  *storage.Adapter
	codec    Codec[V]
	logger   observability.Logger
	recorder EventRecorder
	cfg      Config
	now      func() time.Time

	mu    sync.Mutex
	dirty map[string]struct{}
}

// NewBackend creates a Backend. The internal memory mirror is bounded by
// cfg.MaxSize, using the same Memory Cache the tiered cache's L1 uses.
func NewBackend[V any](adapter *storage.Adapter, codec Codec[V], cfg Config, logger observability.Logger, recorder EventRecorder) *Backend[V] {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	return &Backend[V]{
		mem:      memcache.New[V](cfg.MaxSize, cfg.DefaultTTL),
		storage:  adapter,
		codec:    codec,
		logger:   logger,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		dirty:    make(map[string]struct{}),
	}
}

// LoadFromDisk hydrates the memory mirror with the MaxSize
// most-recently-accessed unexpired rows. Called once at startup.
func (b *Backend[V]) LoadFromDisk(ctx context.Context) error {
	limit := b.cfg.MaxSize
	if limit <= 0 {
		limit = 10000
	}
	nowMillis := b.now().UnixMilli()

	var rows []dbRow
	query := `SELECT key, data, ttl, created_at, last_accessed, access_count, expires_at,
		technology, category, standard_id
		FROM standards_cache WHERE expires_at > ? ORDER BY last_accessed DESC LIMIT ?`
	if err := b.storage.Select(ctx, &rows, query, nowMillis, limit); err != nil {
		return err
	}

	now := b.now()
	loaded := 0
	for _, r := range rows {
		value, err := b.codec.Unmarshal(r.Data)
		if err != nil {
			b.logger.Warn("persistent: dropping row with corrupt payload", map[string]interface{}{
				"key": r.Key, "error": err.Error(),
			})
			_, _ = b.storage.Exec(ctx, "DELETE FROM standards_cache WHERE key = ?", r.Key)
			continue
		}
		ttl := time.UnixMilli(r.ExpiresAt).Sub(now)
		if ttl <= 0 {
			continue
		}
		b.mem.Set(r.Key, value, ttl)
		loaded++
	}
	b.logger.Info("persistent: loaded from disk", map[string]interface{}{"count": loaded})
	return nil
}

// Get consults the memory mirror first; on miss it rehydrates from disk
// (for entries evicted from memory but still live on disk) before
// reporting a miss.
func (b *Backend[V]) Get(ctx context.Context, key string) (V, bool, error) {
	if v, ok := b.mem.Get(key); ok {
		b.recorder.Record("cache_hit", b.standardIDOf(key), map[string]interface{}{"tier": "persistent", "source": "memory"}, 0)
		return v, true, nil
	}

	var r dbRow
	query := `SELECT key, data, ttl, created_at, last_accessed, access_count, expires_at,
		technology, category, standard_id FROM standards_cache WHERE key = ?`
	err := b.storage.Get(ctx, &r, query, key)
	if err == sql.ErrNoRows {
		var zero V
		b.recorder.Record("cache_miss", b.standardIDOf(key), map[string]interface{}{"tier": "persistent"}, 0)
		return zero, false, nil
	}
	if err != nil {
		var zero V
		return zero, false, err
	}

	now := b.now()
	ttl := time.UnixMilli(r.ExpiresAt).Sub(now)
	if ttl <= 0 {
		var zero V
		_, _ = b.storage.Exec(ctx, "DELETE FROM standards_cache WHERE key = ?", key)
		b.recorder.Record("cache_miss", b.standardIDOf(key), map[string]interface{}{"tier": "persistent", "reason": "expired"}, 0)
		return zero, false, nil
	}

	value, err := b.codec.Unmarshal(r.Data)
	if err != nil {
		var zero V
		b.logger.Warn("persistent: corrupt payload on rehydrate", map[string]interface{}{"key": key, "error": err.Error()})
		_, _ = b.storage.Exec(ctx, "DELETE FROM standards_cache WHERE key = ?", key)
		return zero, false, nil
	}

	b.mem.Set(key, value, ttl)
	b.recorder.Record("cache_hit", b.standardIDOf(key), map[string]interface{}{"tier": "persistent", "source": "disk"}, 0)
	return value, true, nil
}

// Set writes key into the memory mirror and marks it dirty for the next
// sync_to_disk tick.
func (b *Backend[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = b.cfg.DefaultTTL
	}
	b.mem.Set(key, value, ttl)
	b.markDirty(key)
}

func (b *Backend[V]) markDirty(key string) {
	b.mu.Lock()
	b.dirty[key] = struct{}{}
	b.mu.Unlock()
}

func (b *Backend[V]) standardIDOf(key string) string {
	id, err := keyschema.ExtractStandardID(key)
	if err != nil {
		return ""
	}
	return id
}

// Delete removes key from both tiers immediately — disk deletion does not
// wait for the next sync tick.
func (b *Backend[V]) Delete(ctx context.Context, key string) error {
	b.mem.Delete(key)
	b.mu.Lock()
	delete(b.dirty, key)
	b.mu.Unlock()
	_, err := b.storage.Exec(ctx, "DELETE FROM standards_cache WHERE key = ?", key)
	return err
}

// SyncToDisk upserts every dirty key in a single transaction, then clears
// the dirty set. Keys that vanished from memory between being marked
// dirty and the sync tick (a racing Delete) are skipped.
func (b *Backend[V]) SyncToDisk(ctx context.Context) error {
	b.mu.Lock()
	keys := make([]string, 0, len(b.dirty))
	for k := range b.dirty {
		keys = append(keys, k)
	}
	b.dirty = make(map[string]struct{})
	b.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}

	now := b.now()
	return b.storage.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, key := range keys {
			entry, ok := b.mem.Peek(key)
			if !ok {
				continue
			}
			data, err := b.codec.Marshal(entry.Value)
			if err != nil {
				b.logger.Warn("persistent: skipping unserializable value", map[string]interface{}{"key": key, "error": err.Error()})
				continue
			}
			tech, _ := keyschema.ExtractTechnology(key)
			cat, _ := keyschema.ExtractCategory(key)
			stdID, _ := keyschema.ExtractStandardID(key)

			_, err = tx.ExecContext(ctx, `
				INSERT INTO standards_cache (key, data, ttl, created_at, last_accessed, access_count, expires_at, technology, category, standard_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET
					data = excluded.data,
					ttl = excluded.ttl,
					last_accessed = excluded.last_accessed,
					access_count = standards_cache.access_count + 1,
					expires_at = excluded.expires_at,
					technology = excluded.technology,
					category = excluded.category,
					standard_id = excluded.standard_id
			`,
				key, data, entry.ExpiresAt.Sub(entry.CreatedAt).Milliseconds(),
				entry.CreatedAt.UnixMilli(), now.UnixMilli(), entry.Hits,
				entry.ExpiresAt.UnixMilli(),
				nullIfEmpty(tech), nullIfEmpty(cat), nullIfEmpty(stdID),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CleanupExpired deletes every disk row past its expiry and returns the
// count removed.
func (b *Backend[V]) CleanupExpired(ctx context.Context) (int, error) {
	res, err := b.storage.Exec(ctx, "DELETE FROM standards_cache WHERE expires_at < ?", b.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Invalidate removes every key matching pattern from both tiers and
// returns the distinct count removed. An empty pattern clears everything.
// Pattern matching is anchored glob: "*" matches any run of characters,
// every other character is literal — translated to an anchored regexp that
// decides matches in both tiers (on disk, a LIKE expression only narrows
// the candidate rows).
func (b *Backend[V]) Invalidate(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		seen := make(map[string]struct{})
		for _, k := range b.mem.Keys() {
			seen[k] = struct{}{}
		}

		var diskKeys []string
		if err := b.storage.Select(ctx, &diskKeys, "SELECT key FROM standards_cache"); err != nil {
			return 0, err
		}
		for _, k := range diskKeys {
			seen[k] = struct{}{}
		}

		b.mem.Clear()
		b.mu.Lock()
		b.dirty = make(map[string]struct{})
		b.mu.Unlock()
		if _, err := b.storage.Exec(ctx, "DELETE FROM standards_cache"); err != nil {
			return 0, err
		}
		return len(seen), nil
	}

	re, err := globToAnchoredRegexp(pattern)
	if err != nil {
		return 0, err
	}

	matched := make(map[string]struct{})
	for _, k := range b.mem.Keys() {
		if re.MatchString(k) {
			matched[k] = struct{}{}
		}
	}

	likePattern := strings.ReplaceAll(pattern, "*", "%")
	var diskKeys []string
	if err := b.storage.Select(ctx, &diskKeys, "SELECT key FROM standards_cache WHERE key LIKE ?", likePattern); err != nil {
		return 0, err
	}
	// LIKE is only a coarse prefilter ("_"/"%" wildcards, ASCII
	// case-insensitive); the anchored regexp decides the match.
	for _, k := range diskKeys {
		if re.MatchString(k) {
			matched[k] = struct{}{}
		}
	}

	for k := range matched {
		b.mem.Delete(k)
		b.mu.Lock()
		delete(b.dirty, k)
		b.mu.Unlock()
		if _, err := b.storage.Exec(ctx, "DELETE FROM standards_cache WHERE key = ?", k); err != nil {
			return 0, err
		}
	}

	return len(matched), nil
}

func globToAnchoredRegexp(pattern string) (*regexp.Regexp, error) {
	const sentinel = "\x00WILDCARD\x00"
	escaped := regexp.QuoteMeta(strings.ReplaceAll(pattern, "*", sentinel))
	escaped = strings.ReplaceAll(escaped, sentinel, ".*")
	return regexp.Compile("^" + escaped + "$")
}

// GetByTechnologyAndCategory scans the disk tier by its denormalized
// facet columns, bypassing the memory mirror entirely (this is meant for
// bulk/administrative reads, not hot-path lookups).
func (b *Backend[V]) GetByTechnologyAndCategory(ctx context.Context, technology, category string) ([]ExportedEntry[V], error) {
	clauses := []string{"expires_at > ?"}
	args := []interface{}{b.now().UnixMilli()}
	if technology != "" {
		clauses = append(clauses, "technology = ?")
		args = append(args, technology)
	}
	if category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, category)
	}
	query := fmt.Sprintf("SELECT key, data, ttl, created_at, last_accessed, access_count, expires_at, technology, category, standard_id FROM standards_cache WHERE %s", strings.Join(clauses, " AND "))

	var rows []dbRow
	if err := b.storage.Select(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]ExportedEntry[V], 0, len(rows))
	for _, r := range rows {
		v, err := b.codec.Unmarshal(r.Data)
		if err != nil {
			continue
		}
		out = append(out, ExportedEntry[V]{Key: r.Key, Value: v, ExpiresAt: time.UnixMilli(r.ExpiresAt)})
	}
	return out, nil
}

// Export flushes dirty entries then returns every live row, for backup.
func (b *Backend[V]) Export(ctx context.Context) ([]ExportedEntry[V], error) {
	if err := b.SyncToDisk(ctx); err != nil {
		return nil, err
	}
	var rows []dbRow
	query := `SELECT key, data, ttl, created_at, last_accessed, access_count, expires_at,
		technology, category, standard_id FROM standards_cache WHERE expires_at > ?`
	if err := b.storage.Select(ctx, &rows, query, b.now().UnixMilli()); err != nil {
		return nil, err
	}
	out := make([]ExportedEntry[V], 0, len(rows))
	for _, r := range rows {
		v, err := b.codec.Unmarshal(r.Data)
		if err != nil {
			continue
		}
		out = append(out, ExportedEntry[V]{Key: r.Key, Value: v, ExpiresAt: time.UnixMilli(r.ExpiresAt)})
	}
	return out, nil
}

// Import restores entries previously produced by Export, skipping any
// that have since expired, and immediately syncs them to disk so a
// subsequent Export sees the same set back.
func (b *Backend[V]) Import(ctx context.Context, entries []ExportedEntry[V]) error {
	now := b.now()
	for _, e := range entries {
		if !e.ExpiresAt.After(now) {
			continue
		}
		b.Set(e.Key, e.Value, e.ExpiresAt.Sub(now))
	}
	return b.SyncToDisk(ctx)
}

// GetExtendedStats combines the memory mirror's Stats() with disk-tier
// aggregates: entry/byte counts, the topN most common technology and
// category facets, and the oldest/newest created_at timestamps.
func (b *Backend[V]) GetExtendedStats(ctx context.Context, topN int) (ExtendedStats, error) {
	stats := ExtendedStats{Memory: b.mem.Stats()}
	now := b.now().UnixMilli()

	var diskCount int
	if err := b.storage.Get(ctx, &diskCount, "SELECT COUNT(*) FROM standards_cache WHERE expires_at > ?", now); err != nil {
		return stats, err
	}
	stats.DiskEntryCount = diskCount

	var byteSize sql.NullInt64
	if err := b.storage.Get(ctx, &byteSize, "SELECT SUM(LENGTH(data)) FROM standards_cache WHERE expires_at > ?", now); err != nil {
		return stats, err
	}
	stats.DiskByteSize = byteSize.Int64

	var expiredCount int
	if err := b.storage.Get(ctx, &expiredCount, "SELECT COUNT(*) FROM standards_cache WHERE expires_at <= ?", now); err != nil {
		return stats, err
	}
	stats.ExpiredCount = expiredCount

	if topN <= 0 {
		topN = 5
	}
	type facetRow struct {
		Name  string `db:"name"`
		Count int    `db:"count"`
	}
	var techRows []facetRow
	if err := b.storage.Select(ctx, &techRows,
		`SELECT technology AS name, COUNT(*) AS count FROM standards_cache
		 WHERE expires_at > ? AND technology IS NOT NULL
		 GROUP BY technology ORDER BY count DESC LIMIT ?`, now, topN); err != nil {
		return stats, err
	}
	for _, r := range techRows {
		stats.TopTechnologies = append(stats.TopTechnologies, FacetCount{Name: r.Name, Count: r.Count})
	}

	var catRows []facetRow
	if err := b.storage.Select(ctx, &catRows,
		`SELECT category AS name, COUNT(*) AS count FROM standards_cache
		 WHERE expires_at > ? AND category IS NOT NULL
		 GROUP BY category ORDER BY count DESC LIMIT ?`, now, topN); err != nil {
		return stats, err
	}
	for _, r := range catRows {
		stats.TopCategories = append(stats.TopCategories, FacetCount{Name: r.Name, Count: r.Count})
	}

	var bounds struct {
		Oldest sql.NullInt64 `db:"oldest"`
		Newest sql.NullInt64 `db:"newest"`
	}
	if err := b.storage.Get(ctx, &bounds, "SELECT MIN(created_at) AS oldest, MAX(created_at) AS newest FROM standards_cache WHERE expires_at > ?", now); err != nil {
		return stats, err
	}
	if bounds.Oldest.Valid {
		stats.OldestCreatedAt = time.UnixMilli(bounds.Oldest.Int64)
	}
	if bounds.Newest.Valid {
		stats.NewestCreatedAt = time.UnixMilli(bounds.Newest.Int64)
	}

	return stats, nil
}

// StartBackgroundSync runs SyncToDisk on cfg.SyncInterval, retrying
// transient failures with the module's default backoff policy. The
// returned stop func cancels the ticker deterministically.
func (b *Backend[V]) StartBackgroundSync(ctx context.Context) (stop func()) {
	return b.startBackgroundTask(ctx, b.cfg.SyncInterval, "sync_to_disk", b.SyncToDisk)
}

// StartBackgroundCleanup runs CleanupExpired on cfg.CleanupInterval.
func (b *Backend[V]) StartBackgroundCleanup(ctx context.Context) (stop func()) {
	return b.startBackgroundTask(ctx, b.cfg.CleanupInterval, "cleanup_expired", func(ctx context.Context) error {
		_, err := b.CleanupExpired(ctx)
		return err
	})
}

func (b *Backend[V]) startBackgroundTask(ctx context.Context, interval time.Duration, name string, task func(context.Context) error) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := resilience.Retry(ctx, resilience.DefaultBackgroundRetryConfig(), func() error {
					return task(ctx)
				})
				if err != nil {
					b.logger.Error("persistent: background task failed", map[string]interface{}{"task": name, "error": err.Error()})
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}
