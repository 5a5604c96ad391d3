package persistent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/menoncello/standards-cache/internal/keyschema"
	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/storage"
)

func newTestBackend(t *testing.T) *Backend[string] {
	t.Helper()
	adapter := storage.New(storage.Config{Driver: "sqlite3", DSN: ":memory:"}, observability.NewNoopLogger())
	require.NoError(t, adapter.Initialize(context.Background()))
	t.Cleanup(func() { _ = adapter.Close() })

	return NewBackend[string](adapter, JSONCodec[string](), Config{
		MaxSize:         100,
		DefaultTTL:      time.Hour,
		SyncInterval:    time.Minute,
		CleanupInterval: time.Minute,
	}, observability.NewNoopLogger(), nil)
}

func TestBackend_SetSyncGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	key := keyschema.BuildStandardsItemKey("typescript", "naming", "std-1")
	b.Set(key, `{"id":"std-1"}`, time.Hour)

	require.NoError(t, b.SyncToDisk(ctx))

	fresh := newTestBackendSharingStorage(t, b)
	v, ok, err := fresh.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"id":"std-1"}`, v)
}

// newTestBackendSharingStorage simulates a process restart: a fresh
// Backend (empty memory mirror) pointed at the same already-initialized
// adapter must rehydrate from disk on Get, without ever calling
// LoadFromDisk, proving the lazy-rehydrate path works independently of
// the startup hydration path.
func newTestBackendSharingStorage(t *testing.T, existing *Backend[string]) *Backend[string] {
	t.Helper()
	return NewBackend[string](existing.storage, JSONCodec[string](), existing.cfg, observability.NewNoopLogger(), nil)
}

func TestBackend_DeleteIsImmediate(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	key := keyschema.BuildStandardsItemKey("go", "errors", "std-2")
	b.Set(key, "v", time.Hour)
	require.NoError(t, b.SyncToDisk(ctx))

	require.NoError(t, b.Delete(ctx, key))

	_, ok, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	var count int
	require.NoError(t, b.storage.Get(ctx, &count, "SELECT COUNT(*) FROM standards_cache WHERE key = ?", key))
	require.Equal(t, 0, count)
}

func TestBackend_CleanupExpiredRemovesDiskRows(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	key := keyschema.BuildStandardsItemKey("go", "errors", "std-3")
	b.Set(key, "v", 10*time.Millisecond)
	require.NoError(t, b.SyncToDisk(ctx))

	clock = clock.Add(20 * time.Millisecond)
	n, err := b.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestBackend_InvalidateByPattern(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	k1 := keyschema.BuildStandardsItemKey("typescript", "naming", "std-1")
	k2 := keyschema.BuildStandardsItemKey("typescript", "naming", "std-2")
	k3 := keyschema.BuildStandardsItemKey("go", "naming", "std-3")
	b.Set(k1, "v1", time.Hour)
	b.Set(k2, "v2", time.Hour)
	b.Set(k3, "v3", time.Hour)
	require.NoError(t, b.SyncToDisk(ctx))

	n, err := b.Invalidate(ctx, "standards:typescript:naming:*")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, ok, _ := b.Get(ctx, k1)
	require.False(t, ok)
	_, ok, _ = b.Get(ctx, k3)
	require.True(t, ok)
}

func TestBackend_InvalidateEmptyPatternClearsEverything(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	b.Set(keyschema.BuildStandardsItemKey("go", "naming", "a"), "v", time.Hour)
	b.Set(keyschema.BuildStandardsItemKey("go", "naming", "b"), "v", time.Hour)
	require.NoError(t, b.SyncToDisk(ctx))

	n, err := b.Invalidate(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var count int
	require.NoError(t, b.storage.Get(ctx, &count, "SELECT COUNT(*) FROM standards_cache"))
	require.Equal(t, 0, count)
}

func TestBackend_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	k := keyschema.BuildStandardsItemKey("rust", "errors", "std-9")
	b.Set(k, "payload", time.Hour)
	require.NoError(t, b.SyncToDisk(ctx))

	exported, err := b.Export(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 1)

	dst := newTestBackend(t)
	require.NoError(t, dst.Import(ctx, exported))

	v, ok, err := dst.Get(ctx, k)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", v)
}

func TestBackend_GetByTechnologyAndCategory(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	b.Set(keyschema.BuildStandardsItemKey("typescript", "naming", "a"), "v1", time.Hour)
	b.Set(keyschema.BuildStandardsItemKey("typescript", "errors", "b"), "v2", time.Hour)
	b.Set(keyschema.BuildStandardsItemKey("go", "naming", "c"), "v3", time.Hour)
	require.NoError(t, b.SyncToDisk(ctx))

	rows, err := b.GetByTechnologyAndCategory(ctx, "typescript", "naming")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "v1", rows[0].Value)
}

func TestBackend_GetExtendedStats(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	b.Set(keyschema.BuildStandardsItemKey("typescript", "naming", "a"), "v1", time.Hour)
	b.Set(keyschema.BuildStandardsItemKey("typescript", "naming", "b"), "v2", time.Hour)
	b.Set(keyschema.BuildStandardsItemKey("go", "naming", "c"), "v3", time.Hour)
	require.NoError(t, b.SyncToDisk(ctx))

	stats, err := b.GetExtendedStats(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 3, stats.DiskEntryCount)
	require.Equal(t, 0, stats.ExpiredCount)
	require.NotEmpty(t, stats.TopTechnologies)
}

func TestBackend_LoadFromDiskHydratesMemory(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	k := keyschema.BuildStandardsItemKey("go", "naming", "z")
	b.Set(k, "v", time.Hour)
	require.NoError(t, b.SyncToDisk(ctx))

	fresh := newTestBackendSharingStorage(t, b)
	require.NoError(t, fresh.LoadFromDisk(ctx))
	require.True(t, fresh.mem.Has(k))
}
