package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/storage"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	adapter := storage.New(storage.Config{Driver: "sqlite3", DSN: ":memory:"}, observability.NewNoopLogger())
	require.NoError(t, adapter.Initialize(context.Background()))
	t.Cleanup(func() { _ = adapter.Close() })
	return NewRecorder(adapter, observability.NewNoopLogger())
}

func TestRecorder_RecordEventIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	r := newTestRecorder(t)

	ev := Event{ID: "fixed-id", EventType: "cache_hit", StandardID: "std-1", Timestamp: time.Now()}
	id1, err := r.RecordEvent(ctx, ev)
	require.NoError(t, err)
	id2, err := r.RecordEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	events, err := r.GetEvents(ctx, Filter{EventType: "cache_hit"})
	require.NoError(t, err)
	require.Len(t, events, 1, "re-recording the same id must not duplicate the row")
}

func TestRecorder_RecordNeverErrors(t *testing.T) {
	r := newTestRecorder(t)
	r.Record("cache_miss", "std-2", map[string]interface{}{"tier": "memory"}, 5*time.Millisecond)

	events, err := r.GetEvents(context.Background(), Filter{EventType: "cache_miss"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "std-2", events[0].StandardID)
}

func TestRecorder_GetEventsFiltersByStandardID(t *testing.T) {
	ctx := context.Background()
	r := newTestRecorder(t)
	r.Record("cache_hit", "std-1", nil, 0)
	r.Record("cache_hit", "std-2", nil, 0)

	events, err := r.GetEvents(ctx, Filter{StandardID: "std-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "std-1", events[0].StandardID)
}

func TestRecorder_GetSummary(t *testing.T) {
	ctx := context.Background()
	r := newTestRecorder(t)
	since := time.Now().Add(-time.Hour)

	r.Record("cache_hit", "std-1", nil, 10*time.Millisecond)
	r.Record("cache_hit", "std-2", nil, 20*time.Millisecond)
	r.Record("cache_miss", "std-3", nil, 0)

	summary, err := r.GetSummary(ctx, since)
	require.NoError(t, err)
	require.Equal(t, 3, summary.TotalEvents)
	require.Equal(t, 2, summary.EventCounts["cache_hit"])
	require.Equal(t, 1, summary.EventCounts["cache_miss"])
	require.InDelta(t, 15.0, summary.AverageDurationMillis, 0.01)
}

func TestRecorder_GetUsagePatterns(t *testing.T) {
	ctx := context.Background()
	r := newTestRecorder(t)
	r.Record("cache_hit", "std-1", nil, 0)
	r.Record("cache_hit", "std-1", nil, 0)
	r.Record("cache_hit", "std-2", nil, 0)

	patterns, err := r.GetUsagePatterns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	require.Equal(t, "std-1", patterns[0].StandardID)
	require.Equal(t, 2, patterns[0].EventCount)
}
