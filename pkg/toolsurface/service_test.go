package toolsurface

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/menoncello/standards-cache/internal/config"
	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/standards"
	"github.com/menoncello/standards-cache/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.PersistentCache.Enabled = false

	adapter := storage.New(storage.Config{Driver: "sqlite3", DSN: ":memory:"}, observability.NewNoopLogger())
	require.NoError(t, adapter.Initialize(context.Background()))
	t.Cleanup(func() { _ = adapter.Close() })

	svc, err := NewService(cfg, adapter, observability.NewNoopLogger())
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)
	return svc
}

func TestService_AddAndSearchStandards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.AddStandard(ctx, AddStandardRequest{Standard: standards.Standard{
		ID:          "std-1",
		Title:       "Interface Naming",
		Description: "Interfaces must use PascalCase.",
		Technology:  "typescript",
		Category:    "naming",
		LastUpdated: time.Now(),
	}})
	require.NoError(t, err)

	resp, err := svc.SearchStandards(ctx, SearchStandardsRequest{Query: "interface naming"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, 1, resp.TotalCount)
	require.False(t, resp.Cached)
	require.GreaterOrEqual(t, resp.ResponseTime, time.Duration(0))
}

func TestService_GetStandardsReportsTotalCount(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.AddStandard(ctx, AddStandardRequest{Standard: standards.Standard{
		ID:          "std-1",
		Title:       "Interface Naming",
		Technology:  "typescript",
		Category:    "naming",
		LastUpdated: time.Now(),
	}})
	require.NoError(t, err)

	resp, err := svc.GetStandards(ctx, GetStandardsRequest{Technology: "typescript", Category: "naming"})
	require.NoError(t, err)
	require.Len(t, resp.Standards, 1)
	require.Equal(t, 1, resp.TotalCount)
}

func TestService_GetRegistryStatsUsesIndexHealth(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.AddStandard(ctx, AddStandardRequest{Standard: standards.Standard{
		ID:          "std-1",
		Title:       "Interface Naming",
		Technology:  "typescript",
		Category:    "naming",
		LastUpdated: time.Now(),
	}})
	require.NoError(t, err)

	stats, err := svc.GetRegistryStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Stats.StandardCount)
}
