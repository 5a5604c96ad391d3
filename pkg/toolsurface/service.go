package toolsurface

import (
	"context"
	"time"

	"github.com/menoncello/standards-cache/internal/analytics"
	"github.com/menoncello/standards-cache/internal/config"
	"github.com/menoncello/standards-cache/internal/keyschema"
	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/persistent"
	"github.com/menoncello/standards-cache/internal/search"
	"github.com/menoncello/standards-cache/internal/standards"
	"github.com/menoncello/standards-cache/internal/storage"
	"github.com/menoncello/standards-cache/internal/tiered"
)

// Service answers the tool-call surface by composing a Tiered Cache of
// Standards, a second Tiered Cache of ValidationResults (same storage
// adapter, different generic instantiation and key space), the FTS
// Search Engine, and the Analytics Recorder.
type Service struct {
	standardsCache  *tiered.Cache[standards.Standard]
	validationCache *tiered.Cache[ValidationResult]
	engine          *search.Engine
	recorder        *analytics.Recorder
	logger          observability.Logger
}

// NewService wires every component from a single Storage Adapter and
// Config. The caller is responsible for calling Start/Stop.
func NewService(cfg *config.Config, adapter *storage.Adapter, logger observability.Logger) (*Service, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	recorder := analytics.NewRecorder(adapter, logger)

	engine, err := search.NewEngine(adapter, 256, logger)
	if err != nil {
		return nil, err
	}

	standardsCache := tiered.New[standards.Standard](cfg, adapter, persistent.JSONCodec[standards.Standard](), logger, recorder)
	validationCache := tiered.New[ValidationResult](cfg, adapter, persistent.JSONCodec[ValidationResult](), logger, recorder)

	return &Service{
		standardsCache:  standardsCache,
		validationCache: validationCache,
		engine:          engine,
		recorder:        recorder,
		logger:          logger,
	}, nil
}

// Start hydrates both tiered caches from disk and launches their
// background sync/cleanup tasks.
func (s *Service) Start(ctx context.Context) error {
	if err := s.standardsCache.Start(ctx); err != nil {
		return err
	}
	return s.validationCache.Start(ctx)
}

// Stop cancels every background task deterministically.
func (s *Service) Stop() {
	s.standardsCache.Destroy()
	s.validationCache.Destroy()
}

// GetStandards lists standards by facet, bypassing the memory tier (this
// is a bulk administrative read over the persistent tier's denormalized
// facet columns, not a cache-hot path).
func (s *Service) GetStandards(ctx context.Context, req GetStandardsRequest) (GetStandardsResponse, error) {
	start := time.Now()
	items, err := s.standardsCache.ListByTechnologyAndCategory(ctx, req.Technology, req.Category)
	if err != nil {
		return GetStandardsResponse{}, err
	}
	return GetStandardsResponse{
		Standards:    items,
		TotalCount:   len(items),
		ResponseTime: time.Since(start),
	}, nil
}

// GetStandard fetches one standard by its full key triple, through both
// cache tiers.
func (s *Service) GetStandard(ctx context.Context, req GetStandardRequest) (standards.Standard, bool, error) {
	key := keyschema.BuildStandardsItemKey(req.Technology, req.Category, req.ID)
	return s.standardsCache.Get(ctx, key)
}

// SearchStandards runs a full-text query through the FTS Search Engine
// and records a search_performed analytics event.
func (s *Service) SearchStandards(ctx context.Context, req SearchStandardsRequest) (SearchStandardsResponse, error) {
	result, err := s.engine.Search(ctx, req.Query, search.Options{
		Technology: req.Technology,
		Category:   req.Category,
		Fuzzy:      req.Fuzzy,
		Limit:      req.Limit,
		Offset:     req.Offset,
		OrderBy:    req.OrderBy,
	})
	s.recorder.Record("search_performed", "", map[string]interface{}{"query": req.Query}, 0)
	if err != nil {
		return SearchStandardsResponse{}, err
	}
	return SearchStandardsResponse{
		Results:      result.Results,
		TotalCount:   result.TotalCount,
		ResponseTime: time.Duration(result.QueryTimeMs) * time.Millisecond,
		Cached:       result.Cached,
	}, nil
}

// GetCachedValidationResult looks up a previously computed validation
// outcome by its Key Schema "validation result" key. This module caches
// validation outcomes; it does not compute them — the actual rule
// evaluation is a caller concern.
func (s *Service) GetCachedValidationResult(ctx context.Context, req ValidateCodeRequest) (ValidationResult, bool, error) {
	rulesCSV := ""
	for i, r := range req.Rules {
		if i > 0 {
			rulesCSV += ","
		}
		rulesCSV += r
	}
	key := keyschema.BuildValidationResultKey(req.CodeHash, req.Language, rulesCSV)
	return s.validationCache.Get(ctx, key)
}

// CacheValidationResult stores a computed validation outcome for reuse.
func (s *Service) CacheValidationResult(ctx context.Context, req ValidateCodeRequest, result ValidationResult, ttl time.Duration) {
	rulesCSV := ""
	for i, r := range req.Rules {
		if i > 0 {
			rulesCSV += ","
		}
		rulesCSV += r
	}
	key := keyschema.BuildValidationResultKey(req.CodeHash, req.Language, rulesCSV)
	s.validationCache.Set(key, result, ttl)
}

// AddStandard writes a standard into the cache and the search index,
// invalidates its listing key, and records a standard_added event.
func (s *Service) AddStandard(ctx context.Context, req AddStandardRequest) (AddStandardResponse, error) {
	std := req.Standard
	itemKey := keyschema.BuildStandardsItemKey(std.Technology, std.Category, std.ID)
	s.standardsCache.Set(itemKey, std, 0)

	if err := s.engine.IndexStandard(ctx, std); err != nil {
		return AddStandardResponse{}, err
	}

	listingKey := keyschema.BuildStandardsListingKey(std.Technology, std.Category)
	_ = s.standardsCache.Delete(ctx, listingKey)

	s.recorder.Record("standard_added", std.ID, map[string]interface{}{
		"technology": std.Technology, "category": std.Category,
	}, 0)
	return AddStandardResponse{ID: std.ID}, nil
}

// RemoveStandard removes a standard from both the cache and the search
// index and records a standard_removed event.
func (s *Service) RemoveStandard(ctx context.Context, req RemoveStandardRequest) (RemoveStandardResponse, error) {
	itemKey := keyschema.BuildStandardsItemKey(req.Technology, req.Category, req.ID)
	_, existed, err := s.standardsCache.Get(ctx, itemKey)
	if err != nil {
		return RemoveStandardResponse{}, err
	}

	if err := s.standardsCache.Delete(ctx, itemKey); err != nil {
		return RemoveStandardResponse{}, err
	}
	if err := s.engine.RemoveFromIndex(ctx, req.ID); err != nil {
		return RemoveStandardResponse{}, err
	}

	listingKey := keyschema.BuildStandardsListingKey(req.Technology, req.Category)
	_ = s.standardsCache.Delete(ctx, listingKey)

	s.recorder.Record("standard_removed", req.ID, map[string]interface{}{
		"technology": req.Technology, "category": req.Category,
	}, 0)
	return RemoveStandardResponse{Removed: existed}, nil
}

// GetRegistryStats summarizes the standards currently indexed, derived
// from the search index's document set rather than a separate registry
// store.
func (s *Service) GetRegistryStats(ctx context.Context) (GetRegistryStatsResponse, error) {
	health, err := s.engine.GetIndexHealth(ctx)
	if err != nil {
		return GetRegistryStatsResponse{}, err
	}
	lastModified := health.LastIndexed
	if lastModified.IsZero() {
		lastModified = time.Now()
	}
	return GetRegistryStatsResponse{Stats: standards.RegistryStats{
		StandardCount: health.TotalDocuments,
		LastModified:  lastModified,
	}}, nil
}
