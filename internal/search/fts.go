// Package search implements the FTS Search Engine on top of SQLite FTS5.
// Ranking uses FTS5's bm25() auxiliary function directly (smaller = more
// relevant) rather than a hand-rolled BM25 implementation: the database
// ranks, this package just scans the resulting rows.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/query"
	"github.com/menoncello/standards-cache/internal/standards"
	"github.com/menoncello/standards-cache/internal/storage"
)

// Result is one ranked search hit: the indexed Standard fields plus its
// bm25() rank. Standard.Rules is left empty — the index only stores the
// rules' concatenated description text for matching, not the
// structured per-rule records; a caller wanting the full Rule slice
// looks it up through the standards cache by ID.
type Result struct {
	Standard standards.Standard
	Score    float64
	Rank     float64
}

// dbResult is the sqlx scan target for a search row; it is converted
// into a Result because standards.Standard carries json tags, not db
// tags, and the search index's rules column is flattened text rather
// than the structured Rule slice.
type dbResult struct {
	StandardID  string  `db:"standard_id"`
	Title       string  `db:"title"`
	Description string  `db:"description"`
	Technology  string  `db:"technology"`
	Category    string  `db:"category"`
	LastUpdated string  `db:"last_updated"`
	Score       float64 `db:"score"`
}

func (r dbResult) toResult() Result {
	lastUpdated, _ := time.Parse(time.RFC3339, r.LastUpdated)
	return Result{
		Standard: standards.Standard{
			ID:          r.StandardID,
			Title:       r.Title,
			Description: r.Description,
			Technology:  r.Technology,
			Category:    r.Category,
			LastUpdated: lastUpdated,
		},
		Score: r.Score,
		Rank:  r.Score,
	}
}

// Options filters and shapes a Search call.
type Options struct {
	Technology string
	Category   string
	Fuzzy      bool
	Limit      int
	Offset     int
	OrderBy    string // "rank" (default), "relevance", "title", "last_updated"
}

var allowedOrderBy = map[string]struct{}{
	"":             {},
	"rank":         {},
	"relevance":    {},
	"title":        {},
	"last_updated": {},
}

// SearchResult is the result of Search: the result page plus the
// pagination and timing metadata callers need to render "N of M
// results in Xms".
type SearchResult struct {
	Results     []Result
	TotalCount  int
	QueryTimeMs int64
	Cached      bool
}

// IndexHealth is the result of get_index_health.
type IndexHealth struct {
	Healthy        bool
	TotalDocuments int
	IndexSize      int64
	LastIndexed    time.Time
}

// cachedPage is the cacheable part of a SearchResult — everything
// except QueryTimeMs and Cached, which are per-call and must reflect
// the actual invocation even on a cache hit.
type cachedPage struct {
	Results    []Result
	TotalCount int
}

// Engine is the FTS Search Engine. Its compiled-query-result cache uses
// hashicorp/golang-lru for an identical "don't recompute an identical
// request" role as the tiered cache's own memory tier, just bounded by
// entry count rather than TTL.
type Engine struct {
	storage *storage.Adapter
	cache   *lru.Cache[string, cachedPage]
	logger  observability.Logger
}

// NewEngine creates an Engine with a query-result cache bounded at
// cacheSize entries.
func NewEngine(adapter *storage.Adapter, cacheSize int, logger observability.Logger) (*Engine, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, cachedPage](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("search: creating query cache: %w", err)
	}
	return &Engine{storage: adapter, cache: cache, logger: logger}, nil
}

// IndexStandard (re)indexes a Standard. FTS5 has no natural upsert by a
// non-rowid key, so re-indexing deletes the prior row for standard_id
// before inserting the new one.
func (e *Engine) IndexStandard(ctx context.Context, s standards.Standard) error {
	var ruleText strings.Builder
	for i, r := range s.Rules {
		if i > 0 {
			ruleText.WriteByte(' ')
		}
		ruleText.WriteString(r.Description)
	}

	if _, err := e.storage.Exec(ctx, "DELETE FROM standards_search WHERE standard_id = ?", s.ID); err != nil {
		return err
	}
	_, err := e.storage.Exec(ctx, `
		INSERT INTO standards_search (standard_id, title, description, technology, category, rules, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Title, s.Description, s.Technology, s.Category, ruleText.String(),
		s.LastUpdated.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	e.cache.Purge()
	return nil
}

// RemoveFromIndex deletes standardID's row, if present.
func (e *Engine) RemoveFromIndex(ctx context.Context, standardID string) error {
	if _, err := e.storage.Exec(ctx, "DELETE FROM standards_search WHERE standard_id = ?", standardID); err != nil {
		return err
	}
	e.cache.Purge()
	return nil
}

// Search parses rawQuery, compiles it to a FTS5 MATCH expression, and
// ranks matches with bm25(). Identical (query, options) pairs hit the
// compiled-result cache instead of re-querying SQLite; query_time_ms is
// still measured fresh on every call, cache hit or not.
func (e *Engine) Search(ctx context.Context, rawQuery string, opts Options) (SearchResult, error) {
	start := time.Now()
	if len(rawQuery) > maxQueryLength {
		return SearchResult{}, ErrQueryTooLong
	}
	if _, ok := allowedOrderBy[opts.OrderBy]; !ok {
		return SearchResult{}, ErrInvalidFilter
	}

	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = "rank"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	pq := query.Optimize(query.Parse(rawQuery), query.DefaultMaxTerms)
	if opts.Fuzzy {
		pq.Fuzzy = true
	}
	matchExpr, err := query.ToMatchExpression(pq)
	if err != nil {
		return SearchResult{}, err
	}

	cacheKey := fmt.Sprintf("%s|%s|%s|%v|%d|%d|%s", matchExpr, opts.Technology, opts.Category, pq.Fuzzy, limit, opts.Offset, orderBy)
	if cached, ok := e.cache.Get(cacheKey); ok {
		return SearchResult{
			Results:     cached.Results,
			TotalCount:  cached.TotalCount,
			QueryTimeMs: time.Since(start).Milliseconds(),
			Cached:      true,
		}, nil
	}

	clauses := []string{"standards_search MATCH ?"}
	args := []interface{}{matchExpr}
	if opts.Technology != "" {
		clauses = append(clauses, "technology = ?")
		args = append(args, opts.Technology)
	}
	if opts.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, opts.Category)
	}
	whereClause := strings.Join(clauses, " AND ")

	var totalCount int
	if err := e.storage.Get(ctx, &totalCount,
		fmt.Sprintf("SELECT COUNT(*) FROM standards_search WHERE %s", whereClause), args...); err != nil {
		return SearchResult{}, err
	}

	sqlOrderBy := "score ASC" // bm25: smaller is more relevant
	switch orderBy {
	case "title":
		sqlOrderBy = "title ASC"
	case "last_updated":
		sqlOrderBy = "last_updated DESC"
	}

	// bm25 column weights follow the standards_search column order
	// (standard_id, title, description, technology, category, rules,
	// last_updated); title matches count ten times as much as the rest.
	sqlQuery := fmt.Sprintf(
		"SELECT standard_id, title, description, technology, category, last_updated, bm25(standards_search, 1.0, 10.0, 1.0, 1.0, 1.0, 1.0, 1.0) AS score FROM standards_search WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		whereClause, sqlOrderBy,
	)
	selectArgs := append(append([]interface{}{}, args...), limit, opts.Offset)

	var rows []dbResult
	if err := e.storage.Select(ctx, &rows, sqlQuery, selectArgs...); err != nil {
		return SearchResult{}, err
	}
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toResult())
	}

	e.cache.Add(cacheKey, cachedPage{Results: results, TotalCount: totalCount})
	return SearchResult{
		Results:     results,
		TotalCount:  totalCount,
		QueryTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// GetSuggestions offers prefix completions against every indexed title.
func (e *Engine) GetSuggestions(ctx context.Context, rawQuery string, limit int) ([]string, error) {
	pq := query.Parse(rawQuery)

	var vocabulary []string
	if err := e.storage.Select(ctx, &vocabulary, "SELECT DISTINCT title FROM standards_search"); err != nil {
		return nil, err
	}
	return query.GetSuggestions(pq, vocabulary, limit), nil
}

// GetSpellingSuggestions corrects likely typos in rawQuery against the
// fixed misspellings table, independent of the index. This is distinct
// from GetSuggestions: that one completes a prefix against indexed
// titles, this one only fixes spelling in the query text itself.
func (e *Engine) GetSpellingSuggestions(rawQuery string) []string {
	return query.SuggestCorrections(query.Parse(rawQuery))
}

// GetIndexHealth reports the current document count, an approximate
// indexed-text byte size, the most recent last_updated timestamp seen
// in the index, and whether the underlying store itself passes its
// integrity/foreign-key checks.
func (e *Engine) GetIndexHealth(ctx context.Context) (IndexHealth, error) {
	var count int
	if err := e.storage.Get(ctx, &count, "SELECT COUNT(*) FROM standards_search"); err != nil {
		return IndexHealth{}, err
	}

	var sizeBytes int64
	if err := e.storage.Get(ctx, &sizeBytes,
		"SELECT COALESCE(SUM(LENGTH(title) + LENGTH(description) + LENGTH(rules)), 0) FROM standards_search"); err != nil {
		return IndexHealth{}, err
	}

	var lastIndexed sql.NullString
	if err := e.storage.Get(ctx, &lastIndexed, "SELECT MAX(last_updated) FROM standards_search"); err != nil {
		return IndexHealth{}, err
	}
	var lastIndexedAt time.Time
	if lastIndexed.Valid {
		lastIndexedAt, _ = time.Parse(time.RFC3339, lastIndexed.String)
	}

	status, err := e.storage.CheckHealth(ctx)
	if err != nil {
		return IndexHealth{}, err
	}

	return IndexHealth{
		Healthy:        status.Healthy,
		TotalDocuments: count,
		IndexSize:      sizeBytes,
		LastIndexed:    lastIndexedAt,
	}, nil
}
