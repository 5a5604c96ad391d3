// Package analytics implements the Analytics Recorder: a best-effort
// usage event sink that the cache and search tiers call fire-and-forget,
// and that administrators query for summaries and usage patterns. A
// failure here must never propagate to the caller that triggered the
// event — Record swallows its own errors; only the explicit query methods
// return them.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/storage"
)

// Event is one usage_analytics row.
type Event struct {
	ID         string
	EventType  string
	Timestamp  time.Time
	Duration   time.Duration
	Metadata   map[string]interface{}
	StandardID string
	UserID     string
	SessionID  string
}

// dbEvent is the sqlx scan target.
type dbEvent struct {
	ID         string  `db:"id"`
	EventType  string  `db:"event_type"`
	Timestamp  int64   `db:"timestamp"`
	Duration   *int64  `db:"duration"`
	Metadata   *string `db:"metadata"`
	StandardID *string `db:"standard_id"`
	UserID     *string `db:"user_id"`
	SessionID  *string `db:"session_id"`
}

func (r dbEvent) toEvent() Event {
	e := Event{
		ID:        r.ID,
		EventType: r.EventType,
		Timestamp: time.UnixMilli(r.Timestamp),
	}
	if r.Duration != nil {
		e.Duration = time.Duration(*r.Duration) * time.Millisecond
	}
	if r.Metadata != nil {
		_ = json.Unmarshal([]byte(*r.Metadata), &e.Metadata)
	}
	if r.StandardID != nil {
		e.StandardID = *r.StandardID
	}
	if r.UserID != nil {
		e.UserID = *r.UserID
	}
	if r.SessionID != nil {
		e.SessionID = *r.SessionID
	}
	return e
}

// Filter narrows GetEvents.
type Filter struct {
	EventType  string
	StandardID string
	UserID     string
	SessionID  string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Summary is the result of get_summary.
type Summary struct {
	TotalEvents           int
	EventCounts           map[string]int
	AverageDurationMillis float64
}

// UsagePattern is one row of get_usage_patterns: a standard ranked by
// how often it was touched.
type UsagePattern struct {
	StandardID string
	EventCount int
}

// Recorder is the Analytics Recorder.
type Recorder struct {
	storage *storage.Adapter
	logger  observability.Logger
	now     func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(adapter *storage.Adapter, logger observability.Logger) *Recorder {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Recorder{storage: adapter, logger: logger, now: time.Now}
}

// Record is the fire-and-forget entry point the cache and search tiers
// call. It generates its own event ID and never returns an error — a
// storage failure here is logged and dropped.
func (r *Recorder) Record(eventType, standardID string, metadata map[string]interface{}, duration time.Duration) {
	_, err := r.RecordEvent(context.Background(), Event{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Timestamp:  r.now(),
		Duration:   duration,
		Metadata:   metadata,
		StandardID: standardID,
	})
	if err != nil {
		r.logger.Warn("analytics: record failed", map[string]interface{}{"event_type": eventType, "error": err.Error()})
	}
}

// RecordEvent inserts ev, generating an ID if ev.ID is empty. Re-inserting
// the same ID is a no-op (INSERT OR IGNORE), making retries idempotent.
func (r *Recorder) RecordEvent(ctx context.Context, ev Event) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}

	var metadataJSON interface{}
	if ev.Metadata != nil {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return "", err
		}
		metadataJSON = string(b)
	}

	var durationMillis interface{}
	if ev.Duration > 0 {
		durationMillis = ev.Duration.Milliseconds()
	}

	_, err := r.storage.Exec(ctx, `
		INSERT OR IGNORE INTO usage_analytics (id, event_type, timestamp, duration, metadata, standard_id, user_id, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, ev.Timestamp.UnixMilli(), durationMillis, metadataJSON,
		nullIfEmpty(ev.StandardID), nullIfEmpty(ev.UserID), nullIfEmpty(ev.SessionID),
	)
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetEvents returns events matching filter, most recent first.
func (r *Recorder) GetEvents(ctx context.Context, filter Filter) ([]Event, error) {
	clauses := []string{"1=1"}
	var args []interface{}

	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.StandardID != "" {
		clauses = append(clauses, "standard_id = ?")
		args = append(args, filter.StandardID)
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UnixMilli())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, event_type, timestamp, duration, metadata, standard_id, user_id, session_id FROM usage_analytics WHERE " +
		joinAnd(clauses) + " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	var rows []dbEvent
	if err := r.storage.Select(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// GetSummary aggregates event counts and average duration since the
// given time.
func (r *Recorder) GetSummary(ctx context.Context, since time.Time) (Summary, error) {
	type countRow struct {
		EventType string `db:"event_type"`
		Count     int    `db:"count"`
	}
	var rows []countRow
	if err := r.storage.Select(ctx, &rows,
		"SELECT event_type, COUNT(*) AS count FROM usage_analytics WHERE timestamp >= ? GROUP BY event_type",
		since.UnixMilli()); err != nil {
		return Summary{}, err
	}

	summary := Summary{EventCounts: make(map[string]int, len(rows))}
	for _, row := range rows {
		summary.EventCounts[row.EventType] = row.Count
		summary.TotalEvents += row.Count
	}

	var avg struct {
		Avg *float64 `db:"avg"`
	}
	if err := r.storage.Get(ctx, &avg, "SELECT AVG(duration) AS avg FROM usage_analytics WHERE timestamp >= ? AND duration IS NOT NULL", since.UnixMilli()); err != nil {
		return Summary{}, err
	}
	if avg.Avg != nil {
		summary.AverageDurationMillis = *avg.Avg
	}

	return summary, nil
}

// GetUsagePatterns ranks standards by how often they appear in recorded
// events, most-touched first.
func (r *Recorder) GetUsagePatterns(ctx context.Context, topN int) ([]UsagePattern, error) {
	if topN <= 0 {
		topN = 10
	}
	type row struct {
		StandardID string `db:"standard_id"`
		Count      int    `db:"count"`
	}
	var rows []row
	if err := r.storage.Select(ctx, &rows,
		`SELECT standard_id, COUNT(*) AS count FROM usage_analytics
		 WHERE standard_id IS NOT NULL GROUP BY standard_id ORDER BY count DESC LIMIT ?`, topN); err != nil {
		return nil, err
	}
	patterns := make([]UsagePattern, 0, len(rows))
	for _, r := range rows {
		patterns = append(patterns, UsagePattern{StandardID: r.StandardID, EventCount: r.Count})
	}
	return patterns, nil
}
