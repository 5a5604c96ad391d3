package storage

// schemaStatements returns the idempotent CREATE TABLE/VIRTUAL TABLE
// statements for the adapter's three tables. They run inside initialize()
// and are safe to run on every startup.
func schemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS standards_cache (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT UNIQUE NOT NULL,
			data BLOB NOT NULL,
			ttl INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			expires_at INTEGER NOT NULL,
			technology TEXT,
			category TEXT,
			standard_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_standards_cache_expires ON standards_cache(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_standards_cache_tech_cat ON standards_cache(technology, category)`,
		`CREATE INDEX IF NOT EXISTS idx_standards_cache_last_accessed ON standards_cache(last_accessed DESC)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS standards_search USING fts5(
			standard_id UNINDEXED,
			title,
			description,
			technology,
			category,
			rules,
			last_updated UNINDEXED,
			tokenize = 'porter unicode61'
		)`,

		`CREATE TABLE IF NOT EXISTS usage_analytics (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			duration INTEGER,
			metadata TEXT,
			standard_id TEXT,
			user_id TEXT,
			session_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_analytics_type_ts ON usage_analytics(event_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_analytics_ts ON usage_analytics(timestamp)`,
	}
}
