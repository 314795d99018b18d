package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    url TEXT UNIQUE NOT NULL,
    source_type TEXT NOT NULL DEFAULT 'rss',
    credibility_score REAL DEFAULT 0.5,
    bayesian_alpha REAL DEFAULT 2.0,
    bayesian_beta REAL DEFAULT 2.0,
    true_positives INTEGER DEFAULT 0,
    false_positives INTEGER DEFAULT 0,
    active INTEGER DEFAULT 1
);

CREATE TABLE IF NOT EXISTS keywords (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    term TEXT UNIQUE NOT NULL,
    category TEXT DEFAULT 'general',
    weight REAL DEFAULT 1.0,
    active INTEGER DEFAULT 1
);

CREATE TABLE IF NOT EXISTS keyword_frequency (
    keyword_id INTEGER NOT NULL REFERENCES keywords(id),
    date TEXT NOT NULL,
    count INTEGER DEFAULT 0,
    PRIMARY KEY (keyword_id, date)
);

CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER REFERENCES sources(id),
    keyword_id INTEGER REFERENCES keywords(id),
    title TEXT NOT NULL,
    content TEXT,
    url TEXT UNIQUE NOT NULL,
    matched_term TEXT,
    severity TEXT DEFAULT 'low',
    risk_score REAL DEFAULT 0.0,
    ors_score REAL DEFAULT 0.0,
    tas_score REAL DEFAULT 0.0,
    content_hash TEXT,
    duplicate_of INTEGER,
    published_at TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    reviewed INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS alert_scores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    alert_id INTEGER NOT NULL REFERENCES alerts(id),
    keyword_weight REAL,
    source_credibility REAL,
    frequency_factor REAL,
    recency_factor REAL,
    final_score REAL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS alert_entities (
    alert_id INTEGER NOT NULL REFERENCES alerts(id),
    entity_type TEXT NOT NULL,
    entity_value TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE (alert_id, entity_type, entity_value)
);

CREATE TABLE IF NOT EXISTS pois (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    org TEXT,
    role TEXT,
    sensitivity INTEGER DEFAULT 3,
    active INTEGER DEFAULT 1
);

CREATE TABLE IF NOT EXISTS poi_aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    poi_id INTEGER NOT NULL REFERENCES pois(id),
    alias TEXT NOT NULL,
    alias_type TEXT DEFAULT 'name',
    active INTEGER DEFAULT 1,
    UNIQUE (poi_id, alias)
);

CREATE TABLE IF NOT EXISTS poi_hits (
    poi_id INTEGER NOT NULL REFERENCES pois(id),
    alert_id INTEGER NOT NULL REFERENCES alerts(id),
    match_type TEXT,
    match_value TEXT NOT NULL,
    match_score REAL DEFAULT 0.0,
    context TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE (poi_id, alert_id, match_value)
);

CREATE INDEX IF NOT EXISTS idx_alerts_published ON alerts(published_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_content_hash ON alerts(content_hash);
CREATE INDEX IF NOT EXISTS idx_alerts_duplicate_of ON alerts(duplicate_of);
CREATE INDEX IF NOT EXISTS idx_alert_entities_alert ON alert_entities(alert_id);
CREATE INDEX IF NOT EXISTS idx_alert_entities_type_value ON alert_entities(entity_type, entity_value);
CREATE INDEX IF NOT EXISTS idx_poi_hits_alert ON poi_hits(alert_id);
CREATE INDEX IF NOT EXISTS idx_keyword_frequency_kw_date ON keyword_frequency(keyword_id, date);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
