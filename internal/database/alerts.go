package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertAlert inserts a new alert. Returns the ID on success, 0 if an alert
// with the same URL already exists.
func (db *DB) InsertAlert(a *Alert) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO alerts (source_id, keyword_id, title, content, url, matched_term,
			severity, risk_score, ors_score, tas_score, content_hash, duplicate_of, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SourceID, a.KeywordID, a.Title, a.Content, a.URL, a.MatchedTerm,
		a.Severity, a.RiskScore, a.ORSScore, a.TASScore, a.ContentHash, a.DuplicateOf, a.PublishedAt,
	)
	if err != nil {
		// Duplicate URL constraint
		return 0, nil //nolint: nilerr
	}
	return result.LastInsertId()
}

// UpsertAlertByURL inserts an alert or refreshes the existing row with the same
// URL. Fixture collectors use stable scheme URLs as natural keys, so re-runs
// update in place instead of producing duplicates.
func (db *DB) UpsertAlertByURL(a *Alert) (int64, bool, error) {
	var existing int64
	err := db.conn.QueryRow("SELECT id FROM alerts WHERE url = ?", a.URL).Scan(&existing)
	if err == sql.ErrNoRows {
		result, err := db.conn.Exec(
			`INSERT INTO alerts (source_id, keyword_id, title, content, url, matched_term,
				severity, risk_score, ors_score, tas_score, content_hash, published_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.SourceID, a.KeywordID, a.Title, a.Content, a.URL, a.MatchedTerm,
			a.Severity, a.RiskScore, a.ORSScore, a.TASScore, a.ContentHash, a.PublishedAt,
		)
		if err != nil {
			return 0, false, err
		}
		id, err := result.LastInsertId()
		return id, true, err
	}
	if err != nil {
		return 0, false, err
	}
	_, err = db.conn.Exec(
		`UPDATE alerts SET source_id = ?, keyword_id = ?, title = ?, content = ?,
			matched_term = ?, severity = ?, risk_score = ?, ors_score = ?, tas_score = ?,
			published_at = ?, duplicate_of = NULL
		WHERE id = ?`,
		a.SourceID, a.KeywordID, a.Title, a.Content, a.MatchedTerm,
		a.Severity, a.RiskScore, a.ORSScore, a.TASScore, a.PublishedAt, existing,
	)
	return existing, false, err
}

// AlertsSince returns non-duplicate alerts with event time at or after cutoff,
// joined with source name and type, newest first. This is the correlation
// engine's single bulk alert read.
func (db *DB) AlertsSince(cutoff time.Time, includeDemo bool) ([]Alert, error) {
	query := `SELECT a.id, a.source_id, a.keyword_id, a.title, a.content, a.url,
			COALESCE(a.matched_term, ''), a.severity,
			a.risk_score, COALESCE(a.ors_score, a.risk_score, 0), COALESCE(a.tas_score, 0),
			a.content_hash, a.duplicate_of, COALESCE(a.published_at, a.created_at), a.created_at, a.reviewed,
			COALESCE(s.name, 'unknown'), COALESCE(s.source_type, '')
		FROM alerts a
		LEFT JOIN sources s ON s.id = a.source_id
		WHERE a.duplicate_of IS NULL
		  AND datetime(COALESCE(a.published_at, a.created_at)) >= datetime(?)`
	if !includeDemo {
		query += ` AND COALESCE(s.source_type, '') != 'demo'`
	}
	query += ` ORDER BY datetime(COALESCE(a.published_at, a.created_at)) DESC, a.id DESC`

	rows, err := db.conn.Query(query, FormatTimestamp(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// AlertsForDate returns non-duplicate alerts created on a single UTC date.
func (db *DB) AlertsForDate(date string) ([]Alert, error) {
	rows, err := db.conn.Query(
		`SELECT a.id, a.source_id, a.keyword_id, a.title, a.content, a.url,
			COALESCE(a.matched_term, ''), a.severity,
			a.risk_score, COALESCE(a.ors_score, a.risk_score, 0), COALESCE(a.tas_score, 0),
			a.content_hash, a.duplicate_of, a.published_at, a.created_at, a.reviewed,
			COALESCE(s.name, 'unknown'), COALESCE(s.source_type, '')
		FROM alerts a
		LEFT JOIN sources s ON s.id = a.source_id
		WHERE a.duplicate_of IS NULL AND date(a.created_at) = ?
		ORDER BY a.risk_score DESC, a.id DESC`, date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListAlerts returns recent non-duplicate alerts with optional severity and
// reviewed filters, for the HTTP API.
func (db *DB) ListAlerts(severity string, reviewed *bool, limit, offset int) ([]Alert, error) {
	query := `SELECT a.id, a.source_id, a.keyword_id, a.title, a.content, a.url,
			COALESCE(a.matched_term, ''), a.severity,
			a.risk_score, COALESCE(a.ors_score, a.risk_score, 0), COALESCE(a.tas_score, 0),
			a.content_hash, a.duplicate_of, a.published_at, a.created_at, a.reviewed,
			COALESCE(s.name, 'unknown'), COALESCE(s.source_type, '')
		FROM alerts a
		LEFT JOIN sources s ON s.id = a.source_id
		WHERE a.duplicate_of IS NULL`
	var args []any
	if severity != "" {
		query += " AND a.severity = ?"
		args = append(args, severity)
	}
	if reviewed != nil {
		query += " AND a.reviewed = ?"
		args = append(args, boolToInt(*reviewed))
	}
	query += " ORDER BY datetime(a.created_at) DESC, a.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// GetAlertByID returns a single alert, or nil if it does not exist.
func (db *DB) GetAlertByID(alertID int64) (*Alert, error) {
	rows, err := db.conn.Query(
		`SELECT a.id, a.source_id, a.keyword_id, a.title, a.content, a.url,
			COALESCE(a.matched_term, ''), a.severity,
			a.risk_score, COALESCE(a.ors_score, a.risk_score, 0), COALESCE(a.tas_score, 0),
			a.content_hash, a.duplicate_of, a.published_at, a.created_at, a.reviewed,
			COALESCE(s.name, 'unknown'), COALESCE(s.source_type, '')
		FROM alerts a
		LEFT JOIN sources s ON s.id = a.source_id
		WHERE a.id = ?`, alertID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	alerts, err := scanAlerts(rows)
	if err != nil || len(alerts) == 0 {
		return nil, err
	}
	return &alerts[0], nil
}

// FindAlertByContentHash returns the ID of a non-duplicate alert with the given
// content hash, or 0 if none exists. Dedup fast path.
func (db *DB) FindAlertByContentHash(hash string) (int64, error) {
	var id int64
	err := db.conn.QueryRow(
		"SELECT id FROM alerts WHERE content_hash = ? AND duplicate_of IS NULL LIMIT 1",
		hash,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

// SameDayAlertTitles returns (id, title) pairs for non-duplicate alerts created
// today, newest first, bounded. Dedup fuzzy-title candidate set.
func (db *DB) SameDayAlertTitles(date string, limit int) (map[int64]string, error) {
	rows, err := db.conn.Query(
		`SELECT id, title FROM alerts
		WHERE created_at >= ? AND duplicate_of IS NULL
		ORDER BY id DESC LIMIT ?`, date, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	titles := make(map[int64]string)
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// MarkDuplicate records that an alert duplicates an earlier one.
func (db *DB) MarkDuplicate(alertID, duplicateOf int64) error {
	_, err := db.conn.Exec(
		"UPDATE alerts SET duplicate_of = ? WHERE id = ?", duplicateOf, alertID,
	)
	return err
}

// UpdateAlertScores writes computed scores and severity back to an alert.
func (db *DB) UpdateAlertScores(alertID int64, riskScore, orsScore, tasScore float64, severity string) error {
	_, err := db.conn.Exec(
		"UPDATE alerts SET risk_score = ?, ors_score = ?, tas_score = ?, severity = ? WHERE id = ?",
		riskScore, orsScore, tasScore, severity, alertID,
	)
	return err
}

// InsertScoreAudit stores the factor breakdown behind one scoring decision.
func (db *DB) InsertScoreAudit(audit *ScoreAudit) error {
	_, err := db.conn.Exec(
		`INSERT INTO alert_scores
			(alert_id, keyword_weight, source_credibility, frequency_factor, recency_factor, final_score)
		VALUES (?, ?, ?, ?, ?, ?)`,
		audit.AlertID, audit.KeywordWeight, audit.SourceCredibility,
		audit.FrequencyFactor, audit.RecencyFactor, audit.FinalScore,
	)
	return err
}

// UnscoredAlerts returns non-duplicate alerts that have no score audit yet.
func (db *DB) UnscoredAlerts() ([]Alert, error) {
	rows, err := db.conn.Query(
		`SELECT a.id, a.source_id, a.keyword_id, a.title, a.content, a.url,
			COALESCE(a.matched_term, ''), a.severity,
			a.risk_score, COALESCE(a.ors_score, a.risk_score, 0), COALESCE(a.tas_score, 0),
			a.content_hash, a.duplicate_of, a.published_at, a.created_at, a.reviewed,
			COALESCE(s.name, 'unknown'), COALESCE(s.source_type, '')
		FROM alerts a
		LEFT JOIN sources s ON s.id = a.source_id
		LEFT JOIN alert_scores sc ON sc.alert_id = a.id
		WHERE a.duplicate_of IS NULL AND sc.alert_id IS NULL
		ORDER BY a.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// AlertsNeedingContent returns non-duplicate http(s) alerts with empty content.
func (db *DB) AlertsNeedingContent(limit int) ([]Alert, error) {
	rows, err := db.conn.Query(
		`SELECT a.id, a.source_id, a.keyword_id, a.title, a.content, a.url,
			COALESCE(a.matched_term, ''), a.severity,
			a.risk_score, COALESCE(a.ors_score, a.risk_score, 0), COALESCE(a.tas_score, 0),
			a.content_hash, a.duplicate_of, a.published_at, a.created_at, a.reviewed,
			COALESCE(s.name, 'unknown'), COALESCE(s.source_type, '')
		FROM alerts a
		LEFT JOIN sources s ON s.id = a.source_id
		WHERE a.duplicate_of IS NULL
		  AND (a.content IS NULL OR a.content = '')
		  AND a.url LIKE 'http%'
		ORDER BY a.id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// UpdateAlertContent stores fetched full text for an alert.
func (db *DB) UpdateAlertContent(alertID int64, content string) error {
	_, err := db.conn.Exec("UPDATE alerts SET content = ? WHERE id = ?", content, alertID)
	return err
}

// MarkReviewed flags an alert as analyst-reviewed and returns its source ID so
// the caller can feed the review outcome into source credibility.
func (db *DB) MarkReviewed(alertID int64) (int64, error) {
	var sourceID int64
	err := db.conn.QueryRow("SELECT source_id FROM alerts WHERE id = ?", alertID).Scan(&sourceID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("alert %d not found", alertID)
	}
	if err != nil {
		return 0, err
	}
	_, err = db.conn.Exec("UPDATE alerts SET reviewed = 1 WHERE id = ?", alertID)
	return sourceID, err
}

// SeverityCounts returns alert counts per severity for a single UTC date.
func (db *DB) SeverityCounts(date string) (map[string]int, error) {
	rows, err := db.conn.Query(
		`SELECT severity, COUNT(*) FROM alerts
		WHERE duplicate_of IS NULL AND date(created_at) = ?
		GROUP BY severity`, date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}

func scanAlerts(rows *sql.Rows) ([]Alert, error) {
	var alerts []Alert
	for rows.Next() {
		var a Alert
		var reviewed int
		if err := rows.Scan(&a.ID, &a.SourceID, &a.KeywordID, &a.Title, &a.Content, &a.URL,
			&a.MatchedTerm, &a.Severity, &a.RiskScore, &a.ORSScore, &a.TASScore,
			&a.ContentHash, &a.DuplicateOf, &a.PublishedAt, &a.CreatedAt, &reviewed,
			&a.SourceName, &a.SourceType); err != nil {
			return nil, err
		}
		a.Reviewed = reviewed != 0
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
