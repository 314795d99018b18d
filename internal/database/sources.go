package database

import "database/sql"

// UpsertSource inserts a source or updates the credibility of an existing one,
// keyed by URL. Returns the source ID.
func (db *DB) UpsertSource(name, url, sourceType string, credibility float64) (int64, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM sources WHERE url = ?", url).Scan(&id)
	if err == sql.ErrNoRows {
		result, err := db.conn.Exec(
			`INSERT INTO sources (name, url, source_type, credibility_score) VALUES (?, ?, ?, ?)`,
			name, url, sourceType, credibility,
		)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}
	if err != nil {
		return 0, err
	}
	_, err = db.conn.Exec(
		"UPDATE sources SET name = ?, source_type = ?, credibility_score = ? WHERE id = ?",
		name, sourceType, credibility, id,
	)
	return id, err
}

// GetSource returns a source by ID, or nil if it does not exist.
func (db *DB) GetSource(sourceID int64) (*Source, error) {
	row := db.conn.QueryRow(
		`SELECT id, name, url, source_type, credibility_score,
			bayesian_alpha, bayesian_beta, true_positives, false_positives, active
		FROM sources WHERE id = ?`, sourceID,
	)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSources returns all sources ordered by type then name.
func (db *DB) ListSources() ([]Source, error) {
	rows, err := db.conn.Query(
		`SELECT id, name, url, source_type, credibility_score,
			bayesian_alpha, bayesian_beta, true_positives, false_positives, active
		FROM sources ORDER BY source_type, name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		var active int
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.SourceType, &s.CredibilityScore,
			&s.BayesianAlpha, &s.BayesianBeta, &s.TruePositives, &s.FalsePositives, &active); err != nil {
			return nil, err
		}
		s.Active = active != 0
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// RecordReviewOutcome updates a source's confirmed/dismissed counters and
// recomputes its Beta-posterior credibility: (alpha+TP) / (alpha+beta+TP+FP).
func (db *DB) RecordReviewOutcome(sourceID int64, truePositive bool) (float64, error) {
	column := "false_positives"
	if truePositive {
		column = "true_positives"
	}
	if _, err := db.conn.Exec(
		"UPDATE sources SET "+column+" = "+column+" + 1 WHERE id = ?", sourceID,
	); err != nil {
		return 0, err
	}

	source, err := db.GetSource(sourceID)
	if err != nil || source == nil {
		return 0, err
	}
	credibility := (source.BayesianAlpha + float64(source.TruePositives)) /
		(source.BayesianAlpha + source.BayesianBeta + float64(source.TruePositives) + float64(source.FalsePositives))
	_, err = db.conn.Exec(
		"UPDATE sources SET credibility_score = ? WHERE id = ?", credibility, sourceID,
	)
	return credibility, err
}

func scanSource(row *sql.Row) (*Source, error) {
	var s Source
	var active int
	if err := row.Scan(&s.ID, &s.Name, &s.URL, &s.SourceType, &s.CredibilityScore,
		&s.BayesianAlpha, &s.BayesianBeta, &s.TruePositives, &s.FalsePositives, &active); err != nil {
		return nil, err
	}
	s.Active = active != 0
	return &s, nil
}
