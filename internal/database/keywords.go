package database

import "database/sql"

// UpsertKeyword inserts a keyword or updates the category/weight of an
// existing one, keyed by term. Returns the keyword ID.
func (db *DB) UpsertKeyword(term, category string, weight float64) (int64, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM keywords WHERE term = ?", term).Scan(&id)
	if err == sql.ErrNoRows {
		result, err := db.conn.Exec(
			"INSERT INTO keywords (term, category, weight) VALUES (?, ?, ?)",
			term, category, weight,
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
		"UPDATE keywords SET category = ?, weight = ? WHERE id = ?", category, weight, id,
	)
	return id, err
}

// ActiveKeywords returns active keywords ordered by descending weight so the
// most significant term wins when several match the same item.
func (db *DB) ActiveKeywords() ([]Keyword, error) {
	rows, err := db.conn.Query(
		`SELECT id, term, category, weight, active FROM keywords
		WHERE active = 1 ORDER BY weight DESC, term`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeywords(rows)
}

// ListKeywords returns all keywords ordered by category then term.
func (db *DB) ListKeywords() ([]Keyword, error) {
	rows, err := db.conn.Query(
		"SELECT id, term, category, weight, active FROM keywords ORDER BY category, term",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeywords(rows)
}

// GetKeyword returns a keyword by ID, or nil when it does not exist.
func (db *DB) GetKeyword(keywordID int64) (*Keyword, error) {
	var k Keyword
	var active int
	err := db.conn.QueryRow(
		"SELECT id, term, category, weight, active FROM keywords WHERE id = ?", keywordID,
	).Scan(&k.ID, &k.Term, &k.Category, &k.Weight, &active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.Active = active != 0
	return &k, nil
}

// DeleteKeyword removes a keyword. Returns false if no row was deleted.
func (db *DB) DeleteKeyword(keywordID int64) (bool, error) {
	result, err := db.conn.Exec("DELETE FROM keywords WHERE id = ?", keywordID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// IncrementKeywordFrequency bumps today's match count for a keyword.
func (db *DB) IncrementKeywordFrequency(keywordID int64, date string) error {
	_, err := db.conn.Exec(
		`INSERT INTO keyword_frequency (keyword_id, date, count)
		VALUES (?, ?, 1)
		ON CONFLICT(keyword_id, date)
		DO UPDATE SET count = count + 1`,
		keywordID, date,
	)
	return err
}

// KeywordFrequency returns the match count for a keyword on one date.
func (db *DB) KeywordFrequency(keywordID int64, date string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT count FROM keyword_frequency WHERE keyword_id = ? AND date = ?",
		keywordID, date,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// KeywordFrequencyAverage returns the mean daily match count for a keyword over
// [from, to). Returns 0 when there is no history.
func (db *DB) KeywordFrequencyAverage(keywordID int64, from, to string) (float64, error) {
	var avg sql.NullFloat64
	err := db.conn.QueryRow(
		`SELECT AVG(count) FROM keyword_frequency
		WHERE keyword_id = ? AND date >= ? AND date < ?`,
		keywordID, from, to,
	).Scan(&avg)
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func scanKeywords(rows *sql.Rows) ([]Keyword, error) {
	var keywords []Keyword
	for rows.Next() {
		var k Keyword
		var active int
		if err := rows.Scan(&k.ID, &k.Term, &k.Category, &k.Weight, &active); err != nil {
			return nil, err
		}
		k.Active = active != 0
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}
