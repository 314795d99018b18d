package database

import "database/sql"

// AliasRow is a flattened active POI alias used by the matcher.
type AliasRow struct {
	POIID       int64
	POIName     string
	Alias       string
	AliasType   string
	Sensitivity int
}

// UpsertPOI inserts a POI (keyed by name) along with its name alias.
// Returns the POI ID.
func (db *DB) UpsertPOI(name string, org, role *string, sensitivity int) (int64, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM pois WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		result, err := db.conn.Exec(
			"INSERT INTO pois (name, org, role, sensitivity) VALUES (?, ?, ?, ?)",
			name, org, role, sensitivity,
		)
		if err != nil {
			return 0, err
		}
		id, err = result.LastInsertId()
		if err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	} else {
		if _, err := db.conn.Exec(
			"UPDATE pois SET org = ?, role = ?, sensitivity = ? WHERE id = ?",
			org, role, sensitivity, id,
		); err != nil {
			return 0, err
		}
	}

	// Every POI is matchable by its own name.
	if err := db.AddPOIAlias(id, name, "name"); err != nil {
		return 0, err
	}
	return id, nil
}

// AddPOIAlias registers an additional matchable alias for a POI.
func (db *DB) AddPOIAlias(poiID int64, alias, aliasType string) error {
	_, err := db.conn.Exec(
		`INSERT INTO poi_aliases (poi_id, alias, alias_type)
		VALUES (?, ?, ?)
		ON CONFLICT(poi_id, alias) DO NOTHING`,
		poiID, alias, aliasType,
	)
	return err
}

// ActivePOIAliases returns all aliases of active POIs for the matcher.
func (db *DB) ActivePOIAliases() ([]AliasRow, error) {
	rows, err := db.conn.Query(
		`SELECT p.id, p.name, a.alias, a.alias_type, COALESCE(p.sensitivity, 3)
		FROM pois p
		JOIN poi_aliases a ON a.poi_id = p.id
		WHERE p.active = 1 AND a.active = 1
		ORDER BY p.id, a.alias`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []AliasRow
	for rows.Next() {
		var a AliasRow
		if err := rows.Scan(&a.POIID, &a.POIName, &a.Alias, &a.AliasType, &a.Sensitivity); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// StorePOIHits persists alias matches for an alert, keeping the best metadata
// when the same (poi, alert, alias) hit recurs.
func (db *DB) StorePOIHits(alertID int64, hits []POIHit) error {
	for _, hit := range hits {
		if _, err := db.conn.Exec(
			`INSERT INTO poi_hits (poi_id, alert_id, match_type, match_value, match_score, context)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(poi_id, alert_id, match_value) DO UPDATE SET
				match_type = excluded.match_type,
				match_score = excluded.match_score,
				context = COALESCE(excluded.context, poi_hits.context)`,
			hit.POIID, alertID, hit.MatchType, hit.MatchValue, hit.MatchScore, hit.Context,
		); err != nil {
			return err
		}
	}
	return nil
}

// POIHitsForAlerts bulk-reads POI hits (with POI names) for a set of alert IDs.
// One query regardless of how many alerts are in the window.
func (db *DB) POIHitsForAlerts(alertIDs []int64) ([]POIHit, error) {
	if len(alertIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(alertIDs))
	for i, id := range alertIDs {
		args[i] = id
	}
	rows, err := db.conn.Query(
		`SELECT ph.poi_id, ph.alert_id, COALESCE(ph.match_type, ''), ph.match_value,
			ph.match_score, ph.context, p.name
		FROM poi_hits ph
		JOIN pois p ON p.id = ph.poi_id
		WHERE ph.alert_id IN (`+placeholders(len(alertIDs))+`)
		ORDER BY ph.alert_id, ph.poi_id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []POIHit
	for rows.Next() {
		var h POIHit
		if err := rows.Scan(&h.POIID, &h.AlertID, &h.MatchType, &h.MatchValue,
			&h.MatchScore, &h.Context, &h.POIName); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
