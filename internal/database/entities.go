package database

// StoreEntities persists extracted entities for an alert with idempotent upsert.
func (db *DB) StoreEntities(alertID int64, entities []EntityLink) error {
	for _, e := range entities {
		if _, err := db.conn.Exec(
			`INSERT INTO alert_entities (alert_id, entity_type, entity_value)
			VALUES (?, ?, ?)
			ON CONFLICT(alert_id, entity_type, entity_value) DO NOTHING`,
			alertID, e.EntityType, e.EntityValue,
		); err != nil {
			return err
		}
	}
	return nil
}

// EntitiesForAlerts bulk-reads entity links for a set of alert IDs, restricted
// to an entity-type allow-list. One query regardless of window size.
func (db *DB) EntitiesForAlerts(alertIDs []int64, entityTypes []string) ([]EntityLink, error) {
	if len(alertIDs) == 0 || len(entityTypes) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(alertIDs)+len(entityTypes))
	for _, id := range alertIDs {
		args = append(args, id)
	}
	for _, t := range entityTypes {
		args = append(args, t)
	}
	rows, err := db.conn.Query(
		`SELECT alert_id, entity_type, entity_value
		FROM alert_entities
		WHERE alert_id IN (`+placeholders(len(alertIDs))+`)
		  AND entity_type IN (`+placeholders(len(entityTypes))+`)
		ORDER BY alert_id, entity_type, entity_value`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []EntityLink
	for rows.Next() {
		var e EntityLink
		if err := rows.Scan(&e.AlertID, &e.EntityType, &e.EntityValue); err != nil {
			return nil, err
		}
		links = append(links, e)
	}
	return links, rows.Err()
}
