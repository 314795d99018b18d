package correlate

import (
	"strconv"
	"strings"

	"osintwatch/internal/database"
)

// Grouping-key builders. Each scans its collection exactly once and maps an
// evidence key to the alert IDs sharing it: O(alerts + links), never O(n²).

func groupByPOI(hits []database.POIHit, views map[int64]*alertView) map[string][]int64 {
	groups := make(map[string][]int64)
	for _, hit := range hits {
		if _, ok := views[hit.AlertID]; !ok {
			continue
		}
		key := strconv.FormatInt(hit.POIID, 10)
		groups[key] = append(groups[key], hit.AlertID)
	}
	return groups
}

func groupByActorHandle(entities []database.EntityLink, views map[int64]*alertView) map[string][]int64 {
	groups := make(map[string][]int64)
	for _, e := range entities {
		if e.EntityType != "actor_handle" {
			continue
		}
		if _, ok := views[e.AlertID]; !ok {
			continue
		}
		handle := strings.ToLower(strings.TrimSpace(e.EntityValue))
		if handle == "" {
			continue
		}
		groups[handle] = append(groups[handle], e.AlertID)
	}
	return groups
}

func groupByEntity(entities []database.EntityLink, views map[int64]*alertView) map[string][]int64 {
	groups := make(map[string][]int64)
	for _, e := range entities {
		if _, ok := views[e.AlertID]; !ok {
			continue
		}
		value := strings.ToLower(strings.TrimSpace(e.EntityValue))
		if value == "" {
			continue
		}
		key := e.EntityType + ":" + value
		groups[key] = append(groups[key], e.AlertID)
	}
	return groups
}

func groupByMatchedTerm(views map[int64]*alertView) map[string][]int64 {
	groups := make(map[string][]int64)
	for id, v := range views {
		term := strings.ToLower(strings.TrimSpace(v.MatchedTerm))
		if term == "" {
			continue
		}
		groups[term] = append(groups[term], id)
	}
	return groups
}

// groupByFingerprintTerm keys on (source fingerprint, matched term) to catch
// syndication duplicates across mirrored outlets. Fingerprints without a
// resolvable host would lump unrelated outlets together, so they are skipped.
func groupByFingerprintTerm(views map[int64]*alertView) map[string][]int64 {
	groups := make(map[string][]int64)
	for id, v := range views {
		term := strings.ToLower(strings.TrimSpace(v.MatchedTerm))
		if term == "" || strings.HasSuffix(v.fingerprint, ":unknown") {
			continue
		}
		key := v.fingerprint + "|" + term
		groups[key] = append(groups[key], id)
	}
	return groups
}
