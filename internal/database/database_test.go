package database

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func seedSourceAndKeyword(t *testing.T, db *DB) (int64, int64) {
	t.Helper()
	sourceID, err := db.UpsertSource("feed", "https://feed.example.com", "rss", 0.7)
	if err != nil {
		t.Fatalf("upserting source: %v", err)
	}
	keywordID, err := db.UpsertKeyword("doxxing", "protective_intel", 3.0)
	if err != nil {
		t.Fatalf("upserting keyword: %v", err)
	}
	return sourceID, keywordID
}

func TestInsertAlert(t *testing.T) {
	db := openTestDB(t)
	sourceID, keywordID := seedSourceAndKeyword(t, db)

	id, err := db.InsertAlert(&Alert{
		SourceID:    sourceID,
		KeywordID:   keywordID,
		Title:       "doxxing thread",
		URL:         "https://feed.example.com/1",
		MatchedTerm: "doxxing",
		Severity:    "high",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero alert ID")
	}

	// Same URL again returns 0, not an error.
	dup, err := db.InsertAlert(&Alert{
		SourceID: sourceID, KeywordID: keywordID,
		Title: "copy", URL: "https://feed.example.com/1", Severity: "low",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup != 0 {
		t.Errorf("expected 0 for duplicate URL, got %d", dup)
	}
}

func TestUpsertAlertByURL(t *testing.T) {
	db := openTestDB(t)
	sourceID, keywordID := seedSourceAndKeyword(t, db)

	id, created, err := db.UpsertAlertByURL(&Alert{
		SourceID: sourceID, KeywordID: keywordID,
		Title: "Insider telemetry anomaly", URL: "insider://scenario/sc-01",
		Severity: "high", RiskScore: 82.5, ORSScore: 82.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || id == 0 {
		t.Fatalf("expected fresh insert, got id=%d created=%v", id, created)
	}

	// Re-run with new scores refreshes the same row.
	id2, created2, err := db.UpsertAlertByURL(&Alert{
		SourceID: sourceID, KeywordID: keywordID,
		Title: "Insider telemetry anomaly (updated)", URL: "insider://scenario/sc-01",
		Severity: "critical", RiskScore: 91.0, ORSScore: 91.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created2 || id2 != id {
		t.Errorf("expected refresh of row %d, got id=%d created=%v", id, id2, created2)
	}

	alert, err := db.GetAlertByID(id)
	if err != nil {
		t.Fatalf("reading alert: %v", err)
	}
	if alert.ORSScore != 91.0 || alert.Severity != "critical" {
		t.Errorf("expected refreshed scores, got %+v", alert)
	}
}

func TestAlertsSinceFiltering(t *testing.T) {
	db := openTestDB(t)
	sourceID, keywordID := seedSourceAndKeyword(t, db)
	demoID, err := db.UpsertSource("demo", "demo://seed", "demo", 0.5)
	if err != nil {
		t.Fatalf("upserting demo source: %v", err)
	}

	now := UTCNow()
	recent := FormatTimestamp(now.Add(-2 * time.Hour))
	old := FormatTimestamp(now.Add(-40 * 24 * time.Hour))

	db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "recent", URL: "https://a/1", Severity: "low", PublishedAt: &recent})
	db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "old", URL: "https://a/2", Severity: "low", PublishedAt: &old})
	db.InsertAlert(&Alert{SourceID: demoID, KeywordID: keywordID,
		Title: "demo seed", URL: "demo://1", Severity: "low", PublishedAt: &recent})

	cutoff := now.Add(-7 * 24 * time.Hour)
	alerts, err := db.AlertsSince(cutoff, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Title != "recent" {
		t.Errorf("expected only the recent non-demo alert, got %+v", alerts)
	}

	withDemo, err := db.AlertsSince(cutoff, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(withDemo) != 2 {
		t.Errorf("expected 2 alerts with demo included, got %d", len(withDemo))
	}
}

func TestListAlertsFilters(t *testing.T) {
	db := openTestDB(t)
	sourceID, keywordID := seedSourceAndKeyword(t, db)

	id1, _ := db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "critical one", URL: "https://a/1", Severity: "critical"})
	db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "low one", URL: "https://a/2", Severity: "low"})

	critical, err := db.ListAlerts("critical", nil, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(critical) != 1 || critical[0].ID != id1 {
		t.Errorf("expected only the critical alert, got %+v", critical)
	}
	if critical[0].SourceName != "feed" || critical[0].SourceType != "rss" {
		t.Errorf("expected joined source fields, got %+v", critical[0])
	}

	if _, err := db.MarkReviewed(id1); err != nil {
		t.Fatalf("marking reviewed: %v", err)
	}
	unreviewed := false
	pending, err := db.ListAlerts("", &unreviewed, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "low one" {
		t.Errorf("expected only the unreviewed alert, got %+v", pending)
	}
}

func TestRecordReviewOutcome(t *testing.T) {
	db := openTestDB(t)
	sourceID, _ := seedSourceAndKeyword(t, db)

	// Beta(2,2) prior plus one confirmed hit: (2+1)/(2+2+1) = 0.6.
	credibility, err := db.RecordReviewOutcome(sourceID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credibility != 0.6 {
		t.Errorf("expected credibility 0.6, got %v", credibility)
	}

	// A dismissal pulls it back down: (2+1)/(2+2+1+1) = 0.5.
	credibility, err = db.RecordReviewOutcome(sourceID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credibility != 0.5 {
		t.Errorf("expected credibility 0.5, got %v", credibility)
	}

	source, err := db.GetSource(sourceID)
	if err != nil {
		t.Fatalf("reading source: %v", err)
	}
	if source.TruePositives != 1 || source.FalsePositives != 1 {
		t.Errorf("expected 1/1 outcome counters, got %+v", source)
	}
	if source.CredibilityScore != 0.5 {
		t.Errorf("expected stored credibility 0.5, got %v", source.CredibilityScore)
	}
}

func TestKeywordFrequency(t *testing.T) {
	db := openTestDB(t)
	_, keywordID := seedSourceAndKeyword(t, db)

	today := UTCNow().Format("2006-01-02")
	for i := 0; i < 3; i++ {
		if err := db.IncrementKeywordFrequency(keywordID, today); err != nil {
			t.Fatalf("incrementing frequency: %v", err)
		}
	}

	count, err := db.KeywordFrequency(keywordID, today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}

	count, err = db.KeywordFrequency(keywordID, "1999-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 for empty day, got %d", count)
	}
}

func TestPOIUpsertAndHits(t *testing.T) {
	db := openTestDB(t)
	sourceID, keywordID := seedSourceAndKeyword(t, db)

	poiID, err := db.UpsertPOI("Jordan Vale", ptr("Acme"), ptr("CFO"), 5)
	if err != nil {
		t.Fatalf("upserting POI: %v", err)
	}
	if err := db.AddPOIAlias(poiID, "J. Vale", "alias"); err != nil {
		t.Fatalf("adding alias: %v", err)
	}
	// Upsert again updates in place, no second POI.
	again, err := db.UpsertPOI("Jordan Vale", ptr("Acme Corp"), ptr("CFO"), 4)
	if err != nil {
		t.Fatalf("re-upserting POI: %v", err)
	}
	if again != poiID {
		t.Errorf("expected same POI id, got %d and %d", poiID, again)
	}

	aliases, err := db.ActivePOIAliases()
	if err != nil {
		t.Fatalf("listing aliases: %v", err)
	}
	if len(aliases) != 2 {
		t.Fatalf("expected name alias plus one extra, got %d", len(aliases))
	}
	if aliases[0].Sensitivity != 4 {
		t.Errorf("expected updated sensitivity 4, got %d", aliases[0].Sensitivity)
	}

	alertID, _ := db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "mentions Jordan Vale", URL: "https://a/1", Severity: "high"})

	hits := []POIHit{{POIID: poiID, MatchType: "name", MatchValue: "Jordan Vale", MatchScore: 1.0}}
	if err := db.StorePOIHits(alertID, hits); err != nil {
		t.Fatalf("storing hits: %v", err)
	}
	// Replaying the same hit with richer metadata updates instead of duplicating.
	hits[0].MatchScore = 0.95
	hits[0].Context = ptr("...Jordan Vale...")
	if err := db.StorePOIHits(alertID, hits); err != nil {
		t.Fatalf("re-storing hits: %v", err)
	}

	stored, err := db.POIHitsForAlerts([]int64{alertID})
	if err != nil {
		t.Fatalf("reading hits: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(stored))
	}
	if stored[0].MatchScore != 0.95 || stored[0].Context == nil {
		t.Errorf("expected refreshed hit metadata, got %+v", stored[0])
	}
	if stored[0].POIName != "Jordan Vale" {
		t.Errorf("expected joined POI name, got %q", stored[0].POIName)
	}
}

func TestStoreEntities(t *testing.T) {
	db := openTestDB(t)
	sourceID, keywordID := seedSourceAndKeyword(t, db)
	alertID, _ := db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "ioc post", URL: "https://a/1", Severity: "low"})

	links := []EntityLink{
		{EntityType: "domain", EntityValue: "evil.example.com"},
		{EntityType: "actor_handle", EntityValue: "@dark_halo"},
	}
	if err := db.StoreEntities(alertID, links); err != nil {
		t.Fatalf("storing entities: %v", err)
	}
	// Idempotent replay.
	if err := db.StoreEntities(alertID, links); err != nil {
		t.Fatalf("re-storing entities: %v", err)
	}

	all, err := db.EntitiesForAlerts([]int64{alertID}, []string{"domain", "actor_handle"})
	if err != nil {
		t.Fatalf("reading entities: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 entities after replay, got %d", len(all))
	}

	// The type allow-list is honored.
	domains, err := db.EntitiesForAlerts([]int64{alertID}, []string{"domain"})
	if err != nil {
		t.Fatalf("reading entities: %v", err)
	}
	if len(domains) != 1 || domains[0].EntityValue != "evil.example.com" {
		t.Errorf("expected only the domain entity, got %+v", domains)
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	sourceID, keywordID := seedSourceAndKeyword(t, db)
	id1, _ := db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "first", URL: "https://a/1", Severity: "low"})
	id2, _ := db.InsertAlert(&Alert{SourceID: sourceID, KeywordID: keywordID,
		Title: "second", URL: "https://a/2", Severity: "low"})
	db.MarkDuplicate(id2, id1)

	stats, err := db.Stats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalAlerts != 2 {
		t.Errorf("expected 2 total alerts, got %d", stats.TotalAlerts)
	}
	if stats.UnreviewedAlerts != 1 {
		t.Errorf("expected 1 unreviewed alert, got %d", stats.UnreviewedAlerts)
	}
	if stats.Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", stats.Duplicates)
	}
	if stats.Sources != 1 || stats.ActiveKeywords != 1 {
		t.Errorf("unexpected watchlist stats: %+v", stats)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2026-08-20 14:30:00", true},
		{"2026-08-20T14:30:00Z", true},
		{"2026-08-20T14:30:00+02:00", true},
		{"2026-08-20", true},
		{"", false},
		{"yesterday", false},
	}
	for _, c := range cases {
		_, ok := ParseTimestamp(c.in)
		if ok != c.ok {
			t.Errorf("ParseTimestamp(%q) ok=%v, want %v", c.in, ok, c.ok)
		}
	}

	ts, ok := ParseTimestamp("2026-08-20T14:30:00+02:00")
	if !ok || ts.Hour() != 12 {
		t.Errorf("expected UTC conversion to 12:30, got %v", ts)
	}
}
