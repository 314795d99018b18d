package collect

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osintwatch/internal/config"
	"osintwatch/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMatchKeyword(t *testing.T) {
	keywords := []database.Keyword{
		{ID: 1, Term: "bomb threat", Weight: 4.0},
		{ID: 2, Term: "protest", Weight: 1.5},
	}

	// Highest-weight keyword wins when several match.
	kw := matchKeyword(keywords, "Protest called off after BOMB THREAT at venue")
	require.NotNil(t, kw)
	assert.Equal(t, int64(1), kw.ID)

	kw = matchKeyword(keywords, "march and protest downtown")
	require.NotNil(t, kw)
	assert.Equal(t, int64(2), kw.ID)

	assert.Nil(t, matchKeyword(keywords, "quarterly earnings call"))
}

func TestIngestStoresAndDeduplicates(t *testing.T) {
	db := openTestDB(t)
	c := NewCollector(&config.Config{}, db, 7)

	sourceID, err := db.UpsertSource("feed", "https://feed.example.com", "rss", 0.7)
	require.NoError(t, err)
	keywordID, err := db.UpsertKeyword("doxxing", "protective_intel", 3.0)
	require.NoError(t, err)
	keywords, err := db.ActiveKeywords()
	require.NoError(t, err)

	r := &Result{Sources: make(map[string]int)}
	published := database.FormatTimestamp(database.UTCNow())

	stored := c.ingest(r, sourceID, "feed", "rss", keywords, Item{
		URL:         "https://feed.example.com/1",
		Title:       "Doxxing thread targets executive",
		Content:     "home address posted",
		PublishedAt: published,
	})
	assert.True(t, stored)
	assert.Equal(t, 1, r.NewAlerts)

	// Same URL again: rejected outright.
	stored = c.ingest(r, sourceID, "feed", "rss", keywords, Item{
		URL:   "https://feed.example.com/1",
		Title: "Doxxing thread targets executive",
	})
	assert.False(t, stored)
	assert.Equal(t, 1, r.Duplicates)

	// Same content under a new URL: stored but flagged as duplicate.
	stored = c.ingest(r, sourceID, "feed", "rss", keywords, Item{
		URL:         "https://mirror.example.com/1",
		Title:       "Doxxing thread targets executive",
		Content:     "home address posted",
		PublishedAt: published,
	})
	assert.False(t, stored)
	assert.Equal(t, 2, r.Duplicates)

	// No keyword match: no alert at all.
	stored = c.ingest(r, sourceID, "feed", "rss", keywords, Item{
		URL:   "https://feed.example.com/2",
		Title: "quarterly earnings call",
	})
	assert.False(t, stored)
	assert.Equal(t, 1, r.NoKeyword)

	// Frequency was only bumped for the genuinely new alert.
	count, err := db.KeywordFrequency(keywordID, time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsiderFixtureCollector(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	fixturePath := filepath.Join(dir, "insider.json")
	fixture := `[
		{
			"scenario_id": "sc-01",
			"subject_id": "U-1001",
			"subject_name": "Casey Moran",
			"subject_handle": "@cmoran",
			"device_id": "DEV-22",
			"event_ts": "2026-08-20 02:10:00",
			"title": "After-hours bulk download",
			"summary": "47 GB pulled from the finance share overnight.",
			"score": 82.5,
			"related_entities": [
				{"entity_type": "vendor_id", "entity_value": "VND-4411"},
				{"entity_type": "passport_no", "entity_value": "X123"}
			]
		},
		{"scenario_id": "", "subject_id": "ignored"}
	]`
	require.NoError(t, os.WriteFile(fixturePath, []byte(fixture), 0o644))

	cfg := &config.Config{}
	cfg.Sources.Fixtures.InsiderPath = fixturePath
	c := NewCollector(cfg, db, 7)

	r := &Result{Sources: make(map[string]int)}
	require.NoError(t, c.collectInsiderFixtures(r))
	assert.Equal(t, 1, r.NewAlerts)

	alerts, err := db.ListAlerts("", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "insider://scenario/sc-01", alerts[0].URL)
	assert.Equal(t, 82.5, alerts[0].ORSScore)
	assert.Equal(t, "high", alerts[0].Severity)

	entities, err := db.EntitiesForAlerts([]int64{alerts[0].ID},
		[]string{"actor_handle", "user_id", "device_id", "vendor_id", "passport_no"})
	require.NoError(t, err)
	var types []string
	var values []string
	for _, e := range entities {
		types = append(types, e.EntityType)
		values = append(values, e.EntityValue)
	}
	assert.Contains(t, types, "user_id")
	assert.Contains(t, types, "actor_handle")
	assert.Contains(t, types, "device_id")
	assert.Contains(t, values, "vnd-4411")
	// Unknown identifier types are dropped.
	assert.NotContains(t, values, "x123")

	// Re-running refreshes in place instead of duplicating.
	r2 := &Result{Sources: make(map[string]int)}
	require.NoError(t, c.collectInsiderFixtures(r2))
	assert.Zero(t, r2.NewAlerts)
	alerts, err = db.ListAlerts("", nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestSupplyChainFixtureCollector(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	fixturePath := filepath.Join(dir, "vendors.json")
	fixture := `[
		{
			"vendor_id": "VND-4411",
			"vendor_name": "Acme Build Systems",
			"event_ts": "2026-08-21T09:00:00Z",
			"summary": "Unauthorized access to the vendor build system disclosed.",
			"score": 61.0,
			"tas": 55.0,
			"related_entities": [{"entity_type": "domain", "entity_value": "Acme-Build.example.com"}]
		}
	]`
	require.NoError(t, os.WriteFile(fixturePath, []byte(fixture), 0o644))

	cfg := &config.Config{}
	cfg.Sources.Fixtures.SupplyChainPath = fixturePath
	c := NewCollector(cfg, db, 7)

	r := &Result{Sources: make(map[string]int)}
	require.NoError(t, c.collectSupplyChainFixtures(r))
	assert.Equal(t, 1, r.NewAlerts)

	alerts, err := db.ListAlerts("", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "supplychain://vendor/VND-4411", alerts[0].URL)
	assert.Equal(t, "Supply-chain risk change: Acme Build Systems", alerts[0].Title)
	assert.Equal(t, 55.0, alerts[0].TASScore)

	entities, err := db.EntitiesForAlerts([]int64{alerts[0].ID}, []string{"vendor_id", "domain"})
	require.NoError(t, err)
	var pairs [][2]string
	for _, e := range entities {
		pairs = append(pairs, [2]string{e.EntityType, e.EntityValue})
	}
	assert.Contains(t, pairs, [2]string{"vendor_id", "vnd-4411"})
	assert.Contains(t, pairs, [2]string{"domain", "acme-build.example.com"})
}

func TestFetchRecentPastes(t *testing.T) {
	archive := `<html><body><table class="maintable">
		<tr><th>Name</th><th>Added</th></tr>
		<tr><td><a href="/AbCd1234">leaked creds dump</a></td><td>1 min</td></tr>
		<tr><td><a href="/XyZ98765"></a></td><td>2 min</td></tr>
	</table></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(archive))
	}))
	defer srv.Close()

	pastes, err := fetchRecentPastes(srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Len(t, pastes, 2)
	assert.Equal(t, "AbCd1234", pastes[0].ID)
	assert.Equal(t, "leaked creds dump", pastes[0].Title)
	assert.Equal(t, "https://pastebin.com/AbCd1234", pastes[0].URL)
	assert.Equal(t, "Untitled", pastes[1].Title)
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Breaking news & more", stripHTML("<p>Breaking</p> news &amp; <b>more</b>"))
	assert.Equal(t, "plain", stripHTML("plain"))
}
