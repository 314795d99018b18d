package correlate

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osintwatch/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// testAlert is a compact alert fixture seeded through the real store.
type testAlert struct {
	sourceType string
	sourceName string
	term       string
	hoursAgo   float64
	title      string
	url        string
	handles    []string
	entities   []database.EntityLink
	poiNames   []string
}

func seedAlert(t *testing.T, db *database.DB, n int, ta testAlert) int64 {
	t.Helper()
	if ta.sourceType == "" {
		ta.sourceType = "rss"
	}
	if ta.sourceName == "" {
		ta.sourceName = "feed-" + ta.sourceType
	}
	if ta.title == "" {
		ta.title = fmt.Sprintf("Test alert %d", n)
	}
	if ta.url == "" {
		ta.url = fmt.Sprintf("https://%s.example.com/item/%d", ta.sourceType, n)
	}

	sourceID, err := db.UpsertSource(ta.sourceName, "https://"+ta.sourceName+".example.com/feed", ta.sourceType, 0.6)
	require.NoError(t, err)
	keywordID, err := db.UpsertKeyword(orGeneral(ta.term), "protective_intel", 2.0)
	require.NoError(t, err)

	published := database.FormatTimestamp(database.UTCNow().Add(-time.Duration(ta.hoursAgo * float64(time.Hour))))
	id, err := db.InsertAlert(&database.Alert{
		SourceID:    sourceID,
		KeywordID:   keywordID,
		Title:       ta.title,
		URL:         ta.url,
		MatchedTerm: ta.term,
		Severity:    "low",
		PublishedAt: &published,
	})
	require.NoError(t, err)
	require.NotZero(t, id, "alert URL collision in fixture")

	var links []database.EntityLink
	for _, h := range ta.handles {
		links = append(links, database.EntityLink{EntityType: "actor_handle", EntityValue: h})
	}
	links = append(links, ta.entities...)
	require.NoError(t, db.StoreEntities(id, links))

	for _, name := range ta.poiNames {
		poiID, err := db.UpsertPOI(name, nil, nil, 5)
		require.NoError(t, err)
		require.NoError(t, db.StorePOIHits(id, []database.POIHit{{
			POIID: poiID, MatchType: "name", MatchValue: name, MatchScore: 1.0,
		}}))
	}
	return id
}

func orGeneral(term string) string {
	if term == "" {
		return "general"
	}
	return term
}

// linkedPairs extracts every unordered alert-ID pair co-occurring in any
// thread timeline.
func linkedPairs(threads []Thread) map[pairKey]struct{} {
	pairs := make(map[pairKey]struct{})
	for _, thread := range threads {
		for i := 0; i < len(thread.Timeline); i++ {
			for j := i + 1; j < len(thread.Timeline); j++ {
				pairs[makePairKey(thread.Timeline[i].AlertID, thread.Timeline[j].AlertID)] = struct{}{}
			}
		}
	}
	return pairs
}

func TestEmptyStoreYieldsNoThreads(t *testing.T) {
	db := openTestDB(t)
	threads, err := NewEngine(db).BuildThreads(Options{})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestSharedActorHandleCrossSource(t *testing.T) {
	db := openTestDB(t)
	a := seedAlert(t, db, 1, testAlert{
		sourceType: "rss", term: "death threat", hoursAgo: 2,
		title: "Threat post referencing principal", handles: []string{"@demo_actor"},
	})
	b := seedAlert(t, db, 2, testAlert{
		sourceType: "reddit", term: "death threat", hoursAgo: 1,
		title: "Same actor resurfaces on forum", handles: []string{"@demo_actor"},
	})

	threads, err := NewEngine(db).BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)
	require.Len(t, threads, 1)

	thread := threads[0]
	assert.Equal(t, 2, thread.AlertsCount)
	assert.Equal(t, []int64{a, b}, []int64{thread.Timeline[0].AlertID, thread.Timeline[1].AlertID})
	assert.Contains(t, thread.ReasonCodes, ReasonSharedActorHandle)
	assert.Contains(t, thread.ReasonCodes, ReasonCrossSource)
	assert.Greater(t, thread.Confidence, 0.0)
	assert.Equal(t, "Actor @demo_actor", thread.Label)
	assert.Equal(t, []string{"@demo_actor"}, thread.ActorHandles)
	assert.Equal(t, 2, thread.SourcesCount)
}

func TestMatchedTermOutsideWindowDoesNotLink(t *testing.T) {
	db := openTestDB(t)
	// Same matched term only, 30 hours apart: the matched-term dimension uses
	// a 24h window, so no pair evidence forms and no thread is produced.
	seedAlert(t, db, 1, testAlert{sourceType: "rss", term: "death threat", hoursAgo: 31, title: "First mention"})
	seedAlert(t, db, 2, testAlert{sourceType: "reddit", term: "death threat", hoursAgo: 1, title: "Unrelated mention"})

	threads, err := NewEngine(db).BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestTransitivityGlue(t *testing.T) {
	db := openTestDB(t)
	// A–B share an actor handle, B–C share a POI. A and C have nothing in
	// common but must land in the same thread through B.
	a := seedAlert(t, db, 1, testAlert{
		sourceType: "rss", term: "surveillance", hoursAgo: 10,
		handles: []string{"@ghost"},
	})
	b := seedAlert(t, db, 2, testAlert{
		sourceType: "reddit", term: "surveillance", hoursAgo: 6,
		handles: []string{"@ghost"}, poiNames: []string{"Jordan Vale"},
	})
	c := seedAlert(t, db, 3, testAlert{
		sourceType: "pastebin", term: "doxx", hoursAgo: 2,
		poiNames: []string{"Jordan Vale"},
	})

	threads, err := NewEngine(db).BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 3, threads[0].AlertsCount)

	pairs := linkedPairs(threads)
	assert.Contains(t, pairs, makePairKey(a, b))
	assert.Contains(t, pairs, makePairKey(b, c))
	assert.Contains(t, pairs, makePairKey(a, c), "transitive pair must co-occur in the thread")
}

func TestSourceDiversityGate(t *testing.T) {
	db := openTestDB(t)
	// Three alerts from one source repeating a term, with no actor handle and
	// no POI: suppressed even though min_cluster_size is met.
	for i := 0; i < 3; i++ {
		seedAlert(t, db, i+1, testAlert{
			sourceType: "rss", sourceName: "single-outlet", term: "protest",
			hoursAgo: float64(i + 1),
			title:    fmt.Sprintf("Protest chatter %d near the plaza", i+1),
		})
	}

	threads, err := NewEngine(db).BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestThresholdMonotonicity(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, 1, testAlert{sourceType: "rss", term: "breach", hoursAgo: 5, handles: []string{"@vex"}})
	seedAlert(t, db, 2, testAlert{sourceType: "reddit", term: "breach", hoursAgo: 4, handles: []string{"@vex"}})
	seedAlert(t, db, 3, testAlert{sourceType: "rss", term: "breach", hoursAgo: 3})
	seedAlert(t, db, 4, testAlert{sourceType: "telegram", term: "leak", hoursAgo: 2, handles: []string{"@vex"}})

	engine := NewEngine(db)
	loose, err := engine.BuildThreads(Options{WindowHours: 72, MinLinkScore: 0.35})
	require.NoError(t, err)
	strict, err := engine.BuildThreads(Options{WindowHours: 72, MinLinkScore: 0.95})
	require.NoError(t, err)

	loosePairs := linkedPairs(loose)
	strictPairs := linkedPairs(strict)
	assert.LessOrEqual(t, len(strictPairs), len(loosePairs))
	for pair := range strictPairs {
		assert.Contains(t, loosePairs, pair, "raising the threshold must never add links")
	}
}

func TestPairCheckCeilingLimitsWork(t *testing.T) {
	db := openTestDB(t)
	// One grouping key (shared matched term) with many members, alternating
	// source types so the diversity gate cannot mask the ceiling's effect.
	sourceTypes := []string{"rss", "reddit", "telegram"}
	for i := 0; i < 60; i++ {
		seedAlert(t, db, i+1, testAlert{
			sourceType: sourceTypes[i%len(sourceTypes)],
			term:       "assassination chatter",
			hoursAgo:   float64(i) * 0.1,
			title:      fmt.Sprintf("Chatter item %d", i),
		})
	}

	engine := NewEngine(db)
	capped, err := engine.BuildThreads(Options{WindowHours: 72, MaxPairChecks: 10})
	require.NoError(t, err)
	uncapped, err := engine.BuildThreads(Options{WindowHours: 72, MaxPairChecks: 1000000})
	require.NoError(t, err)

	assert.Less(t, len(linkedPairs(capped)), len(linkedPairs(uncapped)),
		"the pair-check ceiling must materially reduce unioned pairs")
}

func TestDeterminism(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 12; i++ {
		ta := testAlert{
			sourceType: []string{"rss", "reddit", "pastebin"}[i%3],
			term:       []string{"doxx", "breach", "threat"}[i%3],
			hoursAgo:   float64(i),
			title:      fmt.Sprintf("Alert number %d about recurring subject", i),
		}
		if i%2 == 0 {
			ta.handles = []string{"@recurring"}
		}
		if i%4 == 0 {
			ta.entities = []database.EntityLink{{EntityType: "domain", EntityValue: "drop-zone.example"}}
		}
		seedAlert(t, db, i+1, ta)
	}

	engine := NewEngine(db)
	first, err := engine.BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)
	second, err := engine.BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second, "identical snapshot must yield identical threads")
}

func TestSharedEntityDimension(t *testing.T) {
	db := openTestDB(t)
	a := seedAlert(t, db, 1, testAlert{
		sourceType: "rss", term: "credential leak", hoursAgo: 6,
		entities: []database.EntityLink{{EntityType: "domain", EntityValue: "Bad-Host.EXAMPLE"}},
	})
	b := seedAlert(t, db, 2, testAlert{
		sourceType: "pastebin", term: "paste dump", hoursAgo: 2,
		entities: []database.EntityLink{{EntityType: "domain", EntityValue: "bad-host.example"}},
	})

	threads, err := NewEngine(db).BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Contains(t, threads[0].ReasonCodes, ReasonSharedEntity)
	assert.Contains(t, linkedPairs(threads), makePairKey(a, b))
	assert.Contains(t, threads[0].SharedEntities, "domain:bad-host.example")
}

func TestCrossDomainIdentifiersLink(t *testing.T) {
	db := openTestDB(t)
	// Insider telemetry and supply-chain alerts correlate through a shared
	// vendor identifier even with disjoint vocabulary.
	seedAlert(t, db, 1, testAlert{
		sourceType: "insider", term: "insider telemetry anomaly", hoursAgo: 8,
		url:      "insider://scenario/exfil-01",
		entities: []database.EntityLink{{EntityType: "vendor_id", EntityValue: "VND-4411"}},
	})
	seedAlert(t, db, 2, testAlert{
		sourceType: "supply_chain", term: "vendor compromise", hoursAgo: 3,
		url:      "supplychain://vendor/vnd-4411",
		entities: []database.EntityLink{{EntityType: "vendor_id", EntityValue: "vnd-4411"}},
	})

	threads, err := NewEngine(db).BuildThreads(Options{WindowHours: 72})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Contains(t, threads[0].ReasonCodes, ReasonSharedEntity)
	assert.Contains(t, threads[0].ReasonCodes, ReasonCrossSource)
}

func TestRankingOrdersByConfidence(t *testing.T) {
	db := openTestDB(t)
	// Strong cluster: shared handle + cross-source + tight temporal.
	seedAlert(t, db, 1, testAlert{sourceType: "rss", term: "threat", hoursAgo: 3, handles: []string{"@alpha"}})
	seedAlert(t, db, 2, testAlert{sourceType: "reddit", term: "threat", hoursAgo: 2, handles: []string{"@alpha"}})
	// Weaker cluster: same term across sources only.
	seedAlert(t, db, 3, testAlert{sourceType: "rss", term: "protest", hoursAgo: 20, title: "Completely different wording here"})
	seedAlert(t, db, 4, testAlert{sourceType: "telegram", term: "protest", hoursAgo: 1, title: "Another phrasing altogether folks"})

	threads, err := NewEngine(db).BuildThreads(Options{WindowHours: 72, MinLinkScore: 0.2})
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.GreaterOrEqual(t, threads[0].Confidence, threads[1].Confidence)
	assert.Equal(t, "Actor @alpha", threads[0].Label)
}

func TestOptionClamping(t *testing.T) {
	opts := Options{Days: 1000, WindowHours: -5, MinClusterSize: 100, Limit: 9999}.withDefaults()
	assert.Equal(t, 90, opts.Days)
	assert.Equal(t, 1, opts.WindowHours)
	assert.Equal(t, 20, opts.MinClusterSize)
	assert.Equal(t, 200, opts.Limit)
}
