// Package collect ingests raw items from feeds, the pastebin archive, and
// fixture telemetry files, gates them on the keyword watchlist, and stores
// them as deduplicated alerts.
package collect

import (
	"log"
	"strings"

	"osintwatch/internal/config"
	"osintwatch/internal/database"
	"osintwatch/internal/dedup"
	"osintwatch/internal/metrics"
)

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	NewAlerts  int
	Duplicates int
	NoKeyword  int
	Sources    map[string]int
}

// Item is one raw collected item before keyword gating.
type Item struct {
	URL         string
	Title       string
	Content     string
	PublishedAt string // canonical timestamp or empty
}

// Collector orchestrates alert collection from all configured sources.
type Collector struct {
	db       *database.DB
	cfg      *config.Config
	daysBack int
}

// NewCollector creates a collector over the configured sources.
func NewCollector(cfg *config.Config, db *database.DB, daysBack int) *Collector {
	return &Collector{db: db, cfg: cfg, daysBack: daysBack}
}

// Collect runs every configured collector and returns combined counts.
func (c *Collector) Collect() (*Result, error) {
	r := &Result{Sources: make(map[string]int)}

	keywords, err := c.db.ActiveKeywords()
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		log.Println("No active keywords configured; nothing to collect")
		return r, nil
	}

	if len(c.cfg.Sources.Feeds) > 0 {
		log.Println("Collecting from feeds...")
		c.collectFeeds(r, keywords)
	}

	if c.cfg.Sources.Pastebin.Enabled {
		log.Println("Collecting from pastebin archive...")
		c.collectPastebin(r, keywords)
	}

	if c.cfg.Sources.Fixtures.InsiderPath != "" {
		log.Println("Collecting insider telemetry fixtures...")
		if err := c.collectInsiderFixtures(r); err != nil {
			log.Printf("Insider fixture collection failed: %v", err)
		}
	}
	if c.cfg.Sources.Fixtures.SupplyChainPath != "" {
		log.Println("Collecting supply-chain fixtures...")
		if err := c.collectSupplyChainFixtures(r); err != nil {
			log.Printf("Supply-chain fixture collection failed: %v", err)
		}
	}

	log.Printf("Collection complete: %d found, %d new, %d duplicates, %d unmatched",
		r.TotalFound, r.NewAlerts, r.Duplicates, r.NoKeyword)
	return r, nil
}

// ingest stores one item if it matches the watchlist. Returns true when a new
// alert row was created.
func (c *Collector) ingest(r *Result, sourceID int64, sourceName, sourceType string, keywords []database.Keyword, item Item) bool {
	r.TotalFound++

	keyword := matchKeyword(keywords, item.Title+" "+item.Content)
	if keyword == nil {
		r.NoKeyword++
		return false
	}

	hash, dupID, err := dedup.Check(c.db, item.Title, item.Content)
	if err != nil {
		log.Printf("Dedup check failed for %s: %v", item.URL, err)
		return false
	}

	alert := &database.Alert{
		SourceID:    sourceID,
		KeywordID:   keyword.ID,
		Title:       item.Title,
		Content:     optional(truncate(item.Content, 2000)),
		URL:         item.URL,
		MatchedTerm: keyword.Term,
		Severity:    "low",
		ContentHash: &hash,
		PublishedAt: optional(item.PublishedAt),
	}
	if dupID != 0 {
		alert.DuplicateOf = &dupID
	}

	id, err := c.db.InsertAlert(alert)
	if err != nil {
		log.Printf("Failed to store alert for %s: %v", item.URL, err)
		return false
	}
	if id == 0 {
		// Same URL already stored.
		r.Duplicates++
		return false
	}
	if dupID != 0 {
		r.Duplicates++
		metrics.DuplicatesSuppressed.Inc()
		return false
	}

	if err := c.db.IncrementKeywordFrequency(keyword.ID, database.UTCNow().Format("2006-01-02")); err != nil {
		log.Printf("Failed to bump keyword frequency for %q: %v", keyword.Term, err)
	}

	r.NewAlerts++
	r.Sources[sourceName]++
	metrics.AlertsIngested.WithLabelValues(sourceType).Inc()
	return true
}

// matchKeyword returns the first active keyword whose term appears in text.
// Keywords arrive ordered by descending weight, so the most significant term
// wins when several match.
func matchKeyword(keywords []database.Keyword, text string) *database.Keyword {
	lowered := strings.ToLower(text)
	for i := range keywords {
		if strings.Contains(lowered, strings.ToLower(keywords[i].Term)) {
			return &keywords[i]
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
