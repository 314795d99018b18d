// Package pipeline orchestrates the collection-to-report run.
package pipeline

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"osintwatch/internal/collect"
	"osintwatch/internal/config"
	"osintwatch/internal/correlate"
	"osintwatch/internal/database"
	"osintwatch/internal/extract"
	"osintwatch/internal/fetch"
	"osintwatch/internal/report"
	"osintwatch/internal/score"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID string
	Date  string
	Steps []StepResult
}

func newResult() *Result {
	return &Result{
		RunID: uuid.NewString(),
		Date:  time.Now().UTC().Format("2006-01-02"),
	}
}

// Pipeline orchestrates the 6-step monitoring pipeline.
type Pipeline struct {
	cfg *config.Config
	db  *database.DB
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB) *Pipeline {
	return &Pipeline{cfg: cfg, db: db}
}

// SyncWatchlist pushes configured keywords and POIs into the store so the
// collectors and the matcher see the current watchlist.
func (p *Pipeline) SyncWatchlist() error {
	for _, kw := range p.cfg.Keywords {
		if _, err := p.db.UpsertKeyword(kw.Term, kw.Category, kw.Weight); err != nil {
			return fmt.Errorf("syncing keyword %q: %w", kw.Term, err)
		}
	}
	for _, poi := range p.cfg.POIs {
		var org, role *string
		if poi.Org != "" {
			org = &poi.Org
		}
		if poi.Role != "" {
			role = &poi.Role
		}
		poiID, err := p.db.UpsertPOI(poi.Name, org, role, poi.Sensitivity)
		if err != nil {
			return fmt.Errorf("syncing POI %q: %w", poi.Name, err)
		}
		for _, alias := range poi.Aliases {
			if err := p.db.AddPOIAlias(poiID, alias, "alias"); err != nil {
				return fmt.Errorf("adding alias %q: %w", alias, err)
			}
		}
	}
	return nil
}

// Run executes the full pipeline: collect, fetch, extract, score, correlate,
// report. A collect failure aborts the run; later steps record their error
// and let the rest continue.
func (p *Pipeline) Run(daysBack int) *Result {
	r := newResult()

	if err := p.SyncWatchlist(); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Sync", Err: err})
		return r
	}

	step := p.runCollect(daysBack)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Steps = append(r.Steps, p.runFetch())
	r.Steps = append(r.Steps, p.runExtract(daysBack))
	r.Steps = append(r.Steps, p.runScore())
	r.Steps = append(r.Steps, p.runCorrelate())
	r.Steps = append(r.Steps, p.runReport(r.Date))

	return r
}

// DryRun shows what each step would do without executing.
func (p *Pipeline) DryRun(daysBack int) *Result {
	r := newResult()

	feeds := len(p.cfg.Sources.Feeds)
	extra := 0
	if p.cfg.Sources.Pastebin.Enabled {
		extra++
	}
	if p.cfg.Sources.Fixtures.InsiderPath != "" {
		extra++
	}
	if p.cfg.Sources.Fixtures.SupplyChainPath != "" {
		extra++
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] would poll %d feeds and %d other sources", feeds, extra),
	})

	needing, _ := p.db.AlertsNeedingContent(50)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("[dry-run] %d alerts need content fetching", len(needing)),
	})

	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)
	window, _ := p.db.AlertsSince(cutoff, p.cfg.Correlation.IncludeDemo)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Extract",
		Summary: fmt.Sprintf("[dry-run] %d alerts in the extraction window", len(window)),
	})

	unscored, _ := p.db.UnscoredAlerts()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Score",
		Summary: fmt.Sprintf("[dry-run] %d alerts pending scoring", len(unscored)),
	})

	r.Steps = append(r.Steps, StepResult{
		Name: "Correlate",
		Summary: fmt.Sprintf("[dry-run] would correlate over %d days, %dh window",
			p.cfg.Correlation.Days, p.cfg.Correlation.WindowHours),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Report",
		Summary: fmt.Sprintf("[dry-run] would write daily report for %s to %s", r.Date, p.reportDir()),
	})

	return r
}

func (p *Pipeline) runCollect(daysBack int) StepResult {
	log.Println("Step 1/6: Collecting alerts...")
	collector := collect.NewCollector(p.cfg, p.db, daysBack)
	result, err := collector.Collect()
	if err != nil {
		return StepResult{Name: "Collect", Err: err}
	}
	return StepResult{
		Name: "Collect",
		Summary: fmt.Sprintf("Found %d new alerts (%d seen, %d duplicates, %d without keyword)",
			result.NewAlerts, result.TotalFound, result.Duplicates, result.NoKeyword),
	}
}

func (p *Pipeline) runFetch() StepResult {
	log.Println("Step 2/6: Fetching alert content...")
	fetcher := fetch.NewContentFetcher(p.db, 15*time.Second)
	result := fetcher.FetchMissingContent()
	return StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d alerts, %d failed", result.Fetched, result.Failed),
	}
}

// runExtract re-runs IOC and POI extraction over the recent window. Both
// stores upsert, so replaying already-extracted alerts is harmless.
func (p *Pipeline) runExtract(daysBack int) StepResult {
	log.Println("Step 3/6: Extracting entities and POI mentions...")

	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)
	alerts, err := p.db.AlertsSince(cutoff, p.cfg.Correlation.IncludeDemo)
	if err != nil {
		return StepResult{Name: "Extract", Err: err}
	}
	aliases, err := p.db.ActivePOIAliases()
	if err != nil {
		return StepResult{Name: "Extract", Err: err}
	}

	extractor := extract.RegexExtractor{}
	matcher := extract.NewPOIMatcher(p.cfg.Extraction.AllowSingleTokenPOI)

	entityCount := 0
	hitCount := 0
	for _, alert := range alerts {
		text := alert.Title
		if alert.Content != nil {
			text += "\n\n" + *alert.Content
		}

		entities := extractor.Extract(text)
		if len(entities) > 0 {
			if err := p.db.StoreEntities(alert.ID, entities); err != nil {
				return StepResult{Name: "Extract", Err: err}
			}
			entityCount += len(entities)
		}

		hits := matcher.Match(text, aliases)
		if len(hits) > 0 {
			if err := p.db.StorePOIHits(alert.ID, hits); err != nil {
				return StepResult{Name: "Extract", Err: err}
			}
			hitCount += len(hits)
		}
	}

	return StepResult{
		Name: "Extract",
		Summary: fmt.Sprintf("Extracted %d entities and %d POI hits from %d alerts",
			entityCount, hitCount, len(alerts)),
	}
}

func (p *Pipeline) runScore() StepResult {
	log.Println("Step 4/6: Scoring alerts...")
	scored, err := score.NewScorer(p.db).ScorePending(time.Now().UTC())
	if err != nil {
		return StepResult{Name: "Score", Err: err}
	}
	return StepResult{
		Name:    "Score",
		Summary: fmt.Sprintf("Scored %d alerts", scored),
	}
}

func (p *Pipeline) runCorrelate() StepResult {
	log.Println("Step 5/6: Correlating alerts into threads...")
	threads, err := correlate.NewEngine(p.db).BuildThreads(p.correlationOptions())
	if err != nil {
		return StepResult{Name: "Correlate", Err: err}
	}
	return StepResult{
		Name:    "Correlate",
		Summary: fmt.Sprintf("Built %d correlated threads", len(threads)),
	}
}

// runReport writes the daily report and the top-thread case pack as markdown
// under the data directory.
func (p *Pipeline) runReport(date string) StepResult {
	log.Println("Step 6/6: Writing daily report...")

	engine := correlate.NewEngine(p.db)
	daily, err := report.NewGenerator(p.db, engine).DailyReport(date, p.correlationOptions())
	if err != nil {
		return StepResult{Name: "Report", Err: err}
	}

	dir := p.reportDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StepResult{Name: "Report", Err: err}
	}

	reportPath := filepath.Join(dir, "daily-"+date+".md")
	if err := os.WriteFile(reportPath, []byte(daily.Markdown()), 0o644); err != nil {
		return StepResult{Name: "Report", Err: err}
	}

	var topThread *correlate.Thread
	if len(daily.Threads) > 0 {
		topThread = &daily.Threads[0]
	}
	casePath := filepath.Join(dir, "casepack-"+date+".md")
	if err := os.WriteFile(casePath, []byte(report.CasePack(topThread)), 0o644); err != nil {
		return StepResult{Name: "Report", Err: err}
	}

	return StepResult{
		Name:    "Report",
		Summary: fmt.Sprintf("Wrote %s and %s (%d threads)", reportPath, casePath, len(daily.Threads)),
	}
}

func (p *Pipeline) correlationOptions() correlate.Options {
	c := p.cfg.Correlation
	return correlate.Options{
		Days:           c.Days,
		WindowHours:    c.WindowHours,
		MinClusterSize: c.MinClusterSize,
		Limit:          c.Limit,
		IncludeDemo:    c.IncludeDemo,
		MinLinkScore:   c.MinLinkScore,
		MaxPairChecks:  c.MaxPairChecks,
	}
}

func (p *Pipeline) reportDir() string {
	return filepath.Join(p.cfg.GetDataDir(), "reports")
}
