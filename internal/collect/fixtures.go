package collect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"osintwatch/internal/database"
	"osintwatch/internal/metrics"
	"osintwatch/internal/score"
)

// Fixture collectors ingest pre-scored telemetry scenarios from JSON files.
// Their URLs are stable scheme keys (insider://scenario/<id>,
// supplychain://vendor/<id>), so re-running a collection refreshes the
// existing alerts instead of duplicating them.

const (
	insiderSourceName     = "Insider Telemetry (Fixture UEBA)"
	supplyChainSourceName = "Supply Chain Risk (Fixture Scaffold)"

	insiderKeywordTerm     = "insider telemetry anomaly"
	supplyChainKeywordTerm = "third party vendor risk"
)

// fixtureEntityTypes limits which identifier types a fixture may attach.
var fixtureEntityTypes = map[string]bool{
	"domain": true, "ipv4": true, "url": true, "email": true,
	"user_id": true, "vendor_id": true, "device_id": true,
}

type fixtureEntity struct {
	EntityType  string `json:"entity_type"`
	EntityValue string `json:"entity_value"`
}

type insiderEvent struct {
	ScenarioID      string          `json:"scenario_id"`
	SubjectID       string          `json:"subject_id"`
	SubjectName     string          `json:"subject_name"`
	SubjectHandle   string          `json:"subject_handle"`
	DeviceID        string          `json:"device_id"`
	EventTS         string          `json:"event_ts"`
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	Score           float64         `json:"score"`
	TAS             float64         `json:"tas"`
	RelatedEntities []fixtureEntity `json:"related_entities"`
}

type supplyChainEvent struct {
	VendorID        string          `json:"vendor_id"`
	VendorName      string          `json:"vendor_name"`
	EventTS         string          `json:"event_ts"`
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	Score           float64         `json:"score"`
	TAS             float64         `json:"tas"`
	RelatedEntities []fixtureEntity `json:"related_entities"`
}

func (c *Collector) collectInsiderFixtures(r *Result) error {
	var events []insiderEvent
	if err := loadFixtureFile(c.cfg.Sources.Fixtures.InsiderPath, &events); err != nil {
		return err
	}

	sourceID, err := c.db.UpsertSource(insiderSourceName, "insider://fixtures", "insider", 0.75)
	if err != nil {
		return err
	}
	keywordID, err := c.db.UpsertKeyword(insiderKeywordTerm, "insider", 3.8)
	if err != nil {
		return err
	}

	for _, ev := range events {
		scenarioID := strings.TrimSpace(ev.ScenarioID)
		subjectID := strings.TrimSpace(ev.SubjectID)
		if scenarioID == "" || subjectID == "" {
			continue
		}
		r.TotalFound++

		title := strings.TrimSpace(ev.Title)
		if title == "" {
			name := ev.SubjectName
			if name == "" {
				name = subjectID
			}
			title = "Insider telemetry anomaly: " + name
		}

		alertID, created, err := c.upsertFixtureAlert(fixtureAlert{
			SourceID:    sourceID,
			KeywordID:   keywordID,
			URL:         "insider://scenario/" + scenarioID,
			Title:       title,
			Summary:     ev.Summary,
			MatchedTerm: insiderKeywordTerm,
			EventTS:     ev.EventTS,
			Score:       ev.Score,
			TAS:         ev.TAS,
		})
		if err != nil {
			return fmt.Errorf("storing insider scenario %s: %w", scenarioID, err)
		}

		links := []database.EntityLink{
			{EntityType: "user_id", EntityValue: strings.ToLower(subjectID)},
		}
		if handle := strings.ToLower(strings.TrimSpace(ev.SubjectHandle)); handle != "" {
			links = append(links, database.EntityLink{EntityType: "actor_handle", EntityValue: handle})
		}
		if device := strings.ToLower(strings.TrimSpace(ev.DeviceID)); device != "" {
			links = append(links, database.EntityLink{EntityType: "device_id", EntityValue: device})
		}
		links = append(links, normalizeFixtureEntities(ev.RelatedEntities)...)
		if err := c.db.StoreEntities(alertID, links); err != nil {
			return err
		}

		if created {
			r.NewAlerts++
			r.Sources[insiderSourceName]++
			metrics.AlertsIngested.WithLabelValues("insider").Inc()
		}
	}
	return nil
}

func (c *Collector) collectSupplyChainFixtures(r *Result) error {
	var events []supplyChainEvent
	if err := loadFixtureFile(c.cfg.Sources.Fixtures.SupplyChainPath, &events); err != nil {
		return err
	}

	sourceID, err := c.db.UpsertSource(supplyChainSourceName, "supplychain://fixtures", "supplychain", 0.6)
	if err != nil {
		return err
	}
	keywordID, err := c.db.UpsertKeyword(supplyChainKeywordTerm, "supply_chain", 3.2)
	if err != nil {
		return err
	}

	for _, ev := range events {
		vendorID := strings.TrimSpace(ev.VendorID)
		if vendorID == "" {
			continue
		}
		r.TotalFound++

		title := strings.TrimSpace(ev.Title)
		if title == "" {
			name := ev.VendorName
			if name == "" {
				name = vendorID
			}
			title = "Supply-chain risk change: " + name
		}

		alertID, created, err := c.upsertFixtureAlert(fixtureAlert{
			SourceID:    sourceID,
			KeywordID:   keywordID,
			URL:         "supplychain://vendor/" + vendorID,
			Title:       title,
			Summary:     ev.Summary,
			MatchedTerm: supplyChainKeywordTerm,
			EventTS:     ev.EventTS,
			Score:       ev.Score,
			TAS:         ev.TAS,
		})
		if err != nil {
			return fmt.Errorf("storing supply-chain vendor %s: %w", vendorID, err)
		}

		links := []database.EntityLink{
			{EntityType: "vendor_id", EntityValue: strings.ToLower(vendorID)},
		}
		links = append(links, normalizeFixtureEntities(ev.RelatedEntities)...)
		if err := c.db.StoreEntities(alertID, links); err != nil {
			return err
		}

		if created {
			r.NewAlerts++
			r.Sources[supplyChainSourceName]++
			metrics.AlertsIngested.WithLabelValues("supplychain").Inc()
		}
	}
	return nil
}

type fixtureAlert struct {
	SourceID    int64
	KeywordID   int64
	URL         string
	Title       string
	Summary     string
	MatchedTerm string
	EventTS     string
	Score       float64
	TAS         float64
}

func (c *Collector) upsertFixtureAlert(f fixtureAlert) (int64, bool, error) {
	publishedAt := strings.TrimSpace(f.EventTS)
	if ts, ok := database.ParseTimestamp(publishedAt); ok {
		publishedAt = database.FormatTimestamp(ts)
	} else {
		publishedAt = database.FormatTimestamp(database.UTCNow())
	}

	return c.db.UpsertAlertByURL(&database.Alert{
		SourceID:    f.SourceID,
		KeywordID:   f.KeywordID,
		Title:       f.Title,
		Content:     optional(truncate(f.Summary, 2000)),
		URL:         f.URL,
		MatchedTerm: f.MatchedTerm,
		Severity:    score.Severity(f.Score),
		RiskScore:   f.Score,
		ORSScore:    f.Score,
		TASScore:    f.TAS,
		PublishedAt: &publishedAt,
	})
}

func normalizeFixtureEntities(entities []fixtureEntity) []database.EntityLink {
	var links []database.EntityLink
	for _, e := range entities {
		entityType := strings.ToLower(strings.TrimSpace(e.EntityType))
		entityValue := strings.ToLower(strings.TrimSpace(e.EntityValue))
		if entityValue == "" || !fixtureEntityTypes[entityType] {
			continue
		}
		links = append(links, database.EntityLink{EntityType: entityType, EntityValue: entityValue})
	}
	return links
}

func loadFixtureFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading fixture file: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing fixture file %s: %w", path, err)
	}
	return nil
}
