// Package report renders analyst-facing markdown: the daily intelligence
// report and per-thread case packs.
package report

import (
	"fmt"
	"sort"
	"strings"

	"osintwatch/internal/correlate"
	"osintwatch/internal/database"
)

// Daily is the assembled daily intelligence report.
type Daily struct {
	Date             string             `json:"report_date"`
	ExecutiveSummary string             `json:"executive_summary"`
	TopRisks         []database.Alert   `json:"top_risks"`
	TopKeywords      []KeywordMentions  `json:"top_keywords"`
	Threads          []correlate.Thread `json:"emerging_threads"`
	Escalations      []string           `json:"escalation_recommendations"`
	Stats            Stats              `json:"stats"`
}

// KeywordMentions counts alerts per matched keyword for the report date.
type KeywordMentions struct {
	Term     string `json:"term"`
	Mentions int    `json:"mentions"`
}

// Stats holds per-severity alert counts for the report date.
type Stats struct {
	Total    int `json:"total_alerts"`
	Critical int `json:"critical_count"`
	High     int `json:"high_count"`
	Medium   int `json:"medium_count"`
	Low      int `json:"low_count"`
}

// Generator builds reports from the store and the correlation engine.
type Generator struct {
	db     *database.DB
	engine *correlate.Engine
}

func NewGenerator(db *database.DB, engine *correlate.Engine) *Generator {
	return &Generator{db: db, engine: engine}
}

// DailyReport assembles the report for one UTC date (YYYY-MM-DD).
func (g *Generator) DailyReport(date string, opts correlate.Options) (*Daily, error) {
	alerts, err := g.db.AlertsForDate(date)
	if err != nil {
		return nil, fmt.Errorf("loading alerts for %s: %w", date, err)
	}
	severityCounts, err := g.db.SeverityCounts(date)
	if err != nil {
		return nil, fmt.Errorf("loading severity counts: %w", err)
	}
	threads, err := g.engine.BuildThreads(opts)
	if err != nil {
		return nil, fmt.Errorf("building threads: %w", err)
	}

	stats := Stats{
		Critical: severityCounts["critical"],
		High:     severityCounts["high"],
		Medium:   severityCounts["medium"],
		Low:      severityCounts["low"],
	}
	stats.Total = stats.Critical + stats.High + stats.Medium + stats.Low

	topRisks := alerts
	if len(topRisks) > 10 {
		topRisks = topRisks[:10]
	}

	report := &Daily{
		Date:        date,
		TopRisks:    topRisks,
		TopKeywords: topKeywords(alerts, 5),
		Threads:     threads,
		Stats:       stats,
	}
	report.ExecutiveSummary = executiveSummary(report)
	report.Escalations = escalations(report)
	return report, nil
}

// topKeywords ranks matched terms by mention count, ties broken alphabetically.
func topKeywords(alerts []database.Alert, limit int) []KeywordMentions {
	counts := make(map[string]int)
	for _, a := range alerts {
		if a.MatchedTerm != "" {
			counts[a.MatchedTerm]++
		}
	}

	mentions := make([]KeywordMentions, 0, len(counts))
	for term, n := range counts {
		mentions = append(mentions, KeywordMentions{Term: term, Mentions: n})
	}
	sort.Slice(mentions, func(i, j int) bool {
		if mentions[i].Mentions != mentions[j].Mentions {
			return mentions[i].Mentions > mentions[j].Mentions
		}
		return mentions[i].Term < mentions[j].Term
	})
	if len(mentions) > limit {
		mentions = mentions[:limit]
	}
	return mentions
}

func executiveSummary(r *Daily) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d alerts collected on %s", r.Stats.Total, r.Date)
	if r.Stats.Critical > 0 || r.Stats.High > 0 {
		fmt.Fprintf(&b, " (%d critical, %d high)", r.Stats.Critical, r.Stats.High)
	}
	b.WriteString(". ")

	if len(r.TopRisks) > 0 && r.TopRisks[0].RiskScore > 0 {
		fmt.Fprintf(&b, "Highest risk: %q (%.1f, %s). ",
			r.TopRisks[0].Title, r.TopRisks[0].RiskScore, r.TopRisks[0].Severity)
	}
	if len(r.Threads) > 0 {
		fmt.Fprintf(&b, "%d correlated threads active; top thread %q at confidence %.2f.",
			len(r.Threads), r.Threads[0].Label, r.Threads[0].Confidence)
	} else {
		b.WriteString("No correlated threads above threshold.")
	}
	return b.String()
}

func escalations(r *Daily) []string {
	var recs []string
	for _, a := range r.TopRisks {
		switch a.Severity {
		case "critical":
			recs = append(recs, fmt.Sprintf(
				"Escalate %q (score %.1f) to protective detail lead immediately.", a.Title, a.RiskScore))
		case "high":
			recs = append(recs, fmt.Sprintf(
				"Queue %q (score %.1f) for analyst review within 4 hours.", a.Title, a.RiskScore))
		}
	}
	for _, thread := range r.Threads {
		if thread.Confidence >= 0.7 {
			recs = append(recs, fmt.Sprintf(
				"Review thread %s (%s, confidence %.2f) for coordinated activity.",
				thread.ThreadID, thread.Label, thread.Confidence))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "No escalations required; maintain routine monitoring.")
	}
	return recs
}

// Markdown renders the daily report as a document.
func (r *Daily) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Daily Intelligence Report — %s\n\n", r.Date)
	fmt.Fprintf(&b, "%s\n\n", r.ExecutiveSummary)

	b.WriteString("## Alert Volume\n\n")
	b.WriteString("| Severity | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| critical | %d |\n", r.Stats.Critical)
	fmt.Fprintf(&b, "| high | %d |\n", r.Stats.High)
	fmt.Fprintf(&b, "| medium | %d |\n", r.Stats.Medium)
	fmt.Fprintf(&b, "| low | %d |\n", r.Stats.Low)
	fmt.Fprintf(&b, "| **total** | **%d** |\n\n", r.Stats.Total)

	b.WriteString("## Top Risks\n\n")
	if len(r.TopRisks) == 0 {
		b.WriteString("No alerts collected.\n\n")
	} else {
		b.WriteString("| Score | Severity | Source | Title |\n|---:|---|---|---|\n")
		for _, a := range r.TopRisks {
			fmt.Fprintf(&b, "| %.1f | %s | %s | %s |\n",
				a.RiskScore, a.Severity, a.SourceName, sanitizeCell(a.Title))
		}
		b.WriteString("\n")
	}

	if len(r.TopKeywords) > 0 {
		b.WriteString("## Top Keywords\n\n")
		for _, k := range r.TopKeywords {
			fmt.Fprintf(&b, "- %s (%d)\n", k.Term, k.Mentions)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Emerging Correlated Threads\n\n")
	if len(r.Threads) == 0 {
		b.WriteString("No threads above threshold.\n\n")
	} else {
		for _, thread := range r.Threads {
			fmt.Fprintf(&b, "- **%s** (`%s`): %d alerts across %d sources, confidence %.2f, reasons: %s\n",
				thread.Label, thread.ThreadID, thread.AlertsCount, thread.SourcesCount,
				thread.Confidence, strings.Join(thread.ReasonCodes, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Escalation Recommendations\n\n")
	for _, rec := range r.Escalations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}
	return b.String()
}

func sanitizeCell(s string) string {
	return strings.ReplaceAll(s, "|", "/")
}
