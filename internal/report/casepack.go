package report

import (
	"fmt"
	"strings"

	"osintwatch/internal/correlate"
	"osintwatch/internal/database"
)

// EscalationTier maps a thread's max ORS onto a handling tier.
func EscalationTier(maxORS float64) string {
	switch {
	case maxORS >= 85:
		return "CRITICAL"
	case maxORS >= 65:
		return "ELEVATED"
	case maxORS >= 40:
		return "ROUTINE"
	default:
		return "LOW"
	}
}

var tierRecommendations = map[string]string{
	"CRITICAL": "Immediate escalation to protective detail lead and intelligence manager (target: 30 minutes).",
	"ELEVATED": "Escalate to analyst lead for enhanced monitoring and immediate review (target: 4 hours).",
	"ROUTINE":  "Maintain monitoring queue and reassess at next collection cycle.",
	"LOW":      "Track passively and suppress unless additional corroboration appears.",
}

// CasePack renders the top-ranked thread as an analyst case pack. Returns a
// placeholder document when no thread is available.
func CasePack(thread *correlate.Thread) string {
	generatedAt := database.FormatTimestamp(database.UTCNow()) + " UTC"

	if thread == nil {
		return strings.Join([]string{
			"# Incident Thread Case Pack",
			"",
			"Generated: " + generatedAt,
			"",
			"No correlated thread met the clustering threshold in the current window.",
			"Maintain routine monitoring and rerun after the next collection cycle.",
			"",
		}, "\n")
	}

	tier := EscalationTier(thread.MaxORSScore)

	lines := []string{
		"# Incident Thread Case Pack",
		"",
		"Generated: " + generatedAt,
		"",
		"## Thread Snapshot",
		fmt.Sprintf("- `thread_id`: `%s`", thread.ThreadID),
		fmt.Sprintf("- `label`: **%s**", thread.Label),
		fmt.Sprintf("- alerts: **%d**", thread.AlertsCount),
		fmt.Sprintf("- sources: **%d** (%s)", thread.SourcesCount, strings.Join(thread.Sources, ", ")),
		fmt.Sprintf("- time window: **%s → %s**", thread.StartTS, thread.EndTS),
		fmt.Sprintf("- confidence: **%.2f**", thread.Confidence),
		fmt.Sprintf("- max ORS: **%.1f**", thread.MaxORSScore),
		fmt.Sprintf("- max TAS: **%.1f**", thread.MaxTASScore),
		fmt.Sprintf("- recommended escalation tier: **%s**", tier),
		"",
		"## Correlation Evidence",
		"- actor handles: " + orNone(thread.ActorHandles),
		"- shared entities: " + orNone(thread.SharedEntities),
		"- matched terms: " + orNone(thread.MatchedTerms),
		"- linked POIs: " + orNone(thread.POINames),
		"- reason codes: " + orNone(thread.ReasonCodes),
		"",
	}

	lines = append(lines, evidenceNotes(thread)...)
	lines = append(lines,
		"",
		"## Timeline",
		"| Timestamp | Source | Type | ORS | TAS | Matched Term | Title |",
		"|---|---|---|---:|---:|---|---|",
	)
	for _, item := range thread.Timeline {
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %.1f | %.1f | %s | %s |",
			item.Timestamp, item.SourceName, item.SourceType,
			item.ORSScore, item.TASScore, item.MatchedTerm, sanitizeCell(item.Title)))
	}

	lines = append(lines,
		"",
		"## Recommendation",
		tierRecommendations[tier],
		"",
	)
	return strings.Join(lines, "\n")
}

func evidenceNotes(thread *correlate.Thread) []string {
	var notes []string
	if len(thread.ActorHandles) > 0 {
		notes = append(notes, "- Actor-handle evidence present; validate continuity during analyst review.")
	}
	if len(thread.SharedEntities) > 0 {
		notes = append(notes, "- Shared entities observed across alerts.")
	}
	if thread.SourcesCount >= 2 {
		notes = append(notes, "- Multi-source corroboration across independent feeds.")
	}
	if len(thread.MatchedTerms) > 0 {
		notes = append(notes, "- Recurring threat vocabulary over a constrained time window.")
	}
	if len(notes) == 0 {
		notes = append(notes, "- Temporal + term-level linkage met thread clustering threshold.")
	}
	return notes
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
