package evaluate

import (
	"fmt"
	"strings"
)

// Markdown renders the report as a reviewable document with per-case and
// aggregate tables.
func Markdown(r *Report) string {
	var b strings.Builder

	b.WriteString("# Correlation Engine Evaluation\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt)
	if r.DatasetDescription != "" {
		fmt.Fprintf(&b, "%s\n\n", r.DatasetDescription)
	}

	b.WriteString("## Aggregate (micro-averaged over pairs)\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Cases | %d |\n", r.CasesTotal)
	fmt.Fprintf(&b, "| Exact-match cases | %d |\n", r.ExactMatchCases)
	fmt.Fprintf(&b, "| Precision | %.4f |\n", r.Aggregate.Precision)
	fmt.Fprintf(&b, "| Recall | %.4f |\n", r.Aggregate.Recall)
	fmt.Fprintf(&b, "| F1 | %.4f |\n", r.Aggregate.F1)
	fmt.Fprintf(&b, "| TP / FP / FN / TN | %d / %d / %d / %d |\n\n",
		r.PairTotals.TP, r.PairTotals.FP, r.PairTotals.FN, r.PairTotals.TN)

	b.WriteString("## Per-case results\n\n")
	b.WriteString("| Case | Alerts | Expected | Predicted | TP | FP | FN | P | R | F1 | Exact |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|---|---|\n")
	for _, c := range r.Cases {
		exact := "no"
		if c.ExactMatch {
			exact = "yes"
		}
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | %d | %.2f | %.2f | %.2f | %s |\n",
			c.ID, c.Alerts, c.ExpectedPairs, c.PredictedPairs,
			c.TP, c.FP, c.FN, c.Precision, c.Recall, c.F1, exact)
	}
	b.WriteString("\n")

	b.WriteString("## Error profile\n\n")
	if len(r.ErrorProfile.FalsePositiveCases) == 0 && len(r.ErrorProfile.FalseNegativeCases) == 0 {
		b.WriteString("No false positives or false negatives.\n")
	} else {
		if len(r.ErrorProfile.FalsePositiveCases) > 0 {
			fmt.Fprintf(&b, "- Over-linking (false positives): %s\n",
				strings.Join(r.ErrorProfile.FalsePositiveCases, ", "))
		}
		if len(r.ErrorProfile.FalseNegativeCases) > 0 {
			fmt.Fprintf(&b, "- Missed links (false negatives): %s\n",
				strings.Join(r.ErrorProfile.FalseNegativeCases, ", "))
		}
	}
	return b.String()
}
