package evaluate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"osintwatch/internal/correlate"
	"osintwatch/internal/database"
)

// CaseResult holds the pairwise confusion counts and metrics for one case.
type CaseResult struct {
	ID             string  `json:"id"`
	Alerts         int     `json:"alerts"`
	PairsTotal     int     `json:"pairs_total"`
	ExpectedPairs  int     `json:"expected_pairs"`
	PredictedPairs int     `json:"predicted_pairs"`
	TP             int     `json:"tp"`
	FP             int     `json:"fp"`
	FN             int     `json:"fn"`
	TN             int     `json:"tn"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	ExactMatch     bool    `json:"exact_match"`
}

// PairTotals are summed confusion counts across all cases.
type PairTotals struct {
	TP                   int `json:"tp"`
	FP                   int `json:"fp"`
	FN                   int `json:"fn"`
	TN                   int `json:"tn"`
	SupportPositivePairs int `json:"support_positive_pairs"`
	SupportAllPairs      int `json:"support_all_pairs"`
}

// Aggregate holds micro-averaged metrics over all cases.
type Aggregate struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// ErrorProfile lists the cases that produced false positives or negatives.
type ErrorProfile struct {
	FalsePositiveCases []string `json:"false_positive_cases"`
	FalseNegativeCases []string `json:"false_negative_cases"`
}

// Report is the full evaluation output.
type Report struct {
	GeneratedAt        string       `json:"generated_at"`
	DatasetDescription string       `json:"dataset_description"`
	CasesTotal         int          `json:"cases_total"`
	ExactMatchCases    int          `json:"exact_match_cases"`
	PairTotals         PairTotals   `json:"pair_totals"`
	Aggregate          Aggregate    `json:"aggregate"`
	ErrorProfile       ErrorProfile `json:"error_profile"`
	Cases              []CaseResult `json:"cases"`
}

type labelPair struct {
	left, right string
}

func makeLabelPair(a, b string) labelPair {
	if a <= b {
		return labelPair{a, b}
	}
	return labelPair{b, a}
}

// Run replays every case through an isolated store and scores predicted pairs
// against expected pairs. A case that predicts nothing is a legitimate
// false-negative outcome, never an error.
func Run(dataset *Dataset) (*Report, error) {
	report := &Report{
		GeneratedAt:        database.FormatTimestamp(database.UTCNow()),
		DatasetDescription: dataset.Description,
		CasesTotal:         len(dataset.Cases),
	}

	for _, c := range dataset.Cases {
		result, err := evaluateCase(c)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.ID, err)
		}
		report.Cases = append(report.Cases, *result)

		report.PairTotals.TP += result.TP
		report.PairTotals.FP += result.FP
		report.PairTotals.FN += result.FN
		report.PairTotals.TN += result.TN
		if result.ExactMatch {
			report.ExactMatchCases++
		}
		if result.FP > 0 {
			report.ErrorProfile.FalsePositiveCases = append(report.ErrorProfile.FalsePositiveCases, result.ID)
		}
		if result.FN > 0 {
			report.ErrorProfile.FalseNegativeCases = append(report.ErrorProfile.FalseNegativeCases, result.ID)
		}
	}

	report.PairTotals.SupportPositivePairs = report.PairTotals.TP + report.PairTotals.FN
	report.PairTotals.SupportAllPairs = report.PairTotals.TP + report.PairTotals.FP +
		report.PairTotals.FN + report.PairTotals.TN
	report.Aggregate.Precision = round4(precision(report.PairTotals.TP, report.PairTotals.FP))
	report.Aggregate.Recall = round4(recall(report.PairTotals.TP, report.PairTotals.FN))
	report.Aggregate.F1 = round4(f1(precision(report.PairTotals.TP, report.PairTotals.FP),
		recall(report.PairTotals.TP, report.PairTotals.FN)))
	return report, nil
}

func evaluateCase(c Case) (*CaseResult, error) {
	dir, err := os.MkdirTemp("", "osintwatch-eval-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	db, err := database.Open(filepath.Join(dir, "eval.db"))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	labelToAlertID, labels, err := seedCase(db, c)
	if err != nil {
		return nil, err
	}
	alertIDToLabel := make(map[int64]string, len(labelToAlertID))
	for label, id := range labelToAlertID {
		alertIDToLabel[id] = label
	}

	windowHours := c.WindowHours
	if windowHours == 0 {
		windowHours = 72
	}
	threads, err := correlate.NewEngine(db).BuildThreads(correlate.Options{
		Days:           30,
		WindowHours:    windowHours,
		MinClusterSize: 2,
		Limit:          100,
		IncludeDemo:    true,
	})
	if err != nil {
		return nil, err
	}

	predicted := pairsFromThreads(threads, alertIDToLabel)
	expected := make(map[labelPair]struct{})
	for _, pair := range c.ExpectedLinkedPairs {
		if len(pair) == 2 {
			expected[makeLabelPair(pair[0], pair[1])] = struct{}{}
		}
	}
	all := allPairs(labels)

	tp, fp, fn, tn := 0, 0, 0, 0
	for pair := range all {
		_, isPredicted := predicted[pair]
		_, isExpected := expected[pair]
		switch {
		case isPredicted && isExpected:
			tp++
		case isPredicted:
			fp++
		case isExpected:
			fn++
		default:
			tn++
		}
	}

	p := precision(tp, fp)
	r := recall(tp, fn)
	return &CaseResult{
		ID:             c.ID,
		Alerts:         len(labels),
		PairsTotal:     len(all),
		ExpectedPairs:  len(expected),
		PredictedPairs: len(predicted),
		TP:             tp,
		FP:             fp,
		FN:             fn,
		TN:             tn,
		Precision:      round4(p),
		Recall:         round4(r),
		F1:             round4(f1(p, r)),
		ExactMatch:     setsEqual(predicted, expected),
	}, nil
}

// seedCase inserts the case's sources, keywords, POIs, alerts, entity links,
// and POI hits into a fresh store.
func seedCase(db *database.DB, c Case) (map[string]int64, []string, error) {
	now := database.UTCNow()
	labelToAlertID := make(map[string]int64)
	var labels []string

	for idx, alert := range c.Alerts {
		label := alert.ID
		if label == "" {
			label = fmt.Sprintf("a%d", idx+1)
		}
		sourceType := strings.ToLower(strings.TrimSpace(alert.SourceType))
		if sourceType == "" {
			sourceType = "rss"
		}
		sourceID, err := db.UpsertSource("eval-"+sourceType, "https://eval.local/"+sourceType, sourceType, 0.6)
		if err != nil {
			return nil, nil, err
		}
		term := strings.ToLower(strings.TrimSpace(alert.MatchedTerm))
		if term == "" {
			term = "general"
		}
		keywordID, err := db.UpsertKeyword(term, "protective_intel", 2.0)
		if err != nil {
			return nil, nil, err
		}

		hoursAgo := alert.HoursAgo
		if hoursAgo < 0 {
			hoursAgo = 0
		}
		published := database.FormatTimestamp(now.Add(-time.Duration(hoursAgo * float64(time.Hour))))
		url := strings.TrimSpace(alert.URL)
		if url == "" {
			url = fmt.Sprintf("https://eval.local/%s/%s", c.ID, label)
		}
		title := alert.Title
		if title == "" {
			title = "Eval alert " + label
		}
		content := alert.Content

		alertID, err := db.InsertAlert(&database.Alert{
			SourceID:    sourceID,
			KeywordID:   keywordID,
			Title:       title,
			Content:     &content,
			URL:         url,
			MatchedTerm: term,
			Severity:    "low",
			PublishedAt: &published,
		})
		if err != nil {
			return nil, nil, err
		}
		if alertID == 0 {
			return nil, nil, fmt.Errorf("duplicate alert URL %q in case fixture", url)
		}
		labelToAlertID[label] = alertID
		labels = append(labels, label)

		var links []database.EntityLink
		for _, handle := range alert.ActorHandles {
			clean := strings.ToLower(strings.TrimSpace(handle))
			if clean != "" {
				links = append(links, database.EntityLink{EntityType: "actor_handle", EntityValue: clean})
			}
		}
		for _, entity := range alert.Entities {
			etype := strings.ToLower(strings.TrimSpace(entity.EntityType))
			evalue := strings.ToLower(strings.TrimSpace(entity.EntityValue))
			if etype != "" && evalue != "" {
				links = append(links, database.EntityLink{EntityType: etype, EntityValue: evalue})
			}
		}
		if err := db.StoreEntities(alertID, links); err != nil {
			return nil, nil, err
		}

		for _, poiName := range alert.POINames {
			clean := strings.TrimSpace(poiName)
			if clean == "" {
				continue
			}
			poiID, err := db.UpsertPOI(clean, nil, nil, 5)
			if err != nil {
				return nil, nil, err
			}
			if err := db.StorePOIHits(alertID, []database.POIHit{{
				POIID:      poiID,
				MatchType:  "name",
				MatchValue: clean,
				MatchScore: 1.0,
			}}); err != nil {
				return nil, nil, err
			}
		}
	}
	return labelToAlertID, labels, nil
}

// pairsFromThreads treats two alerts as predicted-linked iff they co-occur in
// any output thread's timeline.
func pairsFromThreads(threads []correlate.Thread, alertIDToLabel map[int64]string) map[labelPair]struct{} {
	predicted := make(map[labelPair]struct{})
	for _, thread := range threads {
		var threadLabels []string
		for _, entry := range thread.Timeline {
			if label, ok := alertIDToLabel[entry.AlertID]; ok {
				threadLabels = append(threadLabels, label)
			}
		}
		sort.Strings(threadLabels)
		for i := 0; i < len(threadLabels); i++ {
			for j := i + 1; j < len(threadLabels); j++ {
				predicted[makeLabelPair(threadLabels[i], threadLabels[j])] = struct{}{}
			}
		}
	}
	return predicted
}

func allPairs(labels []string) map[labelPair]struct{} {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	pairs := make(map[labelPair]struct{})
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			pairs[makeLabelPair(sorted[i], sorted[j])] = struct{}{}
		}
	}
	return pairs
}

func setsEqual(a, b map[labelPair]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for pair := range a {
		if _, ok := b[pair]; !ok {
			return false
		}
	}
	return true
}

func precision(tp, fp int) float64 {
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

func recall(tp, fn int) float64 {
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

func f1(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
