// Package score assigns risk scores and severity labels to alerts.
//
// Formula: risk = keyword_weight * frequency_factor * source_credibility * 20
// plus a recency bonus of recency_factor * 10, clamped to [0,100]. The recency
// factor decays linearly from 1.0 to a 0.1 floor over 168 hours. The frequency
// factor compares today's keyword match count to its 7-day rolling average and
// never drops below 1.0, so quiet days don't discount a credible hit.
package score

import (
	"fmt"
	"math"
	"time"

	"osintwatch/internal/database"
)

const (
	recencyDecayHours = 168.0
	recencyFloor      = 0.1

	severityCritical = 90.0
	severityHigh     = 70.0
	severityMedium   = 40.0
)

// Breakdown carries every factor that went into a score, for the audit trail.
type Breakdown struct {
	KeywordWeight     float64
	SourceCredibility float64
	FrequencyFactor   float64
	RecencyFactor     float64
	RiskScore         float64
	Severity          string
}

// Compute derives the risk score and severity from its input factors.
func Compute(keywordWeight, sourceCredibility, frequencyFactor, recencyHours float64) (float64, string) {
	recencyFactor := RecencyFactor(recencyHours)
	raw := keywordWeight*frequencyFactor*sourceCredibility*20.0 + recencyFactor*10.0
	risk := round1(math.Min(100.0, math.Max(0.0, raw)))
	return risk, Severity(risk)
}

// RecencyFactor decays linearly from 1.0 to the floor over the decay window.
func RecencyFactor(recencyHours float64) float64 {
	return math.Max(recencyFloor, 1.0-recencyHours/recencyDecayHours)
}

// Severity maps a numeric score to its band.
func Severity(score float64) string {
	switch {
	case score >= severityCritical:
		return "critical"
	case score >= severityHigh:
		return "high"
	case score >= severityMedium:
		return "medium"
	default:
		return "low"
	}
}

// FrequencyFactor compares today's match count against the trailing 7-day
// average, floored at 1.0.
func FrequencyFactor(db *database.DB, keywordID int64, now time.Time) (float64, error) {
	today := now.UTC().Format("2006-01-02")
	todayCount, err := db.KeywordFrequency(keywordID, today)
	if err != nil {
		return 0, err
	}

	weekAgo := now.UTC().AddDate(0, 0, -7).Format("2006-01-02")
	avg, err := db.KeywordFrequencyAverage(keywordID, weekAgo, today)
	if err != nil {
		return 0, err
	}
	if avg < 1.0 {
		avg = 1.0
	}
	return math.Max(1.0, round2(float64(todayCount)/avg)), nil
}

// Scorer scores alerts against the store.
type Scorer struct {
	db *database.DB
}

func NewScorer(db *database.DB) *Scorer {
	return &Scorer{db: db}
}

// ScoreAlert runs the full pipeline for one alert: factor lookup, score
// computation, alert update, and audit row. The OSINT relevance score (ORS)
// mirrors the risk score unless a collector already supplied one; the targeted
// assessment score (TAS) is only ever set by collectors.
func (s *Scorer) ScoreAlert(alert *database.Alert, now time.Time) (*Breakdown, error) {
	keywordWeight := 1.0
	if kw, err := s.db.GetKeyword(alert.KeywordID); err != nil {
		return nil, fmt.Errorf("loading keyword %d: %w", alert.KeywordID, err)
	} else if kw != nil && kw.Weight > 0 {
		keywordWeight = kw.Weight
	}

	credibility := 0.5
	if src, err := s.db.GetSource(alert.SourceID); err != nil {
		return nil, fmt.Errorf("loading source %d: %w", alert.SourceID, err)
	} else if src != nil && src.CredibilityScore > 0 {
		credibility = src.CredibilityScore
	}

	frequencyFactor, err := FrequencyFactor(s.db, alert.KeywordID, now)
	if err != nil {
		return nil, fmt.Errorf("frequency factor for keyword %d: %w", alert.KeywordID, err)
	}

	created := now
	if alert.PublishedAt != nil {
		if ts, ok := database.ParseTimestamp(*alert.PublishedAt); ok {
			created = ts
		}
	} else if alert.CreatedAt != nil {
		if ts, ok := database.ParseTimestamp(*alert.CreatedAt); ok {
			created = ts
		}
	}
	recencyHours := now.Sub(created).Hours()
	if recencyHours < 0 {
		recencyHours = 0
	}

	risk, severity := Compute(keywordWeight, credibility, frequencyFactor, recencyHours)

	ors := alert.ORSScore
	if ors <= 0 {
		ors = risk
	}
	if err := s.db.UpdateAlertScores(alert.ID, risk, ors, alert.TASScore, severity); err != nil {
		return nil, fmt.Errorf("updating alert %d scores: %w", alert.ID, err)
	}

	breakdown := &Breakdown{
		KeywordWeight:     keywordWeight,
		SourceCredibility: credibility,
		FrequencyFactor:   frequencyFactor,
		RecencyFactor:     RecencyFactor(recencyHours),
		RiskScore:         risk,
		Severity:          severity,
	}
	if err := s.db.InsertScoreAudit(&database.ScoreAudit{
		AlertID:           alert.ID,
		KeywordWeight:     breakdown.KeywordWeight,
		SourceCredibility: breakdown.SourceCredibility,
		FrequencyFactor:   breakdown.FrequencyFactor,
		RecencyFactor:     breakdown.RecencyFactor,
		FinalScore:        risk,
	}); err != nil {
		return nil, fmt.Errorf("writing score audit for alert %d: %w", alert.ID, err)
	}
	return breakdown, nil
}

// ScorePending scores every alert that has not been scored yet. Returns the
// number scored.
func (s *Scorer) ScorePending(now time.Time) (int, error) {
	alerts, err := s.db.UnscoredAlerts()
	if err != nil {
		return 0, err
	}
	for i := range alerts {
		if _, err := s.ScoreAlert(&alerts[i], now); err != nil {
			return i, err
		}
	}
	return len(alerts), nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
