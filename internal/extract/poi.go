package extract

import (
	"regexp"
	"sort"
	"strings"

	"osintwatch/internal/database"
)

const (
	fuzzyThreshold   = 0.90
	contextWindow    = 80
	singleTokenScore = 0.35
)

var wordPattern = regexp.MustCompile(`[0-9A-Za-z_]+(?:['.\-][0-9A-Za-z_]+)*`)

// POIMatcher finds protectee alias mentions in alert text.
//
// Multi-token aliases match exactly at full confidence and fuzzily above a
// conservative threshold. Single-token aliases ("Vale") are noisy, so they
// only count as supporting signals and only when explicitly enabled.
type POIMatcher struct {
	allowSingleToken bool
}

func NewPOIMatcher(allowSingleToken bool) *POIMatcher {
	return &POIMatcher{allowSingleToken: allowSingleToken}
}

// Match returns alias hits sorted by score descending.
func (m *POIMatcher) Match(text string, aliases []database.AliasRow) []database.POIHit {
	if text == "" {
		return nil
	}

	type hitKey struct {
		poiID int64
		alias string
		start int
	}
	seen := make(map[hitKey]bool)
	var hits []database.POIHit

	for _, row := range aliases {
		alias := strings.TrimSpace(row.Alias)
		if alias == "" {
			continue
		}
		tokenCount := len(strings.Fields(alias))
		if tokenCount == 1 && !m.allowSingleToken {
			continue
		}

		exact := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(alias) + `\b`)
		for _, span := range exact.FindAllStringIndex(text, -1) {
			key := hitKey{row.POIID, strings.ToLower(alias), span[0]}
			if seen[key] {
				continue
			}
			seen[key] = true
			matchType, score := "exact", 1.0
			if tokenCount == 1 {
				matchType, score = "supporting_single_token", singleTokenScore
			}
			ctx := contextSnippet(text, span[0], span[1])
			hits = append(hits, database.POIHit{
				POIID:      row.POIID,
				MatchType:  matchType,
				MatchValue: alias,
				MatchScore: score,
				Context:    &ctx,
			})
		}

		if tokenCount >= 2 {
			for _, fm := range fuzzyMatches(text, alias) {
				key := hitKey{row.POIID, strings.ToLower(alias), fm.start}
				if seen[key] {
					continue
				}
				seen[key] = true
				ctx := contextSnippet(text, fm.start, fm.end)
				hits = append(hits, database.POIHit{
					POIID:      row.POIID,
					MatchType:  "fuzzy",
					MatchValue: alias,
					MatchScore: round3(fm.score),
					Context:    &ctx,
				})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].MatchScore != hits[j].MatchScore {
			return hits[i].MatchScore > hits[j].MatchScore
		}
		if hits[i].POIID != hits[j].POIID {
			return hits[i].POIID < hits[j].POIID
		}
		return hits[i].MatchValue < hits[j].MatchValue
	})
	return hits
}

type fuzzyMatch struct {
	start, end int
	score      float64
}

// fuzzyMatches slides an alias-sized token window over the text and keeps
// windows whose sequence ratio clears the threshold.
func fuzzyMatches(text, alias string) []fuzzyMatch {
	aliasTokens := strings.Fields(alias)
	if len(aliasTokens) < 2 {
		return nil
	}

	spans := wordPattern.FindAllStringIndex(text, -1)
	if len(spans) < len(aliasTokens) {
		return nil
	}

	loweredAlias := strings.ToLower(alias)
	var matches []fuzzyMatch
	for idx := 0; idx+len(aliasTokens) <= len(spans); idx++ {
		var parts []string
		for k := 0; k < len(aliasTokens); k++ {
			span := spans[idx+k]
			parts = append(parts, text[span[0]:span[1]])
		}
		candidate := strings.ToLower(strings.Join(parts, " "))
		score := SequenceRatio(loweredAlias, candidate)
		if score >= fuzzyThreshold {
			matches = append(matches, fuzzyMatch{
				start: spans[idx][0],
				end:   spans[idx+len(aliasTokens)-1][1],
				score: score,
			})
		}
	}
	return matches
}

func contextSnippet(text string, start, end int) string {
	left := start - contextWindow
	if left < 0 {
		left = 0
	}
	right := end + contextWindow
	if right > len(text) {
		right = len(text)
	}
	return strings.Join(strings.Fields(text[left:right]), " ")
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
