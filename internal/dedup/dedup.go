// Package dedup suppresses duplicate alerts with a two-tier check: an exact
// content-hash fast path and a bounded fuzzy-title slow path for rephrased
// copies of the same story.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"osintwatch/internal/database"
	"osintwatch/internal/extract"
)

const (
	normalizedPrefixLen = 200
	fuzzyTitleThreshold = 0.85
	maxFuzzyCandidates  = 200
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeText strips HTML tags, lowercases, collapses whitespace, and
// truncates to the hashing prefix length.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = htmlTagPattern.ReplaceAllString(text, " ")
	text = strings.ToLower(strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " ")))
	if len(text) > normalizedPrefixLen {
		text = text[:normalizedPrefixLen]
	}
	return text
}

// ContentHash is the SHA-256 of the normalized title+content, the fast-path
// dedup key.
func ContentHash(title, content string) string {
	normalized := NormalizeText(title + " " + content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Check returns the alert's content hash and, if it duplicates an existing
// alert, the original's ID (0 otherwise). The hash lookup runs first; the
// fuzzy title pass only runs on a miss and only against same-day candidates.
func Check(db *database.DB, title, content string) (string, int64, error) {
	hash := ContentHash(title, content)

	dupID, err := db.FindAlertByContentHash(hash)
	if err != nil {
		return "", 0, err
	}
	if dupID != 0 {
		return hash, dupID, nil
	}

	dupID, err = fuzzyTitleDuplicate(db, title)
	if err != nil {
		return "", 0, err
	}
	return hash, dupID, nil
}

// fuzzyTitleDuplicate returns the best same-day title match at or above the
// threshold, preferring higher ratios and breaking ties on the lower ID.
func fuzzyTitleDuplicate(db *database.DB, title string) (int64, error) {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return 0, nil
	}

	today := database.UTCNow().Format("2006-01-02")
	candidates, err := db.SameDayAlertTitles(today, maxFuzzyCandidates)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var bestID int64
	bestRatio := 0.0
	for _, id := range ids {
		candidate := strings.ToLower(strings.TrimSpace(candidates[id]))
		ratio := extract.SequenceRatio(title, candidate)
		if ratio >= fuzzyTitleThreshold && ratio > bestRatio {
			bestRatio = ratio
			bestID = id
		}
	}
	return bestID, nil
}
