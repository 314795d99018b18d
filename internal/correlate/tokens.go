package correlate

import (
	"net/url"
	"strings"
)

// minTokenLen drops short noise tokens ("a", "rt", "re").
const minTokenLen = 3

// NormalizeTokens lowercases text, splits on any rune that is not alphanumeric,
// '@', '_', or '-', and discards tokens shorter than three characters.
// Pure and deterministic; used for linguistic-overlap comparison.
func NormalizeTokens(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '@' || r == '_' || r == '-':
			return false
		}
		return true
	})
	for _, f := range fields {
		if len(f) >= minTokenLen {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

// SourceFingerprint builds a coarse "{source_type}:{host}" identity used to
// detect re-posts across mirrors of the same outlet. The host is lowercased
// with any leading "www." stripped; missing pieces fall back to "unknown".
func SourceFingerprint(sourceType, rawURL string) string {
	st := strings.TrimSpace(strings.ToLower(sourceType))
	if st == "" {
		st = "unknown"
	}
	host := "unknown"
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		h := strings.ToLower(u.Hostname())
		h = strings.TrimPrefix(h, "www.")
		if h != "" {
			host = h
		}
	}
	return st + ":" + host
}

// Jaccard returns |A ∩ B| / |A ∪ B|, defined as 0 when either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
