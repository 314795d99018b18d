// Package extract pulls structured signals out of alert text: IOC entities,
// actor handles, and protectee (POI) alias matches.
package extract

import (
	"regexp"
	"strings"

	"osintwatch/internal/database"
)

// EntityExtractor produces entity links from unstructured alert text.
// The regex implementation is the default; richer NLP extractors can be
// swapped in without touching callers.
type EntityExtractor interface {
	Extract(text string) []database.EntityLink
}

var iocPatterns = []struct {
	entityType string
	pattern    *regexp.Regexp
}{
	{"ipv4", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{"domain", regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[A-Za-z]{2,24}\b`)},
	{"url", regexp.MustCompile(`(?i)\bhttps?://[^\s<>'")]+`)},
	{"cve", regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,7}\b`)},
	{"md5", regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)},
	{"sha1", regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`)},
	{"sha256", regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)},
}

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>'")]+`)

var handlePattern = regexp.MustCompile(`(^|[^\w@])(@[A-Za-z0-9_][A-Za-z0-9_-]{1,31})`)

// hashTypes get the mixed-hex check: a run of pure digits or pure letters is
// far more likely a UUID fragment, git SHA, or session token than a real hash.
var hashTypes = map[string]bool{"md5": true, "sha1": true, "sha256": true}

// RegexExtractor is the default EntityExtractor.
type RegexExtractor struct{}

// Extract returns unique IOC entities plus actor handles found in text.
// Domains that sit inside a matched URL are suppressed so a single link does
// not fan out into a separate domain entity.
func (RegexExtractor) Extract(text string) []database.EntityLink {
	if text == "" {
		return nil
	}

	urlSpans := urlPattern.FindAllStringIndex(text, -1)
	inURLSpan := func(start, end int) bool {
		for _, span := range urlSpans {
			if start < span[1] && end > span[0] {
				return true
			}
		}
		return false
	}

	var findings []database.EntityLink
	seen := make(map[[2]string]bool)
	add := func(entityType, value string) {
		key := [2]string{entityType, value}
		if value == "" || seen[key] {
			return
		}
		seen[key] = true
		findings = append(findings, database.EntityLink{EntityType: entityType, EntityValue: value})
	}

	for _, ioc := range iocPatterns {
		for _, span := range ioc.pattern.FindAllStringIndex(text, -1) {
			if ioc.entityType == "domain" && inURLSpan(span[0], span[1]) {
				continue
			}
			raw := text[span[0]:span[1]]
			if hashTypes[ioc.entityType] && !mixedHex(raw) {
				continue
			}
			add(ioc.entityType, normalizeValue(ioc.entityType, raw))
		}
	}

	for _, handle := range ExtractActorHandles(text) {
		add("actor_handle", handle)
	}
	return findings
}

// ExtractActorHandles returns lowercase @handle tokens from text, in order of
// first appearance, deduplicated.
func ExtractActorHandles(text string) []string {
	var handles []string
	seen := make(map[string]bool)
	for _, groups := range handlePattern.FindAllStringSubmatch(text, -1) {
		handle := strings.ToLower(groups[2])
		if !seen[handle] {
			seen[handle] = true
			handles = append(handles, handle)
		}
	}
	return handles
}

func normalizeValue(entityType, value string) string {
	normalized := strings.Trim(strings.TrimSpace(value), ".,);")
	switch entityType {
	case "cve":
		return strings.ToUpper(normalized)
	case "domain", "md5", "sha1", "sha256":
		return strings.ToLower(normalized)
	}
	return normalized
}

// mixedHex requires at least one digit and one a-f letter.
func mixedHex(s string) bool {
	hasDigit, hasLetter := false, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F'):
			hasLetter = true
		}
	}
	return hasDigit && hasLetter
}
