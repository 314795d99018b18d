package correlate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"osintwatch/internal/database"
)

// TimelineEntry is one alert inside a thread, in event-time order.
type TimelineEntry struct {
	AlertID     int64   `json:"alert_id"`
	Timestamp   string  `json:"timestamp"`
	SourceName  string  `json:"source_name"`
	SourceType  string  `json:"source_type"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	MatchedTerm string  `json:"matched_term"`
	Severity    string  `json:"severity"`
	ORSScore    float64 `json:"ors_score"`
	TASScore    float64 `json:"tas_score"`
}

// PairEvidence is the rendered evidence for one linked alert pair.
type PairEvidence struct {
	AlertA  int64    `json:"alert_a"`
	AlertB  int64    `json:"alert_b"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Thread is one correlated subject-of-interest cluster.
type Thread struct {
	ThreadID       string          `json:"thread_id"`
	Label          string          `json:"label"`
	AlertsCount    int             `json:"alerts_count"`
	SourcesCount   int             `json:"sources_count"`
	Sources        []string        `json:"sources"`
	SourceTypes    []string        `json:"source_types"`
	StartTS        string          `json:"start_ts"`
	EndTS          string          `json:"end_ts"`
	MaxORSScore    float64         `json:"max_ors_score"`
	MaxTASScore    float64         `json:"max_tas_score"`
	POIIDs         []int64         `json:"poi_ids"`
	POINames       []string        `json:"poi_names"`
	ActorHandles   []string        `json:"actor_handles"`
	SharedEntities []string        `json:"shared_entities"`
	MatchedTerms   []string        `json:"matched_terms"`
	ReasonCodes    []string        `json:"reason_codes"`
	Confidence     float64         `json:"thread_confidence"`
	PairEvidence   []PairEvidence  `json:"pair_evidence"`
	Timeline       []TimelineEntry `json:"timeline"`
}

// summarize materializes every cluster meeting the minimum size and the
// source-diversity gate into a thread record with aggregate evidence.
func summarize(
	ids []int64,
	views map[int64]*alertView,
	uf *unionFind,
	pairs map[pairKey]*pairEvidence,
	poiHits []database.POIHit,
	entities []database.EntityLink,
	minClusterSize int,
) []Thread {
	clusters := make(map[int64][]int64)
	for _, id := range ids {
		root := uf.find(id)
		clusters[root] = append(clusters[root], id)
	}
	roots := make([]int64, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	poiHitsByAlert := make(map[int64][]database.POIHit)
	for _, hit := range poiHits {
		poiHitsByAlert[hit.AlertID] = append(poiHitsByAlert[hit.AlertID], hit)
	}
	entitiesByAlert := make(map[int64][]database.EntityLink)
	for _, e := range entities {
		entitiesByAlert[e.AlertID] = append(entitiesByAlert[e.AlertID], e)
	}

	evidenceByRoot := make(map[int64][]PairEvidence)
	for key, ev := range pairs {
		root := uf.find(key.a)
		if root != uf.find(key.b) {
			// Evidence below the link threshold between clusters.
			continue
		}
		reasons := make([]string, 0, len(ev.reasons))
		for r := range ev.reasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		evidenceByRoot[root] = append(evidenceByRoot[root], PairEvidence{
			AlertA:  key.a,
			AlertB:  key.b,
			Score:   round3(ev.score),
			Reasons: reasons,
		})
	}

	var threads []Thread
	for _, root := range roots {
		members := clusters[root]
		if len(members) < minClusterSize {
			continue
		}
		if thread, ok := buildThread(members, views, poiHitsByAlert, entitiesByAlert, evidenceByRoot[root]); ok {
			threads = append(threads, thread)
		}
	}
	return threads
}

func buildThread(
	members []int64,
	views map[int64]*alertView,
	poiHitsByAlert map[int64][]database.POIHit,
	entitiesByAlert map[int64][]database.EntityLink,
	evidence []PairEvidence,
) (Thread, bool) {
	sources := make(map[string]struct{})
	sourceTypes := make(map[string]struct{})
	matchedTerms := make(map[string]struct{})
	actorHandles := make(map[string]struct{})
	sharedEntities := make(map[string]struct{})
	poiNameByID := make(map[int64]string)
	var maxORS, maxTAS float64

	timeline := make([]TimelineEntry, 0, len(members))
	memberViews := make([]*alertView, 0, len(members))
	for _, id := range members {
		memberViews = append(memberViews, views[id])
	}
	sort.Slice(memberViews, func(i, j int) bool {
		vi, vj := memberViews[i], memberViews[j]
		if vi.hasTS != vj.hasTS {
			return vi.hasTS // timestamped alerts first, unparseable last
		}
		if vi.hasTS && !vi.ts.Equal(vj.ts) {
			return vi.ts.Before(vj.ts)
		}
		return vi.ID < vj.ID
	})

	for _, v := range memberViews {
		ts := ""
		if v.PublishedAt != nil {
			ts = *v.PublishedAt
		}
		timeline = append(timeline, TimelineEntry{
			AlertID:     v.ID,
			Timestamp:   ts,
			SourceName:  v.SourceName,
			SourceType:  v.SourceType,
			Title:       v.Title,
			URL:         v.URL,
			MatchedTerm: v.MatchedTerm,
			Severity:    v.Severity,
			ORSScore:    round3(v.ORSScore),
			TASScore:    round3(v.TASScore),
		})

		sources[orUnknown(v.SourceName)] = struct{}{}
		if v.SourceType != "" {
			sourceTypes[v.SourceType] = struct{}{}
		}
		if v.MatchedTerm != "" {
			matchedTerms[v.MatchedTerm] = struct{}{}
		}
		maxORS = math.Max(maxORS, v.ORSScore)
		maxTAS = math.Max(maxTAS, v.TASScore)

		for _, hit := range poiHitsByAlert[v.ID] {
			poiNameByID[hit.POIID] = hit.POIName
		}
		for _, e := range entitiesByAlert[v.ID] {
			value := strings.TrimSpace(e.EntityValue)
			if value == "" {
				continue
			}
			if e.EntityType == "actor_handle" {
				actorHandles[value] = struct{}{}
			} else {
				sharedEntities[e.EntityType+":"+value] = struct{}{}
			}
		}
	}

	// Source-diversity gate: single-source term repetition with no identity
	// signal (no actor handle, no POI) is suppressed to control false
	// positives.
	if len(sources) < 2 && len(actorHandles) == 0 && len(poiNameByID) == 0 {
		return Thread{}, false
	}

	sort.Slice(evidence, func(i, j int) bool {
		if evidence[i].Score != evidence[j].Score {
			return evidence[i].Score > evidence[j].Score
		}
		if evidence[i].AlertA != evidence[j].AlertA {
			return evidence[i].AlertA < evidence[j].AlertA
		}
		return evidence[i].AlertB < evidence[j].AlertB
	})

	confidence := 0.0
	reasonCodes := make(map[string]struct{})
	if len(evidence) > 0 {
		maxScore, sum := 0.0, 0.0
		for _, ev := range evidence {
			maxScore = math.Max(maxScore, ev.Score)
			sum += ev.Score
			for _, r := range ev.Reasons {
				reasonCodes[r] = struct{}{}
			}
		}
		mean := sum / float64(len(evidence))
		confidence = minFloat(1.0, 0.6*maxScore+0.4*mean)
	}
	if len(evidence) > maxPairEvidencePerThread {
		evidence = evidence[:maxPairEvidencePerThread]
	}

	poiIDs := make([]int64, 0, len(poiNameByID))
	for id := range poiNameByID {
		poiIDs = append(poiIDs, id)
	}
	sort.Slice(poiIDs, func(i, j int) bool { return poiIDs[i] < poiIDs[j] })
	poiNames := make([]string, 0, len(poiIDs))
	for _, id := range poiIDs {
		if name := poiNameByID[id]; name != "" {
			poiNames = append(poiNames, name)
		}
	}

	handles := sortedKeys(actorHandles)
	terms := sortedKeys(matchedTerms)
	sharedList := sortedKeys(sharedEntities)
	if len(sharedList) > 20 {
		sharedList = sharedList[:20]
	}
	reasonList := sortedKeys(reasonCodes)

	label := "SOI Thread"
	_, actorReason := reasonCodes[ReasonSharedActorHandle]
	switch {
	case actorReason && len(handles) > 0:
		label = "Actor " + handles[0]
	case len(poiNames) > 0:
		label = "POI " + poiNames[0]
	case len(terms) > 0:
		label = "Term " + terms[0]
	}

	firstID := memberViews[0].ID
	for _, v := range memberViews {
		if v.ID < firstID {
			firstID = v.ID
		}
	}

	return Thread{
		ThreadID:       fmt.Sprintf("soi-%d-%d", firstID, len(memberViews)),
		Label:          label,
		AlertsCount:    len(memberViews),
		SourcesCount:   len(sources),
		Sources:        sortedKeys(sources),
		SourceTypes:    sortedKeys(sourceTypes),
		StartTS:        timeline[0].Timestamp,
		EndTS:          timeline[len(timeline)-1].Timestamp,
		MaxORSScore:    round3(maxORS),
		MaxTASScore:    round3(maxTAS),
		POIIDs:         poiIDs,
		POINames:       poiNames,
		ActorHandles:   handles,
		SharedEntities: sharedList,
		MatchedTerms:   terms,
		ReasonCodes:    reasonList,
		Confidence:     round3(confidence),
		PairEvidence:   evidence,
		Timeline:       timeline,
	}, true
}

// rankThreads orders threads by confidence, then risk signals, then recency,
// with the thread ID as a deterministic final tie-break.
func rankThreads(threads []Thread) {
	sort.Slice(threads, func(i, j int) bool {
		ti, tj := threads[i], threads[j]
		if ti.Confidence != tj.Confidence {
			return ti.Confidence > tj.Confidence
		}
		if ti.MaxORSScore != tj.MaxORSScore {
			return ti.MaxORSScore > tj.MaxORSScore
		}
		if ti.MaxTASScore != tj.MaxTASScore {
			return ti.MaxTASScore > tj.MaxTASScore
		}
		li, okI := database.ParseTimestamp(ti.EndTS)
		lj, okJ := database.ParseTimestamp(tj.EndTS)
		if okI && okJ && !li.Equal(lj) {
			return li.After(lj)
		}
		if okI != okJ {
			return okI
		}
		return ti.ThreadID < tj.ThreadID
	})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
