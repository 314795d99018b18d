// Package correlate groups alerts that plausibly describe the same
// subject-of-interest or campaign into weighted, explainable threads.
//
// The engine accumulates pairwise evidence across five grouping dimensions
// (shared POI, shared actor handle, shared entity/IOC, shared matched term,
// shared source fingerprint), unions alerts whose accumulated score crosses a
// link threshold, and renders each surviving cluster as a time-ordered thread
// with reason codes and a confidence score. One run owns all of its derived
// state; nothing persists between calls.
package correlate

import (
	"sort"
	"time"

	"osintwatch/internal/database"
	"osintwatch/internal/metrics"
)

// Reason codes attached to pair evidence.
const (
	ReasonSharedPOI         = "shared_poi"
	ReasonSharedActorHandle = "shared_actor_handle"
	ReasonSharedEntity      = "shared_entity"
	ReasonMatchedTerm       = "matched_term_temporal"
	ReasonSourceFingerprint = "shared_source_fingerprint"
	ReasonCrossSource       = "cross_source"
	ReasonTightTemporal     = "tight_temporal"
	ReasonLinguisticHigh    = "linguistic_overlap_high"
	ReasonLinguisticMedium  = "linguistic_overlap_medium"
)

// Per-dimension base weights. These feed thread confidence and must stay
// stable for evaluation parity.
const (
	weightSharedPOI         = 0.50
	weightSharedActorHandle = 0.55
	weightSharedEntity      = 0.45
	weightMatchedTerm       = 0.20
	weightSourceFingerprint = 0.15

	bonusCrossSource   = 0.10
	bonusTightTemporal = 0.10
	bonusLinguisticHi  = 0.10
	bonusLinguisticMed = 0.05

	tightTemporalHours       = 12
	matchedTermWindowHours   = 24
	fingerprintWindowHours   = 12
	jaccardHighThreshold     = 0.25
	jaccardMediumThreshold   = 0.15
	defaultMinLinkScore      = 0.35
	defaultMaxPairChecks     = 25000
	maxPairEvidencePerThread = 20
)

// SharedEntityTypes is the entity-type allow-list for the shared-entity
// dimension: classic network IOCs plus the cross-domain identifiers emitted
// by the insider and supply-chain collectors.
var SharedEntityTypes = []string{
	"actor_handle", "domain", "ipv4", "url",
	"user_id", "vendor_id", "device_id",
}

// Options are the tunable parameters of one correlation run. Zero values are
// replaced by defaults and everything is clamped to sane bounds.
type Options struct {
	Days           int
	WindowHours    int
	MinClusterSize int
	Limit          int
	IncludeDemo    bool
	MinLinkScore   float64
	MaxPairChecks  int
}

func (o Options) withDefaults() Options {
	if o.Days == 0 {
		o.Days = 14
	}
	if o.WindowHours == 0 {
		o.WindowHours = 72
	}
	if o.MinClusterSize == 0 {
		o.MinClusterSize = 2
	}
	if o.Limit == 0 {
		o.Limit = 50
	}
	if o.MinLinkScore == 0 {
		o.MinLinkScore = defaultMinLinkScore
	}
	if o.MaxPairChecks == 0 {
		o.MaxPairChecks = defaultMaxPairChecks
	}
	o.Days = clampInt(o.Days, 1, 90)
	o.WindowHours = clampInt(o.WindowHours, 1, 720)
	o.MinClusterSize = clampInt(o.MinClusterSize, 2, 20)
	o.Limit = clampInt(o.Limit, 1, 200)
	if o.MaxPairChecks < 1 {
		o.MaxPairChecks = 1
	}
	return o
}

// Engine correlates alerts read from the store into SOI threads.
type Engine struct {
	db *database.DB
}

// NewEngine creates a correlation engine over the given store.
func NewEngine(db *database.DB) *Engine {
	return &Engine{db: db}
}

// alertView is the per-run working copy of an alert: parsed event time,
// normalized token set, and source fingerprint.
type alertView struct {
	database.Alert
	ts          time.Time
	hasTS       bool
	tokens      map[string]struct{}
	fingerprint string
}

// pairKey is an unordered alert-ID pair, stored (min, max).
type pairKey struct {
	a, b int64
}

func makePairKey(left, right int64) pairKey {
	if left <= right {
		return pairKey{left, right}
	}
	return pairKey{right, left}
}

// pairEvidence accumulates a clamped score and reason codes for one pair.
type pairEvidence struct {
	score   float64
	reasons map[string]struct{}
}

// BuildThreads runs one full correlation pass: bulk reads, grouping, pairwise
// evidence accumulation, incremental clustering, summarization, and ranking.
func (e *Engine) BuildThreads(opts Options) ([]Thread, error) {
	opts = opts.withDefaults()
	started := time.Now()
	defer func() {
		metrics.CorrelationDuration.Observe(time.Since(started).Seconds())
	}()

	cutoff := database.UTCNow().AddDate(0, 0, -opts.Days)
	alerts, err := e.db.AlertsSince(cutoff, opts.IncludeDemo)
	if err != nil {
		return nil, err
	}
	if len(alerts) < opts.MinClusterSize {
		return nil, nil
	}

	views := make(map[int64]*alertView, len(alerts))
	ids := make([]int64, 0, len(alerts))
	for i := range alerts {
		a := alerts[i]
		v := &alertView{
			Alert:       a,
			tokens:      NormalizeTokens(a.Title + " " + a.MatchedTerm),
			fingerprint: SourceFingerprint(a.SourceType, a.URL),
		}
		if a.PublishedAt != nil {
			v.ts, v.hasTS = database.ParseTimestamp(*a.PublishedAt)
		}
		views[a.ID] = v
		ids = append(ids, a.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	poiHits, err := e.db.POIHitsForAlerts(ids)
	if err != nil {
		return nil, err
	}
	entities, err := e.db.EntitiesForAlerts(ids, SharedEntityTypes)
	if err != nil {
		return nil, err
	}

	uf := newUnionFind(ids)
	pairs := make(map[pairKey]*pairEvidence)
	acc := &accumulator{
		views:         views,
		uf:            uf,
		pairs:         pairs,
		minLinkScore:  opts.MinLinkScore,
		maxPairChecks: opts.MaxPairChecks,
	}

	// Pass order: POI, actor handle, generic entity, matched term, source
	// fingerprint. Accumulation is commutative, so order only affects which
	// reasons a pair sees first, never the final scores.
	acc.connectPairs(groupByPOI(poiHits, views), opts.WindowHours, ReasonSharedPOI, weightSharedPOI)
	acc.connectPairs(groupByActorHandle(entities, views), opts.WindowHours, ReasonSharedActorHandle, weightSharedActorHandle)
	acc.connectPairs(groupByEntity(entities, views), opts.WindowHours, ReasonSharedEntity, weightSharedEntity)
	acc.connectPairs(groupByMatchedTerm(views), matchedTermWindowHours, ReasonMatchedTerm, weightMatchedTerm)
	acc.connectPairs(groupByFingerprintTerm(views), fingerprintWindowHours, ReasonSourceFingerprint, weightSourceFingerprint)

	threads := summarize(ids, views, uf, pairs, poiHits, entities, opts.MinClusterSize)
	rankThreads(threads)
	if len(threads) > opts.Limit {
		threads = threads[:opts.Limit]
	}
	metrics.ThreadsBuilt.Add(float64(len(threads)))
	return threads, nil
}

// accumulator carries the shared state of the pairwise evidence passes.
type accumulator struct {
	views         map[int64]*alertView
	uf            *unionFind
	pairs         map[pairKey]*pairEvidence
	minLinkScore  float64
	maxPairChecks int
}

// connectPairs evaluates every time-eligible pair inside each grouping-key
// member set, folds the dimension's base weight plus secondary bonuses into
// the pair's accumulated score, and unions the pair as soon as the running
// score crosses the link threshold.
//
// The per-group pair-check ceiling trades recall inside pathologically large
// groups (a very common matched term, say) for bounded worst-case work. That
// truncation is a deliberate precision/latency tradeoff, not an error.
func (acc *accumulator) connectPairs(groups map[string][]int64, maxHours int, reason string, weight float64) {
	maxSeconds := float64(maxHours) * 3600.0
	totalChecks := 0

	for _, memberIDs := range groups {
		members := acc.sortedMembers(memberIDs)
		if len(members) < 2 {
			continue
		}

		pairChecks := 0
		for i := 0; i < len(members) && pairChecks <= acc.maxPairChecks; i++ {
			left := members[i]
			for j := i + 1; j < len(members); j++ {
				right := members[j]
				deltaSeconds := right.ts.Sub(left.ts).Seconds()
				if deltaSeconds > maxSeconds {
					// Members are time-sorted: every later j is also out of
					// range for this i.
					break
				}
				pairChecks++
				if pairChecks > acc.maxPairChecks {
					break
				}
				acc.scorePair(left, right, deltaSeconds, reason, weight)
			}
		}
		totalChecks += pairChecks
	}
	metrics.PairChecks.WithLabelValues(reason).Add(float64(totalChecks))
}

// sortedMembers resolves IDs to views, drops unknown IDs and alerts without a
// parseable event time (they cannot be time-ordered), dedupes, and sorts by
// (timestamp, id) ascending.
func (acc *accumulator) sortedMembers(memberIDs []int64) []*alertView {
	seen := make(map[int64]struct{}, len(memberIDs))
	members := make([]*alertView, 0, len(memberIDs))
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		v, ok := acc.views[id]
		if !ok || !v.hasTS {
			continue
		}
		members = append(members, v)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].ts.Equal(members[j].ts) {
			return members[i].ts.Before(members[j].ts)
		}
		return members[i].ID < members[j].ID
	})
	return members
}

// scorePair folds one dimension's contribution for one pair into the global
// evidence map, applying the secondary corroboration bonuses, and unions the
// pair once its cumulative score reaches the link threshold.
func (acc *accumulator) scorePair(left, right *alertView, deltaSeconds float64, reason string, weight float64) {
	scoreDelta := weight
	reasons := []string{reason}

	if left.SourceType != right.SourceType {
		scoreDelta += bonusCrossSource
		reasons = append(reasons, ReasonCrossSource)
	}
	if deltaSeconds <= tightTemporalHours*3600 {
		scoreDelta += bonusTightTemporal
		reasons = append(reasons, ReasonTightTemporal)
	}
	// Only one linguistic bonus applies per pair per pass.
	switch similarity := Jaccard(left.tokens, right.tokens); {
	case similarity >= jaccardHighThreshold:
		scoreDelta += bonusLinguisticHi
		reasons = append(reasons, ReasonLinguisticHigh)
	case similarity >= jaccardMediumThreshold:
		scoreDelta += bonusLinguisticMed
		reasons = append(reasons, ReasonLinguisticMedium)
	}

	key := makePairKey(left.ID, right.ID)
	ev, ok := acc.pairs[key]
	if !ok {
		ev = &pairEvidence{reasons: make(map[string]struct{})}
		acc.pairs[key] = ev
	}
	// Global clamp after every update: contributions accumulate across
	// dimension passes but the pair score never exceeds 1.
	ev.score = minFloat(1.0, ev.score+scoreDelta)
	for _, r := range reasons {
		ev.reasons[r] = struct{}{}
	}

	if ev.score >= acc.minLinkScore {
		acc.uf.union(left.ID, right.ID)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
