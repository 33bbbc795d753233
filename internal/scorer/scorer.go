// Package scorer implements the correlation pipeline's final stage: it
// ranks each situation's likely primary cause via lead-lag cross-correlation
// and graph proximity, then combines several weighted terms into a single
// composite score plus a capped next-actions list.
package scorer

import (
	"math"
	"sort"
	"strings"

	"github.com/platformbuilds/alertcorr/internal/models"
)

// Weights holds the composite score's term coefficients. The five positive
// terms' default weights sum to 1.05; the two penalty weights are subtracted
// separately.
type Weights struct {
	ChangeProximity float64
	LeadLag         float64
	GraphPath       float64
	Cardinality     float64
	Severity        float64
	FlapPenalty     float64
	EchoPenalty     float64
}

// DefaultWeights mirrors the fixed composite-score formula.
var DefaultWeights = Weights{
	ChangeProximity: 0.35,
	LeadLag:         0.20,
	GraphPath:       0.20,
	Cardinality:     0.15,
	Severity:        0.15,
	FlapPenalty:     0.10,
	EchoPenalty:     0.05,
}

// changeProximityWindowMs is how recent a deploy must be, relative to a
// situation's window start, to count as a contributing change.
const changeProximityWindowMs = 10 * 60 * 1000

// graphMaxDepth bounds the BFS used for the graph-proximity term.
const graphMaxDepth = 4

// binMs is the bin width used when computing the lead-lag cross-correlation.
const binMs = 1000

// NextActionRule is one row of the fixed next-actions table, evaluated in
// order; the first MaxNextActions matching rules contribute their action.
type NextActionRule struct {
	Name   string
	Action string
	When   func(s *models.Situation, primary *models.Episode) bool
}

// DefaultNextActionRules is the Scorer's fixed, ordered rule table. Entity-key
// substring matching is a provisional heuristic, kept for behavioural parity
// rather than replaced with something more principled.
var DefaultNextActionRules = []NextActionRule{
	{
		Name:   "entity-fanout",
		Action: "Page oncall team - multiple services affected",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return s.BlastRadius.Entities > 5
		},
	},
	{
		Name:   "service-fanout",
		Action: "Check shared infrastructure components",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return s.BlastRadius.Services > 3
		},
	},
	{
		Name:   "database-pool",
		Action: "Check database connection pool and performance",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return primary != nil && strings.Contains(primary.EntityKey, "database")
		},
	},
	{
		Name:   "database-limits",
		Action: "Verify database resource limits",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return primary != nil && strings.Contains(primary.EntityKey, "database")
		},
	},
	{
		Name:   "api-quota",
		Action: "Check API rate limiting and quotas",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return primary != nil && strings.Contains(primary.EntityKey, "api")
		},
	},
	{
		Name:   "api-upstream",
		Action: "Verify upstream service health",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return primary != nil && strings.Contains(primary.EntityKey, "api")
		},
	},
	{
		Name:   "cache-hit-rate",
		Action: "Check cache hit rates and memory usage",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return primary != nil && strings.Contains(primary.EntityKey, "cache")
		},
	},
	{
		Name:   "cache-cluster",
		Action: "Verify cache cluster health",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return primary != nil && strings.Contains(primary.EntityKey, "cache")
		},
	},
	{
		Name:   "escalation",
		Action: "Immediate escalation required",
		When: func(s *models.Situation, primary *models.Episode) bool {
			return severityScore(s.Episodes) >= 0.75
		},
	},
}

// Score computes the composite score and primary-cause selection for a
// single situation. hints is the current graph topology.
func Score(s *models.Situation, hints models.GraphHints, maxLeadMs int64, w Weights) {
	if len(s.Episodes) == 0 {
		return
	}

	primaryIdx, lagMs, leadLagScore := pickPrimaryCause(s.Episodes, maxLeadMs)
	primary := s.Episodes[primaryIdx]

	pathScore := graphPathScore(s.Episodes, primary, hints)
	cardinality := math.Log(1 + float64(s.BlastRadius.Entities))
	severity := severityScore(s.Episodes)
	changeProximity := changeProximityScore(s)
	echo := echoPenalty(s.Episodes)
	const flapPenalty = 0 // flap rate is not computed per-episode; wired at zero, see design notes.

	score := w.ChangeProximity*changeProximity +
		w.LeadLag*leadLagScore +
		w.GraphPath*pathScore +
		w.Cardinality*cardinality +
		w.Severity*severity -
		w.FlapPenalty*flapPenalty -
		w.EchoPenalty*echo

	s.Score = clamp(score, 0, 1)
	s.PrimaryCause = models.PrimaryCause{
		EntityKey:  primary.EntityKey,
		EpisodeIdx: primaryIdx,
		Confidence: s.Score,
		LagMs:      lagMs,
	}
	s.NextActions = nextActions(s, primary)
}

// pickPrimaryCause orders episodes by start time: the earliest is the
// candidate cause c, the remainder are effects. It bins c's alerts and each
// effect's alerts into 1-second histograms, finds the non-negative lag that
// maximises cosine similarity between c and each effect, and returns c's
// index plus the largest such similarity (and its lag) across all effects.
func pickPrimaryCause(episodes []*models.Episode, maxLeadMs int64) (int, int64, float64) {
	if len(episodes) == 1 {
		return 0, 0, 0
	}

	causeIdx := 0
	for i, e := range episodes {
		if e.StartMs < episodes[causeIdx].StartMs {
			causeIdx = i
		}
	}

	minStart := episodes[0].StartMs
	maxEnd := episodes[0].EndMs
	for _, e := range episodes {
		if e.StartMs < minStart {
			minStart = e.StartMs
		}
		if e.EndMs > maxEnd {
			maxEnd = e.EndMs
		}
	}
	nBins := int((maxEnd-minStart)/binMs) + 1
	causeSeries := binSeries(episodes[causeIdx], minStart, nBins)

	maxLagBins := int(maxLeadMs / binMs)

	bestScore := 0.0
	bestLagMs := int64(0)
	for i, e := range episodes {
		if i == causeIdx {
			continue
		}
		effectSeries := binSeries(e, minStart, nBins)
		lag, sim := bestLag(causeSeries, effectSeries, maxLagBins)
		if sim > bestScore {
			bestScore = sim
			bestLagMs = lag * binMs
		}
	}
	return causeIdx, bestLagMs, bestScore
}

func binSeries(e *models.Episode, minStart int64, nBins int) []float64 {
	out := make([]float64, nBins)
	for _, ts := range alertTimestamps(e) {
		bin := int((ts - minStart) / binMs)
		if bin >= 0 && bin < nBins {
			out[bin]++
		}
	}
	if len(out) == 0 {
		for b := 0; b < nBins; b++ {
			if b >= int((e.StartMs-minStart)/binMs) && b <= int((e.EndMs-minStart)/binMs) {
				out[b] = 1
			}
		}
	}
	return out
}

func alertTimestamps(e *models.Episode) []int64 {
	ts := make([]int64, 0, len(e.Alerts))
	for _, a := range e.Alerts {
		ts = append(ts, a.TimestampMs)
	}
	return ts
}

// bestLag finds the non-negative lag ℓ (in bins, a leads b by ℓ) maximising
// the cosine similarity between a and b shifted earlier by ℓ.
func bestLag(a, b []float64, maxLagBins int) (int64, float64) {
	best := 0.0
	bestLag := int64(0)
	for lag := 0; lag <= maxLagBins && lag < len(b); lag++ {
		sim := cosineSimilarity(a, shift(b, lag))
		if sim > best {
			best = sim
			bestLag = int64(lag)
		}
	}
	return bestLag, best
}

// shift moves series earlier by lag bins: out[i] = series[i+lag], aligning a
// later effect onto an earlier cause. Positions beyond the series are 0.
func shift(series []float64, lag int) []float64 {
	out := make([]float64, len(series))
	for i := 0; i+lag < len(series); i++ {
		out[i] = series[i+lag]
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	n := minInt(len(a), len(b))
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// graphPathScore finds the shortest undirected path, bounded at depth 4,
// from the primary cause's entity to each effect's entity and scores the
// minimum such distance d* as 1/(1+d*). Effects with no reachable path
// within the bound don't lower the score.
func graphPathScore(episodes []*models.Episode, primary *models.Episode, hints models.GraphHints) float64 {
	if hints.Empty() || len(episodes) <= 1 {
		return 0
	}

	depths := bfsDepths(hints, primary.EntityKey, graphMaxDepth)

	best := -1
	for _, e := range episodes {
		if e == primary {
			continue
		}
		if d, ok := depths[e.EntityKey]; ok && (best == -1 || d < best) {
			best = d
		}
	}
	if best == -1 {
		return 0
	}
	return 1.0 / float64(1+best)
}

func bfsDepths(hints models.GraphHints, start string, maxDepth int) map[string]int {
	undirected := make(map[string][]string, len(hints.Adjacency))
	for from, tos := range hints.Adjacency {
		for _, to := range tos {
			undirected[from] = append(undirected[from], to)
			undirected[to] = append(undirected[to], from)
		}
	}

	depths := map[string]int{start: 0}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := depths[cur]
		if d >= maxDepth {
			continue
		}
		for _, nb := range undirected[cur] {
			if _, seen := depths[nb]; seen {
				continue
			}
			depths[nb] = d + 1
			queue = append(queue, nb)
		}
	}
	return depths
}

func severityScore(episodes []*models.Episode) float64 {
	max := 0
	for _, e := range episodes {
		if w := models.SeverityWeight(e.Severity); w > max {
			max = w
		}
	}
	return float64(max) / float64(models.SeverityWeight(models.SeverityCritical))
}

// changeProximityScore is 1.0 if any related alert carries a deploy key
// within changeProximityWindowMs of the situation's window start, else the
// flat baseline 0.2.
func changeProximityScore(s *models.Situation) float64 {
	for _, a := range s.RelatedAlerts {
		if a.DeployKey == "" {
			continue
		}
		delta := s.Window.StartMs - a.TimestampMs
		if delta < 0 {
			delta = -delta
		}
		if delta <= changeProximityWindowMs {
			return 1.0
		}
	}
	return 0.2
}

// echoPenalty is the raw source-mix overcount across episodes: the sum of
// each episode's distinct source count minus the number of episodes, floored
// at 0. A situation whose episodes all carry exactly one source contributes
// nothing; episodes with a wider source mix push the penalty up.
func echoPenalty(episodes []*models.Episode) float64 {
	sum := 0
	for _, e := range episodes {
		sum += len(e.SourceMix)
	}
	raw := float64(sum - len(episodes))
	if raw < 0 {
		return 0
	}
	return raw
}

func nextActions(s *models.Situation, primary *models.Episode) []string {
	actions := make([]string, 0, models.MaxNextActions)
	for _, rule := range DefaultNextActionRules {
		if len(actions) >= models.MaxNextActions {
			break
		}
		if rule.When(s, primary) {
			actions = append(actions, rule.Action)
		}
	}
	return actions
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SortByScore sorts situations descending by composite score, for callers
// that want a ranked publication order.
func SortByScore(situations []*models.Situation) {
	sort.Slice(situations, func(i, j int) bool { return situations[i].Score > situations[j].Score })
}
