package models

// Episode is a contiguous burst of alerts sharing a fingerprint and entity,
// separated from other bursts by a gap greater than the configured episode
// gap G.
type Episode struct {
	Key         string // entity-key|fingerprint
	EntityKey   string
	Fingerprint string

	SourceMix map[string]struct{}

	StartMs int64
	EndMs   int64
	Count   int

	Severity Severity

	AlertIDs []string // ids of every alert folded into this episode
	Alerts   []Alert  // retained alerts, capped at MaxRetainedAlerts

	Closed bool // true once a gap-break has opened a successor episode
}

// MaxRetainedAlerts bounds the per-episode retained alert list.
const MaxRetainedAlerts = 50

// NewEpisode starts a fresh episode from the given alert.
func NewEpisode(a Alert) *Episode {
	e := &Episode{
		Key:         a.EpisodeKey(),
		EntityKey:   a.EntityKey(),
		Fingerprint: a.Fingerprint,
		SourceMix:   map[string]struct{}{a.Source: {}},
		StartMs:     a.TimestampMs,
		EndMs:       a.TimestampMs,
		Count:       1,
		Severity:    a.Severity,
		AlertIDs:    []string{a.ID},
		Alerts:      []Alert{a},
	}
	return e
}

// Extend folds another alert into the episode, widening its time span and
// upgrading its severity and source mix.
func (e *Episode) Extend(a Alert) {
	e.EndMs = a.TimestampMs
	e.Count++
	e.SourceMix[a.Source] = struct{}{}
	if SeverityWeight(a.Severity) > SeverityWeight(e.Severity) {
		e.Severity = a.Severity
	}
	e.AlertIDs = append(e.AlertIDs, a.ID)
	if len(e.Alerts) < MaxRetainedAlerts {
		e.Alerts = append(e.Alerts, a)
	}
}

// SourceMixSet returns the distinct source tags as a set, for Jaccard
// comparisons in the Situation Builder's joinability predicate.
func (e *Episode) SourceMixSet() map[string]struct{} {
	return e.SourceMix
}

// Overlaps reports whether e and other's time spans intersect.
func (e *Episode) Overlaps(other *Episode) bool {
	return !(e.EndMs < other.StartMs || other.EndMs < e.StartMs)
}
