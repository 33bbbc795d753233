package models

// MaxRelatedAlerts bounds the per-situation related-alert sample.
const MaxRelatedAlerts = 200

// MaxNextActions bounds the per-situation next-actions list.
const MaxNextActions = 5

// Window is an inclusive [Start, End] time span in epoch milliseconds.
type Window struct {
	StartMs int64
	EndMs   int64
}

// BlastRadius measures the breadth of a situation.
type BlastRadius struct {
	Entities int
	Services int
}

// PrimaryCause names the episode the Scorer judged most likely to be the
// root cause of a situation, with its lead-lag estimate.
type PrimaryCause struct {
	EntityKey   string
	EpisodeIdx  int
	Confidence  float64
	LagMs       int64
}

// Situation is a group of time-overlapping episodes believed to be part of
// the same incident.
type Situation struct {
	ID string

	Window Window

	Episodes []*Episode

	RelatedAlerts []Alert

	BlastRadius BlastRadius

	Score        float64
	PrimaryCause PrimaryCause
	NextActions  []string

	// FirstSeenMs and LastSeenMs support the publication lifecycle rules
	// (max situation lifetime, quiet threshold).
	FirstSeenMs int64
	LastSeenMs  int64
}
