// Package history records published situations for offline pattern mining.
// It is strictly non-authoritative: nothing it computes feeds back into the
// same tick's scoring, only into future rule-pack/threshold tuning.
package history

import (
	"sort"
	"sync"

	"github.com/platformbuilds/alertcorr/internal/models"
)

// Recorder keeps a capped ring buffer of recently published situations.
type Recorder struct {
	mu   sync.Mutex
	buf  []*models.Situation
	cap  int
	next int
}

// NewRecorder constructs a Recorder retaining at most capacity situations.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 500
	}
	return &Recorder{cap: capacity}
}

// Record appends situations to the ring buffer, evicting the oldest entries
// once capacity is exceeded.
func (r *Recorder) Record(situations []*models.Situation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range situations {
		if len(r.buf) < r.cap {
			r.buf = append(r.buf, s)
			continue
		}
		r.buf[r.next] = s
		r.next = (r.next + 1) % r.cap
	}
}

// Snapshot returns a copy of the currently retained situations.
func (r *Recorder) Snapshot() []*models.Situation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Situation, len(r.buf))
	copy(out, r.buf)
	return out
}

// FailureSignature aggregates how often an entity-key/fingerprint pair has
// contributed to a published situation.
type FailureSignature struct {
	EntityKey   string
	Fingerprint string
	Count       int
	LastSeenMs  int64
}

// Miner derives FailureSignatures from a Recorder's retained situations and
// optionally persists them via Store.
type Miner struct {
	store Store
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(store Store) *Miner {
	return &Miner{store: store}
}

// Mine aggregates the recorder's retained situations into recurring
// failure signatures, most frequent first.
func (m *Miner) Mine(r *Recorder) []FailureSignature {
	agg := make(map[string]*FailureSignature)
	for _, s := range r.Snapshot() {
		for _, ep := range s.Episodes {
			key := ep.EntityKey + "|" + ep.Fingerprint
			sig, ok := agg[key]
			if !ok {
				sig = &FailureSignature{EntityKey: ep.EntityKey, Fingerprint: ep.Fingerprint}
				agg[key] = sig
			}
			sig.Count++
			if ep.EndMs > sig.LastSeenMs {
				sig.LastSeenMs = ep.EndMs
			}
		}
	}

	out := make([]FailureSignature, 0, len(agg))
	for _, sig := range agg {
		out = append(out, *sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Flush mines r and persists the result through Store, if one is configured.
func (m *Miner) Flush(r *Recorder) error {
	if m.store == nil {
		return nil
	}
	sigs := m.Mine(r)
	if len(sigs) == 0 {
		return nil
	}
	return m.store.StoreSignatures(sigs)
}
