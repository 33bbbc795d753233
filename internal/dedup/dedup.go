// Package dedup implements the correlation pipeline's second stage:
// fingerprint/entity-keyed deduplication, flap detection and per-entity rate
// limiting.
package dedup

import (
	"sort"

	"github.com/platformbuilds/alertcorr/internal/models"
)

// entry tracks one dedup key's recent history.
type entry struct {
	lastSeenMs int64
	count      int64
	flapCount  int
	lastStatus models.Status
}

// Deduplicator suppresses repeat alerts sharing a fingerprint/entity-key
// within a TTL window, counts status flaps, and rate-limits bursts per
// entity.
type Deduplicator struct {
	dedupTTLMs        int64
	flapDropThreshold int
	maxAgeMs          int64

	entries map[string]*entry // dedupKey -> entry

	rateWindowMs int64
	perEntity    map[string][]int64 // entityKey -> ascending timestamps in the last 60s
}

// New constructs a Deduplicator. dedupTTLMs is the suppression window,
// flapDropThreshold is the flap count above which a dedup key's alerts are
// dropped outright, and maxAgeMs bounds how long idle keys are retained
// before GC.
func New(dedupTTLMs int64, flapDropThreshold int, maxAgeMs int64) *Deduplicator {
	return &Deduplicator{
		dedupTTLMs:        dedupTTLMs,
		flapDropThreshold: flapDropThreshold,
		maxAgeMs:          maxAgeMs,
		entries:           make(map[string]*entry),
		rateWindowMs:      60_000,
		perEntity:         make(map[string][]int64),
	}
}

// Result reports what happened to a single alert passed through Process.
type Result struct {
	Alert       models.Alert
	Suppressed  bool // within dedup TTL of the last occurrence
	FlapDropped bool
	RateLimited bool
}

// Process runs one alert through flap, dedup and rate-limit checks, in that
// order of precedence, and returns the decision. now is the pipeline tick time, never
// time.Now(), so stage order is deterministic and testable.
func (d *Deduplicator) Process(now int64, a models.Alert, maxAlertsPerMinute int) Result {
	key := a.DedupKey()
	e, ok := d.entries[key]
	if !ok {
		e = &entry{lastStatus: a.Status}
		d.entries[key] = e
	}

	suppressed := ok && now-e.lastSeenMs < d.dedupTTLMs

	if ok && a.Status != e.lastStatus {
		e.flapCount++
	}
	e.lastStatus = a.Status
	e.lastSeenMs = now
	e.count++

	if d.flapDropThreshold > 0 && e.flapCount > d.flapDropThreshold {
		return Result{Alert: a, FlapDropped: true}
	}

	if suppressed {
		return Result{Alert: a, Suppressed: true}
	}

	entityKey := a.EntityKey()
	seq := append(d.perEntity[entityKey], now)
	cutoff := now - d.rateWindowMs
	seq = pruneBefore(seq, cutoff)
	if len(seq) > maxAlertsPerMinute {
		seq = seq[len(seq)-maxAlertsPerMinute:]
		d.perEntity[entityKey] = seq
		return Result{Alert: a, RateLimited: true}
	}
	d.perEntity[entityKey] = seq

	return Result{Alert: a}
}

// Cleanup discards dedup entries untouched since before maxAgeMs and
// rate-limit timestamps older than the 60 s rate window, called once per tick.
func (d *Deduplicator) Cleanup(now int64) {
	cutoff := now - d.maxAgeMs
	for key, e := range d.entries {
		if e.lastSeenMs < cutoff {
			delete(d.entries, key)
		}
	}
	for key, seq := range d.perEntity {
		pruned := pruneBefore(seq, now-d.rateWindowMs)
		if len(pruned) == 0 {
			delete(d.perEntity, key)
		} else {
			d.perEntity[key] = pruned
		}
	}
}

func pruneBefore(seq []int64, cutoff int64) []int64 {
	idx := sort.Search(len(seq), func(i int) bool { return seq[i] >= cutoff })
	if idx == 0 {
		return seq
	}
	return append(seq[:0:0], seq[idx:]...)
}
