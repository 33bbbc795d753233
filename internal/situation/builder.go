// Package situation implements the correlation pipeline's fourth stage:
// grouping time-overlapping, source-mix-similar episodes into situations
// via a union-find over a dense-integer arena, then deriving each
// situation's window, related-alert sample and blast radius.
package situation

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/platformbuilds/alertcorr/internal/models"
)

// JaccardThreshold is the source-mix similarity that two overlapping episodes
// with different entity keys and fingerprints must exceed to be joinable.
const JaccardThreshold = 0.3

// unionFind is a disjoint-set over dense integer indices into an episode
// slice, used to group joinable episodes in near-linear time.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// Build groups episodes into situations and derives each situation's
// window, related-alert sample and blast radius. now is the tick time, used
// to stamp FirstSeenMs/LastSeenMs on newly formed situations.
func Build(now int64, episodes []*models.Episode, existing map[string]*models.Situation) []*models.Situation {
	n := len(episodes)
	if n == 0 {
		return nil
	}

	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if joinable(episodes[i], episodes[j]) {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	out := make([]*models.Situation, 0, len(groups))
	for _, members := range groups {
		out = append(out, buildSituation(now, members, episodes, existing))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Window.StartMs < out[j].Window.StartMs })
	return out
}

// joinable decides whether two episodes belong in the same situation: they
// must overlap in time, and either share an entity key/fingerprint or have
// a source mix whose Jaccard similarity exceeds JaccardThreshold.
func joinable(a, b *models.Episode) bool {
	if !a.Overlaps(b) {
		return false
	}
	if a.EntityKey == b.EntityKey || a.Fingerprint == b.Fingerprint {
		return true
	}
	return jaccard(a.SourceMixSet(), b.SourceMixSet()) > JaccardThreshold
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func buildSituation(now int64, members []int, episodes []*models.Episode, existing map[string]*models.Situation) *models.Situation {
	group := make([]*models.Episode, len(members))
	for i, idx := range members {
		group[i] = episodes[idx]
	}
	sort.Slice(group, func(i, j int) bool { return group[i].StartMs < group[j].StartMs })

	startMs, endMs := group[0].StartMs, group[0].EndMs
	entities := make(map[string]struct{})
	services := make(map[string]struct{})
	var related []models.Alert

	for _, e := range group {
		if e.StartMs < startMs {
			startMs = e.StartMs
		}
		if e.EndMs > endMs {
			endMs = e.EndMs
		}
		entities[e.EntityKey] = struct{}{}
		for _, a := range e.Alerts {
			if svc := serviceOf(a); svc != "" {
				services[svc] = struct{}{}
			}
		}
		related = appendCapped(related, e.Alerts, models.MaxRelatedAlerts)
	}

	id := deriveID(startMs, endMs, len(group))

	s := &models.Situation{
		ID:       id,
		Window:   models.Window{StartMs: startMs, EndMs: endMs},
		Episodes: group,
		RelatedAlerts: related,
		BlastRadius: models.BlastRadius{
			Entities: len(entities),
			Services: len(services),
		},
		FirstSeenMs: now,
		LastSeenMs:  now,
	}

	if prior, ok := existing[id]; ok {
		s.FirstSeenMs = prior.FirstSeenMs
	}

	return s
}

// serviceOf reads the service attribute off a retained alert for
// blast-radius service counting. Alerts without an explicit service value
// don't contribute to the distinct-services count.
func serviceOf(a models.Alert) string {
	return a.Service
}

func appendCapped(dst []models.Alert, src []models.Alert, cap int) []models.Alert {
	for _, a := range src {
		if len(dst) >= cap {
			break
		}
		dst = append(dst, a)
	}
	return dst
}

// deriveID computes a deterministic situation_id from the group's window and
// size, so the same group of episodes yields the same id across ticks.
func deriveID(startMs, endMs int64, size int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d", startMs, endMs, size)))
	return "sit-" + fmt.Sprintf("%x", h[:8])
}
