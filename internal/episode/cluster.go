// Package episode implements the correlation pipeline's third stage:
// grouping alerts that share an entity-key/fingerprint pair into contiguous
// episodes, closing an episode once a gap exceeds the configured threshold.
package episode

import (
	"sort"

	"github.com/platformbuilds/alertcorr/internal/models"
)

// Clusterer holds the live set of open episodes, keyed by entity-key |
// fingerprint, plus a secondary index for entity-scoped lookups (ForEntity).
type Clusterer struct {
	gapMs int64

	episodes       map[string]*models.Episode // episode key -> open episode
	entityEpisodes map[string][]string         // entity key -> keys of its episodes not yet evicted
}

// New constructs a Clusterer with the given gap-break threshold.
func New(gapMs int64) *Clusterer {
	return &Clusterer{
		gapMs:          gapMs,
		episodes:       make(map[string]*models.Episode),
		entityEpisodes: make(map[string][]string),
	}
}

// Ingest folds a is into the matching open episode, or starts a new one if
// none is open or the gap since the last alert exceeds gapMs. It returns the
// episode the alert landed in.
func (c *Clusterer) Ingest(a models.Alert) *models.Episode {
	key := a.EpisodeKey()

	if e, ok := c.episodes[key]; ok && !e.Closed {
		if a.TimestampMs-e.EndMs > c.gapMs {
			e.Closed = true
			next := models.NewEpisode(a)
			c.episodes[key] = next
			c.indexEntity(a.EntityKey(), key)
			return next
		}
		e.Extend(a)
		return e
	}

	e := models.NewEpisode(a)
	c.episodes[key] = e
	c.indexEntity(a.EntityKey(), key)
	return e
}

func (c *Clusterer) indexEntity(entityKey, episodeKey string) {
	for _, k := range c.entityEpisodes[entityKey] {
		if k == episodeKey {
			return
		}
	}
	c.entityEpisodes[entityKey] = append(c.entityEpisodes[entityKey], episodeKey)
}

// Evict drops episodes whose end has fallen outside the
// retention window (now - windowMs), called once per tick. Entity-index
// entries pointing at evicted keys are pruned too.
func (c *Clusterer) Evict(now, windowMs int64) {
	cutoff := now - windowMs
	for key, e := range c.episodes {
		if e.EndMs < cutoff {
			delete(c.episodes, key)
		}
	}
	for entity, keys := range c.entityEpisodes {
		kept := keys[:0:0]
		for _, k := range keys {
			if _, ok := c.episodes[k]; ok {
				kept = append(kept, k)
			}
		}
		if len(kept) == 0 {
			delete(c.entityEpisodes, entity)
		} else {
			c.entityEpisodes[entity] = kept
		}
	}
}

// Live returns every currently open episode, sorted ascending by start time
// so that downstream joinability checks see a deterministic order.
func (c *Clusterer) Live() []*models.Episode {
	out := make([]*models.Episode, 0, len(c.episodes))
	for _, e := range c.episodes {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMs != out[j].StartMs {
			return out[i].StartMs < out[j].StartMs
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ForEntity returns the episodes touched so far for entityKey.
func (c *Clusterer) ForEntity(entityKey string) []*models.Episode {
	keys := c.entityEpisodes[entityKey]
	out := make([]*models.Episode, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.episodes[k]; ok {
			out = append(out, e)
		}
	}
	return out
}
