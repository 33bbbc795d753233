package scorer

import (
	"testing"

	"github.com/platformbuilds/alertcorr/internal/models"
)

func episodeWithAlerts(entityKey, fingerprint string, timestamps ...int64) *models.Episode {
	e := models.NewEpisode(models.Alert{
		TimestampMs: timestamps[0],
		Fingerprint: fingerprint,
		Service:     entityKey,
		Severity:    models.SeverityMedium,
	})
	for _, ts := range timestamps[1:] {
		e.Extend(models.Alert{TimestampMs: ts, Fingerprint: fingerprint, Service: entityKey})
	}
	return e
}

func TestScorePicksLeadingEpisodeAsPrimaryCause(t *testing.T) {
	upstream := episodeWithAlerts("db", "fp-db", 0, 1000, 2000, 3000)
	downstream := episodeWithAlerts("checkout", "fp-checkout", 5000, 6000, 7000, 8000)

	s := &models.Situation{
		Window:   models.Window{StartMs: 0, EndMs: 8000},
		Episodes: []*models.Episode{upstream, downstream},
		BlastRadius: models.BlastRadius{Entities: 2, Services: 2},
	}

	Score(s, models.GraphHints{}, 10_000, DefaultWeights)

	if s.PrimaryCause.EntityKey != "db" {
		t.Fatalf("expected db to be identified as primary cause, got %s", s.PrimaryCause.EntityKey)
	}
	if s.PrimaryCause.LagMs != 5000 {
		t.Fatalf("expected lag of 5000ms, got %d", s.PrimaryCause.LagMs)
	}
	if s.PrimaryCause.Confidence != s.Score {
		t.Fatalf("expected confidence to equal the composite score, got confidence=%f score=%f", s.PrimaryCause.Confidence, s.Score)
	}
	if s.PrimaryCause.Confidence <= 0 {
		t.Fatalf("expected a positive confidence for a clean lead-lag relationship, got %f", s.PrimaryCause.Confidence)
	}
}

func TestScoreUsesGraphProximity(t *testing.T) {
	upstream := episodeWithAlerts("db", "fp-db", 0, 1000)
	downstream := episodeWithAlerts("checkout", "fp-checkout", 2000, 3000)

	s := &models.Situation{
		Window:      models.Window{StartMs: 0, EndMs: 3000},
		Episodes:    []*models.Episode{upstream, downstream},
		BlastRadius: models.BlastRadius{Entities: 2, Services: 2},
	}

	hints := models.GraphHints{Adjacency: map[string][]string{"db": {"checkout"}}}
	Score(s, hints, 10_000, DefaultWeights)

	if s.Score <= 0 {
		t.Fatalf("expected a positive composite score, got %f", s.Score)
	}
	if got := graphPathScore(s.Episodes, upstream, hints); got != 0.5 {
		t.Fatalf("expected path score 1/(1+1) for a direct neighbour, got %f", got)
	}
}

func TestScoreSingleEpisodeSituation(t *testing.T) {
	e := episodeWithAlerts("db", "fp-db", 0, 1000)
	s := &models.Situation{
		Window:      models.Window{StartMs: 0, EndMs: 1000},
		Episodes:    []*models.Episode{e},
		BlastRadius: models.BlastRadius{Entities: 1, Services: 1},
	}

	Score(s, models.GraphHints{}, 10_000, DefaultWeights)

	if s.PrimaryCause.EntityKey != "db" {
		t.Fatalf("expected single-episode situation to name itself primary cause")
	}
}

func TestNextActionsCappedAndOrdered(t *testing.T) {
	e := episodeWithAlerts("db", "fp-db", 0, 1000)
	e.Severity = models.SeverityCritical
	s := &models.Situation{
		Window:      models.Window{StartMs: 0, EndMs: 20 * 60 * 1000},
		Episodes:    []*models.Episode{e},
		BlastRadius: models.BlastRadius{Entities: 10, Services: 3},
	}

	Score(s, models.GraphHints{}, 10_000, DefaultWeights)

	if len(s.NextActions) > models.MaxNextActions {
		t.Fatalf("expected next actions capped at %d, got %d", models.MaxNextActions, len(s.NextActions))
	}
	if len(s.NextActions) == 0 {
		t.Fatalf("expected at least one next action for this high-severity, high-cardinality situation")
	}
	if s.NextActions[0] != "Page oncall team - multiple services affected" ||
		s.NextActions[len(s.NextActions)-1] != "Immediate escalation required" {
		t.Fatalf("expected next actions in rule-table order, got %v", s.NextActions)
	}
}

func TestChangeProximityScoreWithDeployKeyInWindow(t *testing.T) {
	s := &models.Situation{
		Window: models.Window{StartMs: 600_000, EndMs: 601_000},
		RelatedAlerts: []models.Alert{
			{TimestampMs: 600_000, DeployKey: "rel-42"},
		},
	}
	if score := changeProximityScore(s); score != 1.0 {
		t.Fatalf("expected change-proximity of 1.0 for a deploy within the window, got %f", score)
	}
}

func TestChangeProximityScoreFallsBackToBaseline(t *testing.T) {
	s := &models.Situation{
		Window: models.Window{StartMs: 2_000_000, EndMs: 2_001_000},
		RelatedAlerts: []models.Alert{
			{TimestampMs: 1_000_000, DeployKey: "rel-42"}, // outside the 10-minute window
			{TimestampMs: 2_000_500},                      // no deploy key
		},
	}
	if score := changeProximityScore(s); score != 0.2 {
		t.Fatalf("expected the 0.2 baseline with no in-window deploy, got %f", score)
	}
}
