package history

import (
	"testing"

	"github.com/platformbuilds/alertcorr/internal/models"
)

func situationWithEpisode(entityKey, fingerprint string, endMs int64) *models.Situation {
	ep := models.NewEpisode(models.Alert{
		TimestampMs: endMs,
		Service:     entityKey,
		Fingerprint: fingerprint,
	})
	ep.EndMs = endMs
	return &models.Situation{Episodes: []*models.Episode{ep}}
}

func TestRecorderCapsAtCapacity(t *testing.T) {
	r := NewRecorder(2)
	r.Record([]*models.Situation{
		situationWithEpisode("a", "fp-a", 1),
		situationWithEpisode("b", "fp-b", 2),
		situationWithEpisode("c", "fp-c", 3),
	})

	if got := len(r.Snapshot()); got != 2 {
		t.Fatalf("expected capped snapshot of 2, got %d", got)
	}
}

func TestMinerAggregatesRecurringSignatures(t *testing.T) {
	r := NewRecorder(10)
	r.Record([]*models.Situation{
		situationWithEpisode("checkout", "fp-db-timeout", 1000),
		situationWithEpisode("checkout", "fp-db-timeout", 2000),
		situationWithEpisode("inventory", "fp-other", 3000),
	})

	m := NewMiner(nil)
	sigs := m.Mine(r)
	if len(sigs) != 2 {
		t.Fatalf("expected 2 distinct signatures, got %d", len(sigs))
	}
	if sigs[0].Count != 2 || sigs[0].EntityKey != "checkout" {
		t.Fatalf("expected checkout/fp-db-timeout to be the most frequent signature, got %+v", sigs[0])
	}
}

func TestFlushIsNoopWithoutStore(t *testing.T) {
	r := NewRecorder(10)
	r.Record([]*models.Situation{situationWithEpisode("a", "fp-a", 1)})

	m := NewMiner(nil)
	if err := m.Flush(r); err != nil {
		t.Fatalf("expected nil error with no store configured, got %v", err)
	}
}

func TestFlushUsesConfiguredStore(t *testing.T) {
	r := NewRecorder(10)
	r.Record([]*models.Situation{situationWithEpisode("a", "fp-a", 1)})

	var captured []FailureSignature
	m := NewMiner(storeFunc(func(sigs []FailureSignature) error {
		captured = sigs
		return nil
	}))

	if err := m.Flush(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(captured) != 1 {
		t.Fatalf("expected store to receive 1 signature, got %d", len(captured))
	}
}

type storeFunc func([]FailureSignature) error

func (f storeFunc) StoreSignatures(sigs []FailureSignature) error { return f(sigs) }
