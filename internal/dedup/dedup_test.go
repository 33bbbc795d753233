package dedup

import (
	"testing"

	"github.com/platformbuilds/alertcorr/internal/models"
)

func testAlert(ts int64, status models.Status) models.Alert {
	return models.Alert{
		TimestampMs: ts,
		Fingerprint: "fp-1",
		Service:     "checkout",
		Status:      status,
	}
}

func TestProcessSuppressesWithinTTL(t *testing.T) {
	d := New(120_000, 3, 600_000)

	r1 := d.Process(1000, testAlert(1000, models.StatusFiring), 100)
	if r1.Suppressed {
		t.Fatalf("first occurrence should not be suppressed")
	}

	r2 := d.Process(2000, testAlert(2000, models.StatusFiring), 100)
	if !r2.Suppressed {
		t.Fatalf("second occurrence within TTL should be suppressed")
	}
}

func TestProcessStrictLessThanComparisonAtExactTTLBoundary(t *testing.T) {
	d := New(10_000, 3, 600_000)

	d.Process(0, testAlert(0, models.StatusFiring), 100)
	// now - lastSeen == TTL exactly: not suppressed (strict <).
	r := d.Process(10_000, testAlert(10_000, models.StatusFiring), 100)
	if r.Suppressed {
		t.Fatalf("expected boundary tick (now - lastSeen == TTL) to not be suppressed")
	}
}

func TestProcessDropsOnExcessiveFlapping(t *testing.T) {
	d := New(0, 3, 600_000)

	statuses := []models.Status{
		models.StatusFiring, models.StatusResolved, models.StatusFiring,
		models.StatusResolved, models.StatusFiring,
	}
	var last Result
	for i, s := range statuses {
		last = d.Process(int64(i)*1000, testAlert(int64(i)*1000, s), 100)
	}
	if !last.FlapDropped {
		t.Fatalf("expected flap drop after exceeding threshold, got %+v", last)
	}
}

func TestProcessRateLimitsPerEntityBurst(t *testing.T) {
	d := New(0, 0, 600_000)

	var last Result
	for i := 0; i < 5; i++ {
		last = d.Process(int64(i)*100, testAlert(int64(i)*100, models.StatusFiring), 3)
	}
	if !last.RateLimited {
		t.Fatalf("expected rate limiting once maxAlertsPerMinute exceeded")
	}
}

func TestCleanupEvictsStaleEntries(t *testing.T) {
	d := New(1000, 3, 5000)
	d.Process(0, testAlert(0, models.StatusFiring), 100)

	d.Cleanup(10_000)
	if len(d.entries) != 0 {
		t.Fatalf("expected stale dedup entries to be evicted, got %d", len(d.entries))
	}
}
