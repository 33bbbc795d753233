package threshold

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	corev1 "k8s.io/api/core/v1"

	"github.com/platformbuilds/alertcorr/internal/models"
)

func testRule() Rule {
	return Rule{
		ID:         "pod-crashloop",
		Match:      []MatchCondition{{Selector: "reason", Op: OpEquals, Value: "BackOff"}},
		GroupBy:    []string{"involvedObject.name"},
		WindowMs:   60_000,
		Threshold:  3,
		CooldownMs: 30_000,
		Severity:   "high",
		Source:     "k8s-events",
	}
}

func TestEvaluateFiresOnThresholdCrossing(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, nil)
	ev := models.RawEvent{Reason: "BackOff", InvolvedName: "pod-a"}

	if alerts := e.Evaluate(1000, ev); len(alerts) != 0 {
		t.Fatalf("expected no alert on first match, got %d", len(alerts))
	}
	if alerts := e.Evaluate(2000, ev); len(alerts) != 0 {
		t.Fatalf("expected no alert on second match, got %d", len(alerts))
	}
	alerts := e.Evaluate(3000, ev)
	if len(alerts) != 1 {
		t.Fatalf("expected one alert on third match, got %d", len(alerts))
	}
	if alerts[0].Fingerprint != "pod-crashloop" {
		t.Fatalf("expected fingerprint pod-crashloop, got %s", alerts[0].Fingerprint)
	}
	if alerts[0].EntityKey() != "pod-a" {
		t.Fatalf("expected entity key pod-a, got %s", alerts[0].EntityKey())
	}
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, nil)
	ev := models.RawEvent{Reason: "BackOff", InvolvedName: "pod-a"}

	e.Evaluate(1000, ev)
	e.Evaluate(2000, ev)
	if alerts := e.Evaluate(3000, ev); len(alerts) != 1 {
		t.Fatalf("expected first alert to fire")
	}
	// Still within cooldown and window: should not re-fire immediately.
	if alerts := e.Evaluate(3100, ev); len(alerts) != 0 {
		t.Fatalf("expected no alert during cooldown, got %d", len(alerts))
	}
}

func TestEvaluateIgnoresNonMatchingEvents(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, nil)
	ev := models.RawEvent{Reason: "Scheduled", InvolvedName: "pod-a"}

	for ts := int64(0); ts < 5; ts++ {
		if alerts := e.Evaluate(ts*1000, ev); len(alerts) != 0 {
			t.Fatalf("expected no alert for non-matching event")
		}
	}
}

func TestWindowPruningPreventsStaleMatchesFromCounting(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, nil)
	ev := models.RawEvent{Reason: "BackOff", InvolvedName: "pod-a"}

	e.Evaluate(0, ev)
	e.Evaluate(100, ev)
	// Well outside the 60s window: the first two matches should have aged out.
	if alerts := e.Evaluate(200_000, ev); len(alerts) != 0 {
		t.Fatalf("expected no alert once earlier matches fall outside the window, got %d", len(alerts))
	}
}

func TestFromK8sEventRejectsMissingReason(t *testing.T) {
	if _, ok := FromK8sEvent(&corev1.Event{}); ok {
		t.Fatalf("expected malformed event without reason to be rejected")
	}
}

func TestIngestK8sEventIncrementsMalformedCounter(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, nil)
	e.IngestK8sEvent(1000, &corev1.Event{})
	if got := e.MalformedDropped(); got != 1 {
		t.Fatalf("expected malformed counter 1, got %d", got)
	}
}

func TestIngestK8sEventConvertsAndEvaluates(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, nil)
	ev := &corev1.Event{
		Reason:         "BackOff",
		InvolvedObject: corev1.ObjectReference{Name: "pod-a"},
		FirstTimestamp: metav1.NewTime(metav1.Now().Time),
	}
	e.IngestK8sEvent(1000, ev)
	e.IngestK8sEvent(2000, ev)
	alerts := e.IngestK8sEvent(3000, ev)
	if len(alerts) != 1 {
		t.Fatalf("expected threshold to fire via k8s event path, got %d alerts", len(alerts))
	}
}
