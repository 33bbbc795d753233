// Package threshold implements the correlation pipeline's first stage: it
// matches incoming raw events against a rule pack and synthesizes Alerts
// once a rule's sliding-window match count crosses its threshold.
package threshold

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	corev1 "k8s.io/api/core/v1"

	"github.com/platformbuilds/alertcorr/internal/models"
	"github.com/platformbuilds/alertcorr/internal/utils"
)

// k8sEventStaleMinutes is the age at which an ingested Kubernetes event is
// logged as stale: it is still evaluated, just flagged for visibility.
const k8sEventStaleMinutes = 10

// Op is a match-condition comparison operator.
type Op string

const (
	OpEquals   Op = "eq"
	OpContains Op = "contains"
	OpPrefix   Op = "prefix"
)

// MatchCondition tests one RawEvent selector against a literal value.
type MatchCondition struct {
	Selector string `yaml:"selector"`
	Op       Op     `yaml:"op"`
	Value    string `yaml:"value"`
}

// Rule defines a threshold crossing: N matching events within WindowMs
// produce one synthesized Alert, followed by CooldownMs of silence for the
// same rule/entity pair.
type Rule struct {
	ID         string           `yaml:"id"`
	Match      []MatchCondition `yaml:"match"`
	GroupBy    []string         `yaml:"group_by"`
	WindowMs   int64            `yaml:"windowMs"`
	Threshold  int              `yaml:"threshold"`
	CooldownMs int64            `yaml:"cooldownMs"`
	Severity   string           `yaml:"severity"`
	Service    string           `yaml:"service"`
	Source     string           `yaml:"source"`
}

// RuleFile is the YAML root structure for a rule pack.
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rule pack from path. A missing file is not an error: it
// yields an empty rule set, mirroring the Threshold Engine's "no rules
// configured" fallback.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	return f.Rules, nil
}

// Engine evaluates raw events against a rule pack and tracks each
// rule/entity pair's sliding window of recent matches.
type Engine struct {
	rules  []Rule
	logger *slog.Logger

	mu            sync.Mutex
	sequences     map[string][]int64 // ruleID|entityKey -> ascending match timestamps within window
	cooldownUntil map[string]int64
	lastSeen      map[string]int64

	malformedDropped atomic.Int64
}

// NewEngine constructs an Engine from a loaded rule pack.
func NewEngine(rules []Rule, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:         rules,
		logger:        logger,
		sequences:     make(map[string][]int64),
		cooldownUntil: make(map[string]int64),
		lastSeen:      make(map[string]int64),
	}
}

// MalformedDropped returns the running count of raw events dropped for
// failing to convert cleanly. Malformed input is never fatal: it is counted
// and skipped.
func (e *Engine) MalformedDropped() int64 {
	return e.malformedDropped.Load()
}

// Evaluate matches ev against every rule at time now, returning one
// synthesized Alert per rule whose sliding-window count is at or above its
// threshold and whose cooldown has elapsed.
func (e *Engine) Evaluate(now int64, ev models.RawEvent) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.Alert
	for _, rule := range e.rules {
		if !matches(ev, rule.Match) {
			continue
		}

		entityKey := groupKey(ev, rule.GroupBy)
		key := rule.ID + "|" + entityKey

		seq := append(e.sequences[key], now)
		cutoff := now - rule.WindowMs
		seq = pruneBefore(seq, cutoff)
		e.sequences[key] = seq
		e.lastSeen[key] = now

		if len(seq) < rule.Threshold {
			continue
		}
		if until, ok := e.cooldownUntil[key]; ok && now < until {
			continue
		}

		severity, _ := models.NormalizeSeverity(rule.Severity)
		alert := models.Alert{
			TimestampMs: now,
			Source:      firstNonEmpty(rule.Source, "threshold-engine"),
			Fingerprint: rule.ID,
			Status:      models.StatusFiring,
			Severity:    severity,
			Kind:        "threshold",
			Service:     rule.Service,
			EntityKeyIn: entityKey,
			Namespace:   ev.Namespace,
		}
		alert.EnsureID()
		out = append(out, alert)

		e.cooldownUntil[key] = now + rule.CooldownMs
	}
	return out
}

// Cleanup discards sequence and cooldown state untouched since before
// maxAgeMs, called once per tick to bound the engine's memory footprint.
func (e *Engine) Cleanup(now, maxAgeMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now - maxAgeMs
	for key, seen := range e.lastSeen {
		if seen < cutoff {
			delete(e.lastSeen, key)
			delete(e.sequences, key)
			delete(e.cooldownUntil, key)
		}
	}
}

func matches(ev models.RawEvent, conditions []MatchCondition) bool {
	for _, c := range conditions {
		v := ev.Field(c.Selector)
		switch c.Op {
		case OpContains:
			if !strings.Contains(v, c.Value) {
				return false
			}
		case OpPrefix:
			if !strings.HasPrefix(v, c.Value) {
				return false
			}
		default: // OpEquals and unset
			if v != c.Value {
				return false
			}
		}
	}
	return true
}

func groupKey(ev models.RawEvent, groupBy []string) string {
	if len(groupBy) == 0 {
		return firstNonEmpty(ev.InvolvedName, ev.Namespace, "na")
	}
	parts := make([]string, 0, len(groupBy))
	for _, sel := range groupBy {
		parts = append(parts, ev.Field(sel))
	}
	return strings.Join(parts, "|")
}

func pruneBefore(seq []int64, cutoff int64) []int64 {
	idx := sort.Search(len(seq), func(i int) bool { return seq[i] >= cutoff })
	if idx == 0 {
		return seq
	}
	return append(seq[:0:0], seq[idx:]...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// FromK8sEvent converts a Kubernetes core/v1 Event into the Threshold
// Engine's RawEvent shape. It reports ok=false for malformed input
// (a nil event or a missing reason) rather than erroring, since a single bad
// event must never take down ingestion.
func FromK8sEvent(ev *corev1.Event) (models.RawEvent, bool) {
	if ev == nil || ev.Reason == "" {
		return models.RawEvent{}, false
	}

	ts := ev.LastTimestamp.UnixMilli()
	if ts <= 0 {
		ts = ev.EventTime.UnixMilli()
	}
	if ts <= 0 {
		ts = ev.FirstTimestamp.UnixMilli()
	}

	return models.RawEvent{
		TimestampMs:  ts,
		Reason:       ev.Reason,
		Type:         ev.Type,
		Message:      ev.Message,
		InvolvedKind: ev.InvolvedObject.Kind,
		InvolvedName: ev.InvolvedObject.Name,
		Namespace:    ev.Namespace,
		Labels:       ev.Labels,
	}, true
}

// IngestK8sEvent converts and evaluates a raw Kubernetes event in one step,
// incrementing the malformed-event counter instead of returning an error
// when conversion fails.
func (e *Engine) IngestK8sEvent(now int64, ev *corev1.Event) []models.Alert {
	raw, ok := FromK8sEvent(ev)
	if !ok {
		e.malformedDropped.Add(1)
		return nil
	}

	if ageMinutes := utils.DurationMinutes(time.UnixMilli(raw.TimestampMs), time.UnixMilli(now)); ageMinutes > k8sEventStaleMinutes {
		e.logger.Debug("ingesting a stale k8s event",
			slog.String("reason", raw.Reason),
			slog.String("involved_name", raw.InvolvedName),
			slog.Float64("age_minutes", ageMinutes),
		)
	}

	return e.Evaluate(now, raw)
}
