// Package models defines the data entities shared across the correlation
// pipeline stages: Alert, RawEvent, Episode, Situation and GraphHints.
package models

import (
	"strings"

	"github.com/google/uuid"
)

// Severity captures an alert's impact level. Unknown tokens map to SeverityLow
// when weighed (see SeverityWeight) but are preserved verbatim on the struct.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityWeight returns the strict total order used for episode severity
// upgrades and the Scorer's normalised severity term. Unknown severities map
// to the low weight.
func SeverityWeight(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 1
	}
}

// Status is the alert's firing/resolved/info lifecycle tag, used by the
// Deduplicator's flap detection.
type Status string

const (
	StatusFiring   Status = "firing"
	StatusResolved Status = "resolved"
	StatusInfo     Status = "info"
)

// Alert is a single alert instance ingested from a heterogeneous monitoring
// source. It is read-only after ingestion.
type Alert struct {
	ID          string
	TimestampMs int64
	Source      string
	VendorID    string
	Fingerprint string
	Status      Status
	Severity    Severity
	Kind        string

	Service     string
	Component   string
	Resource    string
	Namespace   string
	Pod         string
	Host        string
	Region      string
	Cluster     string
	EntityKeyIn string // explicit entity_key override, if supplied by the source

	DeployKey string
	NetKey    string
	K8sKey    string

	Tags map[string]string
}

// EntityKey derives the entity-key: the first non-empty of
// {entity_key, service, component, resource, "na"}.
func (a Alert) EntityKey() string {
	for _, v := range []string{a.EntityKeyIn, a.Service, a.Component, a.Resource} {
		if v != "" {
			return v
		}
	}
	return "na"
}

// DedupKey is the Deduplicator's composite key: fingerprint | entity-key.
func (a Alert) DedupKey() string {
	return a.Fingerprint + "|" + a.EntityKey()
}

// EpisodeKey is the Episode Clusterer's composite key: entity-key | fingerprint.
func (a Alert) EpisodeKey() string {
	return a.EntityKey() + "|" + a.Fingerprint
}

// EnsureID assigns a stable synthetic id when the source alert did not carry
// a vendor id, so downstream sampling (episode.AlertIDs, situation related
// alert caps) always has something to key on.
func (a *Alert) EnsureID() {
	if a.ID != "" {
		return
	}
	if a.VendorID != "" {
		a.ID = a.VendorID
		return
	}
	a.ID = uuid.NewString()
}

// NormalizeSeverity maps an unrecognised severity token to SeverityLow,
// counting as a malformed-input signal for the caller to track. It returns
// whether the input was already a recognised token.
func NormalizeSeverity(raw string) (Severity, bool) {
	switch Severity(strings.ToLower(raw)) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityHigh:
		return SeverityHigh, true
	case SeverityCritical:
		return SeverityCritical, true
	default:
		return SeverityLow, false
	}
}
