// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import (
	"context"
	"time"
)

// Event names published by the core. Together with the "security" domain and
// an optional contract they form the topic tuple.
const (
	EventInitialized         = "initialized"
	EventThreatDetected      = "threat_detected"
	EventThreatMitigated     = "threat_mitigated"
	EventCircuitOpened       = "circuit_opened"
	EventCircuitClosed       = "circuit_closed"
	EventCircuitStateChanged = "circuit_state"
	EventRateLimitExceeded   = "rate_limit"
	EventRecommendation      = "recommendation"
	EventConfigUpdated       = "config_updated"
	EventRiskScoreUpdated    = "risk_score_updated"
	EventIntelAdded          = "intel_added"
	EventIncidentReported    = "incident_reported"
)

// Topic is the (domain, event, optional contract) tuple a publish carries.
type Topic struct {
	Domain   string `json:"domain"`
	Event    string `json:"event"`
	Contract string `json:"contract,omitempty"`
}

// Bus is the fire-and-forget event publication collaborator. Delivery is
// at-least-once from the core's perspective; the core never awaits
// acknowledgment and never fails an operation because a publish failed.
type Bus interface {
	Publish(ctx context.Context, topic Topic, payload any)
}

// NoopBus discards all events. Used when no bus is configured.
type NoopBus struct{}

// Publish implements Bus.
func (NoopBus) Publish(context.Context, Topic, any) {}

func topic(event, contract string) Topic {
	return Topic{Domain: "security", Event: event, Contract: contract}
}

// Payload shapes. Enum-valued fields are published as their wire strings so
// consumers do not depend on internal ordinals.

// ThreatDetectedEvent is the payload for EventThreatDetected.
type ThreatDetectedEvent struct {
	ThreatID       string    `json:"threat_id"`
	Type           string    `json:"threat_type"`
	Level          string    `json:"threat_level"`
	DetectedAt     time.Time `json:"detected_at"`
	MetricValue    uint32    `json:"metric_value"`
	ThresholdValue uint32    `json:"threshold_value"`
}

// ThreatMitigatedEvent is the payload for EventThreatMitigated.
type ThreatMitigatedEvent struct {
	ThreatID    string    `json:"threat_id"`
	Action      string    `json:"action"`
	MitigatedBy string    `json:"mitigated_by"`
	At          time.Time `json:"at"`
}

// CircuitEvent is the payload for the circuit_opened / circuit_closed /
// circuit_state events.
type CircuitEvent struct {
	Function     string    `json:"function"`
	State        string    `json:"state,omitempty"`
	FailureCount uint32    `json:"failure_count,omitempty"`
	At           time.Time `json:"at"`
}

// RateLimitEvent is the payload for EventRateLimitExceeded.
type RateLimitEvent struct {
	Actor string    `json:"actor"`
	Count uint32    `json:"count"`
	Limit uint32    `json:"limit"`
	At    time.Time `json:"at"`
}

// RecommendationEvent is the payload for EventRecommendation.
type RecommendationEvent struct {
	RecommendationID string    `json:"recommendation_id"`
	ThreatID         string    `json:"threat_id"`
	Category         string    `json:"category"`
	Severity         string    `json:"severity"`
	At               time.Time `json:"at"`
}

// ConfigUpdatedEvent is the payload for EventConfigUpdated.
type ConfigUpdatedEvent struct {
	UpdatedBy  string    `json:"updated_by"`
	ChangeType string    `json:"change_type"`
	At         time.Time `json:"at"`
}

// RiskScoreEvent is the payload for EventRiskScoreUpdated.
type RiskScoreEvent struct {
	User       string    `json:"user"`
	Score      uint32    `json:"score"`
	RiskFactor string    `json:"risk_factor"`
	At         time.Time `json:"at"`
}

// IntelAddedEvent is the payload for EventIntelAdded.
type IntelAddedEvent struct {
	Source         string    `json:"source"`
	IndicatorType  string    `json:"indicator_type"`
	IndicatorValue string    `json:"indicator_value"`
	Level          string    `json:"threat_level"`
	At             time.Time `json:"at"`
}

// IncidentReportedEvent is the payload for EventIncidentReported.
type IncidentReportedEvent struct {
	IncidentID string    `json:"incident_id"`
	ReportedBy string    `json:"reported_by"`
	At         time.Time `json:"at"`
}
