// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import (
	"context"
	"time"
)

// Store is the keyed persistence collaborator. Reads report absence with the
// ok result instead of erroring; the core treats absence as "uninitialized,
// apply defaults". Implementations must make IncrementActorEvents an atomic
// read-modify-write and must not interleave SetBreaker calls for the same
// (contract, function) pair with concurrent reads (the CircuitBreaker
// serializes per key on top of this).
type Store interface {
	// Config and admin (singletons).
	Config(ctx context.Context) (*Config, bool, error)
	SetConfig(ctx context.Context, cfg *Config) error
	Admin(ctx context.Context) (string, bool, error)
	SetAdmin(ctx context.Context, admin string) error

	// Threats. SetThreat also appends the ID to the owning contract's index.
	Threat(ctx context.Context, id string) (*Threat, bool, error)
	SetThreat(ctx context.Context, t *Threat) error
	ContractThreats(ctx context.Context, contract string) ([]string, error)

	// Per-(contract, window) metrics.
	Metrics(ctx context.Context, contract string, windowID int64) (*Metrics, bool, error)
	SetMetrics(ctx context.Context, m *Metrics) error

	// Per-(contract, function) breaker records.
	Breaker(ctx context.Context, contract, function string) (*BreakerState, bool, error)
	SetBreaker(ctx context.Context, s *BreakerState) error

	// Short-lived per-(actor, window) counters. Entries expire after ttl;
	// the increment returns the new count.
	ActorEvents(ctx context.Context, actor string, windowID int64) (uint32, error)
	IncrementActorEvents(ctx context.Context, actor string, windowID int64, ttl time.Duration) (uint32, error)

	// Recommendations. SetRecommendation also appends the ID to the owning
	// threat's index.
	Recommendation(ctx context.Context, id string) (*Recommendation, bool, error)
	SetRecommendation(ctx context.Context, r *Recommendation) error
	ThreatRecommendations(ctx context.Context, threatID string) ([]string, error)

	// Oracle registry.
	IsOracle(ctx context.Context, oracle string) (bool, error)
	SetOracle(ctx context.Context, oracle string) error

	// Threat intelligence indicators, keyed by indicator type.
	ThreatIntel(ctx context.Context, indicatorType string) (*ThreatIntelligence, bool, error)
	SetThreatIntel(ctx context.Context, ti *ThreatIntelligence) error

	// User risk scores.
	RiskScore(ctx context.Context, user string) (*RiskScore, bool, error)
	SetRiskScore(ctx context.Context, rs *RiskScore) error

	// Incident reports.
	Incident(ctx context.Context, id string) (*IncidentReport, bool, error)
	SetIncident(ctx context.Context, r *IncidentReport) error
}

// EventCounter is the external event-counting collaborator. Raw activity
// aggregation is out of core scope; CalculateMetrics passes these counts
// through into the stored window.
type EventCounter interface {
	// Counts returns total events, error events, unique actors and access
	// violations observed for contract in [start, end].
	Counts(ctx context.Context, contract string, start, end time.Time) (total, errs, actors, violations uint32, err error)
}

// Authorizer is the capability-check collaborator invoked before admin- and
// oracle-only operations. Implementations return nil to allow; the core
// propagates any denial as ErrUnauthorized without inspecting it.
type Authorizer interface {
	Require(ctx context.Context, subject, resource, action string) error
}
