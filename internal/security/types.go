// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import (
	"time"
)

// ThreatLevel is an ordinal severity classification. It is integer-backed so
// that levels compare and max-reduce with plain < and >.
type ThreatLevel int

const (
	LevelLow ThreatLevel = iota + 1
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the wire name of the level.
func (l ThreatLevel) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether l is one of the defined levels.
func (l ThreatLevel) Valid() bool {
	return l >= LevelLow && l <= LevelCritical
}

// ThreatType identifies the kind of anomaly a threat records.
type ThreatType string

const (
	ThreatBurstActivity          ThreatType = "burst_activity"
	ThreatAnomalousActor         ThreatType = "anomalous_actor"
	ThreatErrorRateSpike         ThreatType = "error_rate_spike"
	ThreatSequenceIntegrityIssue ThreatType = "sequence_integrity"
	ThreatAccessViolation        ThreatType = "access_violation"
	ThreatReentrancyAttempt      ThreatType = "reentrancy_attempt"
	ThreatValidationFailure      ThreatType = "validation_failure"
	ThreatRateLimitExceeded      ThreatType = "rate_limit_exceeded"
	ThreatBehavioralAnomaly      ThreatType = "behavioral_anomaly"
	ThreatCredentialFraud        ThreatType = "credential_fraud"
	ThreatBiometricFailure       ThreatType = "biometric_failure"
	ThreatKnownMaliciousActor    ThreatType = "known_malicious_actor"
)

// MitigationAction is the automated response selected for a threat.
type MitigationAction string

const (
	ActionRateLimitApplied        MitigationAction = "rate_limit_applied"
	ActionCircuitBreakerTriggered MitigationAction = "circuit_breaker_triggered"
	ActionAccessRestricted        MitigationAction = "access_restricted"
	ActionAlertSent               MitigationAction = "alert_sent"
	ActionNone                    MitigationAction = "no_action"
	ActionRequireReauth           MitigationAction = "require_reauth"
	ActionLockAccount             MitigationAction = "lock_account"
)

// Threat is an immutable detection record. It is created by the Detector (or
// ingested from a registered oracle) and never mutated afterwards except for
// the mitigation bookkeeping applied through Service.ApplyMitigation.
type Threat struct {
	ID          string      `json:"id"`
	Type        ThreatType  `json:"type"`
	Level       ThreatLevel `json:"level"`
	DetectedAt  time.Time   `json:"detected_at"`
	Contract    string      `json:"contract"`
	Actor       string      `json:"actor,omitempty"` // offending actor, empty when unknown
	Description string      `json:"description"`

	// MetricValue and ThresholdValue preserve the observation that triggered
	// detection so operators can audit the classification afterwards.
	MetricValue    uint32 `json:"metric_value"`
	ThresholdValue uint32 `json:"threshold_value"`

	AutoMitigated bool             `json:"auto_mitigated"`
	Mitigation    MitigationAction `json:"mitigation_action"`
}

// Metrics is the per-(contract, window) security aggregate. Windows use fixed
// bucketing (window id = unix timestamp / window size in seconds) and are
// read-only once closed.
type Metrics struct {
	WindowID  int64     `json:"window_id"`
	Contract  string    `json:"contract"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	TotalEvents uint32 `json:"total_events"`
	ErrorEvents uint32 `json:"error_events"`
	ErrorRate   uint32 `json:"error_rate"` // integer percentage

	UniqueActors     uint32 `json:"unique_actors"`
	AccessViolations uint32 `json:"access_violations"`

	ThreatCount        uint32      `json:"threat_count"`
	HighestThreatLevel ThreatLevel `json:"highest_threat_level"`
	SecurityScore      uint32      `json:"security_score"` // 0-100
}

// MetricsWindow is the fixed bucket size used for security metrics.
const MetricsWindow = time.Hour

// WindowID computes the fixed bucket id for ts. Buckets never overlap: every
// timestamp maps to exactly one window.
func WindowID(ts time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return ts.Unix() / secs
}

// CircuitState identifies the breaker state machine position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // normal operation
	CircuitOpen     CircuitState = "open"      // blocking calls
	CircuitHalfOpen CircuitState = "half_open" // probing recovery
)

// BreakerState is the persisted per-(contract, function) circuit breaker
// record. Invariant: OpenedAt is non-nil iff State != CircuitClosed.
type BreakerState struct {
	Contract string       `json:"contract"`
	Function string       `json:"function"`
	State    CircuitState `json:"state"`

	FailureCount     uint32 `json:"failure_count"`
	FailureThreshold uint32 `json:"failure_threshold"`

	LastFailure time.Time     `json:"last_failure,omitempty"`
	OpenedAt    *time.Time    `json:"opened_at,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Timeout     time.Duration `json:"timeout"` // how long to keep the circuit open
}

// NewBreakerState returns a fresh Closed breaker seeded from config
// thresholds. A missing stored record is always replaced with this.
func NewBreakerState(contract, function string, threshold uint32, timeout time.Duration) *BreakerState {
	return &BreakerState{
		Contract:         contract,
		Function:         function,
		State:            CircuitClosed,
		FailureThreshold: threshold,
		Timeout:          timeout,
	}
}

// Config holds the tunable detection and mitigation thresholds. It is a
// singleton, mutable only through admin-gated operations.
type Config struct {
	BurstDetectionThreshold uint32        `json:"burst_detection_threshold"` // events per window
	BurstWindow             time.Duration `json:"burst_window"`
	ErrorRateThreshold      uint32        `json:"error_rate_threshold"`   // percentage
	ActorAnomalyThreshold   uint32        `json:"actor_anomaly_threshold"` // multiplier of baseline behavior

	CircuitBreakerThreshold uint32        `json:"circuit_breaker_threshold"` // failures before opening
	CircuitBreakerTimeout   time.Duration `json:"circuit_breaker_timeout"`

	AutoMitigationEnabled bool          `json:"auto_mitigation_enabled"`
	RateLimitPerWindow    uint32        `json:"rate_limit_per_window"`
	RateLimitWindow       time.Duration `json:"rate_limit_window"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() *Config {
	return &Config{
		BurstDetectionThreshold: 100,
		BurstWindow:             60 * time.Second,
		ErrorRateThreshold:      10,
		ActorAnomalyThreshold:   10,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   5 * time.Minute,
		AutoMitigationEnabled:   true,
		RateLimitPerWindow:      100,
		RateLimitWindow:         time.Hour,
	}
}

// Validate rejects configurations that would disable detection entirely.
func (c *Config) Validate() error {
	if c.BurstDetectionThreshold == 0 || c.BurstWindow <= 0 {
		return ErrInvalidConfiguration
	}
	if c.RateLimitWindow <= 0 {
		return ErrInvalidConfiguration
	}
	return nil
}

// RecommendationCategory classifies a recommendation's remediation area.
type RecommendationCategory string

const (
	CategoryAccessControl        RecommendationCategory = "access_control"
	CategoryInputValidation      RecommendationCategory = "input_validation"
	CategoryReentrancyPrevention RecommendationCategory = "reentrancy_prevention"
	CategoryRateLimiting         RecommendationCategory = "rate_limiting"
	CategoryEventIntegrity       RecommendationCategory = "event_integrity"
	CategoryConfiguration        RecommendationCategory = "configuration"
)

// Recommendation is derived, human-actionable advice tied to a threat.
type Recommendation struct {
	ID            string                 `json:"id"`
	ThreatID      string                 `json:"threat_id"`
	Severity      ThreatLevel            `json:"severity"`
	Category      RecommendationCategory `json:"category"`
	Title         string                 `json:"title"`
	Description   string                 `json:"description"`
	CodeLocation  string                 `json:"code_location,omitempty"`
	FixSuggestion string                 `json:"fix_suggestion"`
	CreatedAt     time.Time              `json:"created_at"`
	Acknowledged  bool                   `json:"acknowledged"`
}

// ThreatIntelligence is an externally supplied indicator of compromise.
type ThreatIntelligence struct {
	Source         string      `json:"source"`         // e.g. "global_list", "partner_api"
	IndicatorType  string      `json:"indicator_type"` // e.g. "ip", "address", "behavior_pattern"
	IndicatorValue string      `json:"indicator_value"`
	Level          ThreatLevel `json:"threat_level"`
	AddedAt        time.Time   `json:"added_at"`
}

// RiskScore tracks a user's accumulated risk, 0 (clean) to 100 (maximum).
type RiskScore struct {
	User        string    `json:"user"`
	Score       uint32    `json:"score"`
	LastUpdated time.Time `json:"last_updated"`
	RiskFactors []string  `json:"risk_factors,omitempty"`
}

// IncidentStatus is the lifecycle state of an incident report.
type IncidentStatus string

const (
	IncidentOpen      IncidentStatus = "open"
	IncidentMitigated IncidentStatus = "mitigated"
	IncidentResolved  IncidentStatus = "resolved"
)

// IncidentReport aggregates related threats and the actions taken against
// them for compliance review.
type IncidentReport struct {
	ID            string             `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	ThreatIDs     []string           `json:"threat_ids"`
	ImpactSummary string             `json:"impact_summary"`
	ActionsTaken  []MitigationAction `json:"actions_taken"`
	Status        IncidentStatus     `json:"status"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
}

// Clock supplies the authoritative time for windowing and breaker timeouts.
// Injected so tests control time and hosts can substitute their own source.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock Clock used outside tests.
var SystemClock Clock = systemClock{}
