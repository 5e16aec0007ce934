// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corvexa/watchtower/internal/logging"
	"github.com/corvexa/watchtower/internal/metrics"
)

// Service is the operational surface of the security core. It owns the
// detector, breaker, selector and recommendation engine and gates the
// admin/oracle operations through the Authorizer.
type Service struct {
	store    Store
	bus      Bus
	authz    Authorizer
	selector Selector
	clock    Clock

	detector  *Detector
	breaker   *CircuitBreaker
	recommend *RecommendationEngine
}

// ServiceOptions configures optional collaborators.
type ServiceOptions struct {
	Bus      Bus          // nil suppresses event publication
	Authz    Authorizer   // nil allows everything (tests, embedded use)
	Counter  EventCounter // nil yields zero event counts in windows
	Selector Selector     // nil uses DefaultSelector
	Clock    Clock        // nil uses SystemClock
}

// NewService creates the security service over a store.
func NewService(store Store, opts ServiceOptions) *Service {
	bus := opts.Bus
	if bus == nil {
		bus = NoopBus{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	selector := opts.Selector
	if selector == nil {
		selector = DefaultSelector{}
	}

	return &Service{
		store:     store,
		bus:       bus,
		authz:     opts.Authz,
		selector:  selector,
		clock:     clock,
		detector:  NewDetector(store, opts.Counter, clock),
		breaker:   NewCircuitBreaker(store, bus, clock),
		recommend: NewRecommendationEngine(store, bus, clock),
	}
}

// Breaker exposes the circuit breaker for guarded call sites.
func (s *Service) Breaker() *CircuitBreaker { return s.breaker }

func (s *Service) authorize(ctx context.Context, subject, resource, action string) error {
	if s.authz == nil {
		return nil
	}
	if err := s.authz.Require(ctx, subject, resource, action); err != nil {
		return fmt.Errorf("%w: %s may not %s %s", ErrUnauthorized, subject, action, resource)
	}
	return nil
}

// requireConfig loads the singleton config or fails with ErrNotInitialized.
func (s *Service) requireConfig(ctx context.Context) (*Config, error) {
	cfg, ok, err := s.store.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// Initialize stores the admin and configuration. It may run exactly once.
func (s *Service) Initialize(ctx context.Context, admin string, cfg *Config) error {
	if _, ok, err := s.store.Admin(ctx); err != nil {
		return fmt.Errorf("load admin: %w", err)
	} else if ok {
		return ErrAlreadyInitialized
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := s.store.SetAdmin(ctx, admin); err != nil {
		return fmt.Errorf("save admin: %w", err)
	}
	if err := s.store.SetConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.bus.Publish(ctx, topic(EventInitialized, ""), map[string]string{"admin": admin})
	logging.Info().Str("admin", admin).Msg("security monitor initialized")
	return nil
}

// ScanForThreats runs the burst and error-rate detectors against the current
// window, persists and announces every detected threat, applies the selected
// mitigation when auto-mitigation is on, and returns the batch.
func (s *Service) ScanForThreats(ctx context.Context, contract string, window time.Duration) ([]*Threat, error) {
	cfg, err := s.requireConfig(ctx)
	if err != nil {
		return nil, err
	}

	var threats []*Threat

	if t, err := s.detector.DetectBurstActivity(ctx, contract, window); err != nil {
		return nil, err
	} else if t != nil {
		threats = append(threats, t)
	}

	windowID := WindowID(s.clock.Now(), MetricsWindow)
	if t, err := s.detector.DetectErrorRateSpike(ctx, contract, windowID); err != nil {
		return nil, err
	} else if t != nil {
		threats = append(threats, t)
	}

	for _, t := range threats {
		if err := s.recordThreat(ctx, t, cfg); err != nil {
			return nil, err
		}
	}
	return threats, nil
}

// recordThreat persists a freshly detected threat, publishes it, and applies
// the automatic mitigation selected for it.
func (s *Service) recordThreat(ctx context.Context, t *Threat, cfg *Config) error {
	if action := s.selector.Select(t, cfg); action != ActionNone {
		t.AutoMitigated = true
		t.Mitigation = action
	}

	if err := s.store.SetThreat(ctx, t); err != nil {
		return fmt.Errorf("save threat: %w", err)
	}

	metrics.ThreatsDetected.WithLabelValues(t.Contract, string(t.Type), t.Level.String()).Inc()
	s.bus.Publish(ctx, topic(EventThreatDetected, t.Contract), ThreatDetectedEvent{
		ThreatID:       t.ID,
		Type:           string(t.Type),
		Level:          t.Level.String(),
		DetectedAt:     t.DetectedAt,
		MetricValue:    t.MetricValue,
		ThresholdValue: t.ThresholdValue,
	})

	if t.AutoMitigated {
		metrics.ThreatsMitigated.WithLabelValues(string(t.Mitigation)).Inc()
		s.bus.Publish(ctx, topic(EventThreatMitigated, t.Contract), ThreatMitigatedEvent{
			ThreatID:    t.ID,
			Action:      string(t.Mitigation),
			MitigatedBy: "auto",
			At:          t.DetectedAt,
		})
	}

	logging.Info().
		Str("contract", t.Contract).
		Str("threat_type", string(t.Type)).
		Str("threat_level", t.Level.String()).
		Str("threat_id", t.ID).
		Bool("auto_mitigated", t.AutoMitigated).
		Msg("threat recorded")
	return nil
}

// ReportThreat ingests an oracle-sourced detection (behavioral anomaly,
// credential fraud, biometric failure, known malicious actor). The reporter
// must be a registered oracle.
func (s *Service) ReportThreat(ctx context.Context, oracle string, t *Threat) (*Threat, error) {
	cfg, err := s.requireConfig(ctx)
	if err != nil {
		return nil, err
	}
	registered, err := s.store.IsOracle(ctx, oracle)
	if err != nil {
		return nil, fmt.Errorf("check oracle: %w", err)
	}
	if !registered {
		return nil, fmt.Errorf("%w: %s is not a registered oracle", ErrUnauthorized, oracle)
	}
	if err := s.authorize(ctx, oracle, "threats", "report"); err != nil {
		return nil, err
	}

	stored := *t
	stored.ID = newThreatID()
	stored.DetectedAt = s.clock.Now()
	stored.Mitigation = ActionNone
	stored.AutoMitigated = false
	if !stored.Level.Valid() {
		stored.Level = LevelMedium
	}

	if err := s.recordThreat(ctx, &stored, cfg); err != nil {
		return nil, err
	}
	return &stored, nil
}

// Threat returns a stored threat by ID.
func (s *Service) Threat(ctx context.Context, id string) (*Threat, error) {
	t, ok, err := s.store.Threat(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load threat: %w", err)
	}
	if !ok {
		return nil, ErrThreatNotFound
	}
	return t, nil
}

// ContractThreats returns the IDs of all threats recorded for a contract.
func (s *Service) ContractThreats(ctx context.Context, contract string) ([]string, error) {
	return s.store.ContractThreats(ctx, contract)
}

// ApplyMitigation marks a threat as mitigated with the given action. Gated
// on the mitigate capability.
func (s *Service) ApplyMitigation(ctx context.Context, actor, threatID string, action MitigationAction) error {
	if err := s.authorize(ctx, actor, "threats", "mitigate"); err != nil {
		return err
	}

	t, ok, err := s.store.Threat(ctx, threatID)
	if err != nil {
		return fmt.Errorf("load threat: %w", err)
	}
	if !ok {
		return ErrThreatNotFound
	}

	t.AutoMitigated = true
	t.Mitigation = action
	if err := s.store.SetThreat(ctx, t); err != nil {
		return fmt.Errorf("save threat: %w", err)
	}

	metrics.ThreatsMitigated.WithLabelValues(string(action)).Inc()
	s.bus.Publish(ctx, topic(EventThreatMitigated, t.Contract), ThreatMitigatedEvent{
		ThreatID:    threatID,
		Action:      string(action),
		MitigatedBy: actor,
		At:          s.clock.Now(),
	})
	return nil
}

// SecurityMetrics returns the stored metrics for a contract window.
func (s *Service) SecurityMetrics(ctx context.Context, contract string, windowID int64) (*Metrics, error) {
	m, ok, err := s.store.Metrics(ctx, contract, windowID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if !ok {
		return nil, ErrMetricsNotFound
	}
	return m, nil
}

// CalculateSecurityMetrics computes and stores the current window's metrics
// for a contract, looking back window from now.
func (s *Service) CalculateSecurityMetrics(ctx context.Context, contract string, window time.Duration) (*Metrics, error) {
	if _, err := s.requireConfig(ctx); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	windowID := WindowID(now, MetricsWindow)
	start := now.Add(-window)

	m, err := s.detector.CalculateMetrics(ctx, contract, start, now, windowID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("save metrics: %w", err)
	}
	return m, nil
}

// CheckCircuitBreaker returns the current breaker record without mutating it.
func (s *Service) CheckCircuitBreaker(ctx context.Context, contract, function string) (*BreakerState, error) {
	return s.breaker.State(ctx, contract, function)
}

// RecordCircuitBreakerEvent gates and records one guarded call outcome.
func (s *Service) RecordCircuitBreakerEvent(ctx context.Context, contract, function string, success bool) (bool, error) {
	return s.breaker.CheckAndRecord(ctx, contract, function, success)
}

// ResetCircuitBreaker forces a breaker Closed. Admin capability required.
func (s *Service) ResetCircuitBreaker(ctx context.Context, actor, contract, function string) error {
	if err := s.authorize(ctx, actor, "breakers", "reset"); err != nil {
		return err
	}
	return s.breaker.Reset(ctx, contract, function)
}

// Recommendations returns the stored recommendations for a threat.
func (s *Service) Recommendations(ctx context.Context, threatID string) ([]*Recommendation, error) {
	ids, err := s.store.ThreatRecommendations(ctx, threatID)
	if err != nil {
		return nil, fmt.Errorf("load recommendation index: %w", err)
	}
	recs := make([]*Recommendation, 0, len(ids))
	for _, id := range ids {
		r, ok, err := s.store.Recommendation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load recommendation %s: %w", id, err)
		}
		if ok {
			recs = append(recs, r)
		}
	}
	return recs, nil
}

// GenerateRecommendations creates and stores advice for an existing threat.
func (s *Service) GenerateRecommendations(ctx context.Context, threatID string) ([]*Recommendation, error) {
	t, ok, err := s.store.Threat(ctx, threatID)
	if err != nil {
		return nil, fmt.Errorf("load threat: %w", err)
	}
	if !ok {
		return nil, ErrThreatNotFound
	}
	return s.recommend.Generate(ctx, t)
}

// AcknowledgeRecommendation marks a recommendation as acknowledged. Gated on
// the acknowledge capability.
func (s *Service) AcknowledgeRecommendation(ctx context.Context, actor, id string) error {
	if err := s.authorize(ctx, actor, "recommendations", "acknowledge"); err != nil {
		return err
	}

	r, ok, err := s.store.Recommendation(ctx, id)
	if err != nil {
		return fmt.Errorf("load recommendation: %w", err)
	}
	if !ok {
		return ErrRecommendationNotFound
	}

	r.Acknowledged = true
	if err := s.store.SetRecommendation(ctx, r); err != nil {
		return fmt.Errorf("save recommendation: %w", err)
	}
	return nil
}

// UpdateConfig replaces the singleton configuration. Admin capability
// required; the monitor must already be initialized.
func (s *Service) UpdateConfig(ctx context.Context, actor string, cfg *Config) error {
	if _, ok, err := s.store.Admin(ctx); err != nil {
		return fmt.Errorf("load admin: %w", err)
	} else if !ok {
		return ErrNotInitialized
	}
	if err := s.authorize(ctx, actor, "config", "update"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := s.store.SetConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.bus.Publish(ctx, topic(EventConfigUpdated, ""), ConfigUpdatedEvent{
		UpdatedBy:  actor,
		ChangeType: "updated",
		At:         s.clock.Now(),
	})
	return nil
}

// GetConfig returns the current configuration.
func (s *Service) GetConfig(ctx context.Context) (*Config, error) {
	return s.requireConfig(ctx)
}

// CheckRateLimit enforces the per-actor windowed quota. It atomically counts
// the attempt and returns true while the actor is within quota, false (with a
// rate_limit event) once the quota is exhausted.
func (s *Service) CheckRateLimit(ctx context.Context, actor, contract string) (bool, error) {
	cfg, err := s.requireConfig(ctx)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	windowID := WindowID(now, cfg.RateLimitWindow)

	// Increment first and compare the returned count so two concurrent
	// callers at the quota boundary cannot both pass. Denied attempts keep
	// counting; the count is attempts in the window, not admitted events.
	count, err := s.store.IncrementActorEvents(ctx, actor, windowID, cfg.RateLimitWindow)
	if err != nil {
		return false, fmt.Errorf("increment actor events: %w", err)
	}

	if count > cfg.RateLimitPerWindow {
		metrics.RateLimitRejections.WithLabelValues(contract).Inc()
		s.bus.Publish(ctx, topic(EventRateLimitExceeded, contract), RateLimitEvent{
			Actor: actor,
			Count: count,
			Limit: cfg.RateLimitPerWindow,
			At:    now,
		})
		return false, nil
	}
	return true, nil
}

// RegisterOracle adds an address to the oracle registry. Admin capability
// required.
func (s *Service) RegisterOracle(ctx context.Context, actor, oracle string) error {
	if _, err := s.requireConfig(ctx); err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, "oracles", "register"); err != nil {
		return err
	}
	if err := s.store.SetOracle(ctx, oracle); err != nil {
		return fmt.Errorf("save oracle: %w", err)
	}
	logging.Info().Str("oracle", oracle).Str("registered_by", actor).Msg("oracle registered")
	return nil
}

// AddThreatIntelligence stores an indicator of compromise. Gated on the
// intel capability (oracles and admins).
func (s *Service) AddThreatIntelligence(ctx context.Context, actor string, ti *ThreatIntelligence) error {
	if _, err := s.requireConfig(ctx); err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, "intel", "add"); err != nil {
		return err
	}

	ti.AddedAt = s.clock.Now()
	if err := s.store.SetThreatIntel(ctx, ti); err != nil {
		return fmt.Errorf("save threat intel: %w", err)
	}

	s.bus.Publish(ctx, topic(EventIntelAdded, ""), IntelAddedEvent{
		Source:         ti.Source,
		IndicatorType:  ti.IndicatorType,
		IndicatorValue: ti.IndicatorValue,
		Level:          ti.Level.String(),
		At:             ti.AddedAt,
	})
	return nil
}

// UpdateUserRiskScore sets a user's risk score, bounded to 0..100, and
// appends the given risk factor. Gated on the risk capability.
func (s *Service) UpdateUserRiskScore(ctx context.Context, actor, user string, score uint32, riskFactor string) error {
	if _, err := s.requireConfig(ctx); err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, "risk", "update"); err != nil {
		return err
	}

	if score > 100 {
		score = 100
	}

	rs, ok, err := s.store.RiskScore(ctx, user)
	if err != nil {
		return fmt.Errorf("load risk score: %w", err)
	}
	if !ok {
		rs = &RiskScore{User: user}
	}
	rs.Score = score
	rs.LastUpdated = s.clock.Now()
	if riskFactor != "" {
		rs.RiskFactors = append(rs.RiskFactors, riskFactor)
	}
	if err := s.store.SetRiskScore(ctx, rs); err != nil {
		return fmt.Errorf("save risk score: %w", err)
	}

	s.bus.Publish(ctx, topic(EventRiskScoreUpdated, ""), RiskScoreEvent{
		User:       user,
		Score:      score,
		RiskFactor: riskFactor,
		At:         rs.LastUpdated,
	})
	return nil
}

// ReportIncident aggregates threats into a compliance incident report. Admin
// capability required. Actions taken are collected from the named threats.
func (s *Service) ReportIncident(ctx context.Context, actor string, threatIDs []string, impact string) (*IncidentReport, error) {
	if _, err := s.requireConfig(ctx); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, "incidents", "report"); err != nil {
		return nil, err
	}

	actions := make([]MitigationAction, 0, len(threatIDs))
	for _, id := range threatIDs {
		t, ok, err := s.store.Threat(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load threat %s: %w", id, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrThreatNotFound, id)
		}
		if t.Mitigation != ActionNone {
			actions = append(actions, t.Mitigation)
		}
	}

	report := &IncidentReport{
		ID:            uuid.NewString(),
		Timestamp:     s.clock.Now(),
		ThreatIDs:     threatIDs,
		ImpactSummary: impact,
		ActionsTaken:  actions,
		Status:        IncidentOpen,
	}
	if err := s.store.SetIncident(ctx, report); err != nil {
		return nil, fmt.Errorf("save incident: %w", err)
	}

	s.bus.Publish(ctx, topic(EventIncidentReported, ""), IncidentReportedEvent{
		IncidentID: report.ID,
		ReportedBy: actor,
		At:         report.Timestamp,
	})
	return report, nil
}

// Incident returns a stored incident report.
func (s *Service) Incident(ctx context.Context, id string) (*IncidentReport, error) {
	r, ok, err := s.store.Incident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load incident: %w", err)
	}
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return r, nil
}
