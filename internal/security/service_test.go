// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corvexa/watchtower/internal/security"
	"github.com/corvexa/watchtower/internal/store"
)

func serviceFixture(t *testing.T) (*security.Service, *store.MemoryStore, *fakeClock, *recordingBus) {
	t.Helper()
	ms := store.NewMemoryStore()
	clock := newFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	bus := &recordingBus{}
	svc := security.NewService(ms, security.ServiceOptions{
		Bus:   bus,
		Clock: clock,
	})
	return svc, ms, clock, bus
}

func initializedService(t *testing.T) (*security.Service, *store.MemoryStore, *fakeClock, *recordingBus) {
	t.Helper()
	svc, ms, clock, bus := serviceFixture(t)
	if err := svc.Initialize(context.Background(), "admin-1", nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return svc, ms, clock, bus
}

func TestInitializeOnce(t *testing.T) {
	svc, ms, _, bus := serviceFixture(t)
	ctx := context.Background()

	if err := svc.Initialize(ctx, "admin-1", nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	admin, ok, err := ms.Admin(ctx)
	if err != nil || !ok {
		t.Fatalf("admin missing: ok=%v err=%v", ok, err)
	}
	if admin != "admin-1" {
		t.Errorf("admin = %q, want admin-1", admin)
	}

	cfg, err := svc.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if cfg.BurstDetectionThreshold != 100 {
		t.Errorf("default burst threshold = %d, want 100", cfg.BurstDetectionThreshold)
	}

	if err := svc.Initialize(ctx, "admin-2", nil); !errors.Is(err, security.ErrAlreadyInitialized) {
		t.Errorf("second Initialize error = %v, want ErrAlreadyInitialized", err)
	}
	if got := bus.byEvent(security.EventInitialized); len(got) != 1 {
		t.Errorf("initialized events = %d, want 1", len(got))
	}
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	svc, _, _, _ := serviceFixture(t)
	bad := security.DefaultConfig()
	bad.BurstDetectionThreshold = 0

	err := svc.Initialize(context.Background(), "admin-1", bad)
	if !errors.Is(err, security.ErrInvalidConfiguration) {
		t.Errorf("Initialize error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestOperationsRequireInitialization(t *testing.T) {
	svc, _, _, _ := serviceFixture(t)
	ctx := context.Background()

	checks := map[string]error{}
	_, err := svc.ScanForThreats(ctx, "c1", time.Minute)
	checks["ScanForThreats"] = err
	_, err = svc.GetConfig(ctx)
	checks["GetConfig"] = err
	_, err = svc.CheckRateLimit(ctx, "actor", "c1")
	checks["CheckRateLimit"] = err
	err = svc.UpdateConfig(ctx, "admin-1", security.DefaultConfig())
	checks["UpdateConfig"] = err
	err = svc.RegisterOracle(ctx, "admin-1", "oracle-1")
	checks["RegisterOracle"] = err

	for op, err := range checks {
		if !errors.Is(err, security.ErrNotInitialized) {
			t.Errorf("%s error = %v, want ErrNotInitialized", op, err)
		}
	}
}

func TestScanForThreatsRecordsAndMitigates(t *testing.T) {
	svc, ms, clock, bus := initializedService(t)
	ctx := context.Background()

	windowID := security.WindowID(clock.Now(), security.MetricsWindow)
	err := ms.SetMetrics(ctx, &security.Metrics{
		WindowID:    windowID,
		Contract:    "c1",
		TotalEvents: 250, // burst: 2.5x the default threshold of 100
		ErrorRate:   35,  // spike: high band above the 10% threshold
	})
	if err != nil {
		t.Fatal(err)
	}

	threats, err := svc.ScanForThreats(ctx, "c1", time.Minute)
	if err != nil {
		t.Fatalf("ScanForThreats: %v", err)
	}
	if len(threats) != 2 {
		t.Fatalf("threats = %d, want 2 (burst + error rate)", len(threats))
	}

	byType := map[security.ThreatType]*security.Threat{}
	for _, th := range threats {
		byType[th.Type] = th
	}

	burst := byType[security.ThreatBurstActivity]
	if burst == nil {
		t.Fatal("missing burst threat")
	}
	if burst.Level != security.LevelMedium {
		t.Errorf("burst level = %s, want medium", burst.Level)
	}
	if !burst.AutoMitigated || burst.Mitigation != security.ActionAlertSent {
		t.Errorf("burst mitigation = %v/%s, want auto alert_sent", burst.AutoMitigated, burst.Mitigation)
	}

	spike := byType[security.ThreatErrorRateSpike]
	if spike == nil {
		t.Fatal("missing error rate threat")
	}
	if spike.Mitigation != security.ActionCircuitBreakerTriggered {
		t.Errorf("spike mitigation = %s, want circuit_breaker_triggered", spike.Mitigation)
	}

	// Both threats are persisted and indexed under the contract.
	ids, err := svc.ContractThreats(ctx, "c1")
	if err != nil || len(ids) != 2 {
		t.Fatalf("contract threats = %v (err %v), want 2 ids", ids, err)
	}
	if got := bus.byEvent(security.EventThreatDetected); len(got) != 2 {
		t.Errorf("threat_detected events = %d, want 2", len(got))
	}
	if got := bus.byEvent(security.EventThreatMitigated); len(got) != 2 {
		t.Errorf("threat_mitigated events = %d, want 2", len(got))
	}
}

func TestScanForThreatsQuietWindow(t *testing.T) {
	svc, _, _, bus := initializedService(t)

	threats, err := svc.ScanForThreats(context.Background(), "c1", time.Minute)
	if err != nil {
		t.Fatalf("ScanForThreats: %v", err)
	}
	if len(threats) != 0 {
		t.Errorf("threats = %d, want 0", len(threats))
	}
	if got := bus.byEvent(security.EventThreatDetected); len(got) != 0 {
		t.Errorf("threat_detected events = %d, want 0", len(got))
	}
}

func TestScanForThreatsAutoMitigationDisabled(t *testing.T) {
	svc, ms, clock, _ := serviceFixture(t)
	ctx := context.Background()

	cfg := security.DefaultConfig()
	cfg.AutoMitigationEnabled = false
	if err := svc.Initialize(ctx, "admin-1", cfg); err != nil {
		t.Fatal(err)
	}

	windowID := security.WindowID(clock.Now(), security.MetricsWindow)
	if err := ms.SetMetrics(ctx, &security.Metrics{WindowID: windowID, Contract: "c1", TotalEvents: 250}); err != nil {
		t.Fatal(err)
	}

	threats, err := svc.ScanForThreats(ctx, "c1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(threats) != 1 {
		t.Fatalf("threats = %d, want 1", len(threats))
	}
	if threats[0].AutoMitigated || threats[0].Mitigation != security.ActionNone {
		t.Errorf("threat mitigated despite disabled auto-mitigation: %+v", threats[0])
	}
}

func TestApplyMitigation(t *testing.T) {
	svc, ms, _, bus := initializedService(t)
	ctx := context.Background()

	th := &security.Threat{ID: "t1", Type: security.ThreatAccessViolation, Level: security.LevelHigh, Contract: "c1", Mitigation: security.ActionNone}
	if err := ms.SetThreat(ctx, th); err != nil {
		t.Fatal(err)
	}

	if err := svc.ApplyMitigation(ctx, "admin-1", "t1", security.ActionLockAccount); err != nil {
		t.Fatalf("ApplyMitigation: %v", err)
	}

	got, err := svc.Threat(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.AutoMitigated || got.Mitigation != security.ActionLockAccount {
		t.Errorf("threat after mitigation = %v/%s, want mitigated lock_account", got.AutoMitigated, got.Mitigation)
	}

	events := bus.byEvent(security.EventThreatMitigated)
	if len(events) != 1 {
		t.Fatalf("threat_mitigated events = %d, want 1", len(events))
	}
	payload, ok := events[0].Payload.(security.ThreatMitigatedEvent)
	if !ok {
		t.Fatalf("payload type %T", events[0].Payload)
	}
	if payload.MitigatedBy != "admin-1" {
		t.Errorf("mitigated_by = %q, want admin-1", payload.MitigatedBy)
	}

	if err := svc.ApplyMitigation(ctx, "admin-1", "missing", security.ActionAlertSent); !errors.Is(err, security.ErrThreatNotFound) {
		t.Errorf("missing threat error = %v, want ErrThreatNotFound", err)
	}
}

func TestAuthorizerGatesAdminOperations(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := security.NewService(ms, security.ServiceOptions{Authz: denyAll{}})
	ctx := context.Background()

	if err := svc.Initialize(ctx, "admin-1", nil); err != nil {
		t.Fatal(err)
	}

	if err := svc.UpdateConfig(ctx, "mallory", security.DefaultConfig()); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("UpdateConfig error = %v, want ErrUnauthorized", err)
	}
	if err := svc.RegisterOracle(ctx, "mallory", "oracle-1"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("RegisterOracle error = %v, want ErrUnauthorized", err)
	}
	if err := svc.ResetCircuitBreaker(ctx, "mallory", "c1", "f"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("ResetCircuitBreaker error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.ReportIncident(ctx, "mallory", nil, "none"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("ReportIncident error = %v, want ErrUnauthorized", err)
	}
}

func TestReportThreatRequiresRegisteredOracle(t *testing.T) {
	svc, _, _, _ := initializedService(t)
	ctx := context.Background()

	th := &security.Threat{Type: security.ThreatBehavioralAnomaly, Level: security.LevelHigh, Contract: "c1", Actor: "suspect"}
	if _, err := svc.ReportThreat(ctx, "unregistered", th); !errors.Is(err, security.ErrUnauthorized) {
		t.Fatalf("unregistered oracle error = %v, want ErrUnauthorized", err)
	}

	if err := svc.RegisterOracle(ctx, "admin-1", "oracle-1"); err != nil {
		t.Fatal(err)
	}

	stored, err := svc.ReportThreat(ctx, "oracle-1", th)
	if err != nil {
		t.Fatalf("ReportThreat: %v", err)
	}
	if stored.ID == "" {
		t.Error("stored threat should get a fresh ID")
	}
	if stored.Actor != "suspect" || stored.Contract != "c1" {
		t.Errorf("stored threat lost reporter fields: %+v", stored)
	}
	// Oracle-sourced threats auto-mitigate like any other detection.
	if stored.Mitigation == security.ActionNone {
		t.Error("oracle threat should receive a mitigation action")
	}
}

func TestReportThreatDefaultsInvalidLevel(t *testing.T) {
	svc, _, _, _ := initializedService(t)
	ctx := context.Background()
	if err := svc.RegisterOracle(ctx, "admin-1", "oracle-1"); err != nil {
		t.Fatal(err)
	}

	th := &security.Threat{Type: security.ThreatCredentialFraud, Level: security.ThreatLevel(42), Contract: "c1"}
	stored, err := svc.ReportThreat(ctx, "oracle-1", th)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Level != security.LevelMedium {
		t.Errorf("level = %s, want medium default", stored.Level)
	}
}

func TestCheckRateLimit(t *testing.T) {
	svc, _, clock, bus := serviceFixture(t)
	ctx := context.Background()

	cfg := security.DefaultConfig()
	cfg.RateLimitPerWindow = 2
	cfg.RateLimitWindow = time.Hour
	if err := svc.Initialize(ctx, "admin-1", cfg); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := svc.CheckRateLimit(ctx, "actor-1", "c1")
		if err != nil {
			t.Fatal(err)
		}
		if !allowed {
			t.Fatalf("call %d should be within quota", i+1)
		}
	}

	allowed, err := svc.CheckRateLimit(ctx, "actor-1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Error("third call should exceed the quota")
	}
	if got := bus.byEvent(security.EventRateLimitExceeded); len(got) != 1 {
		t.Errorf("rate_limit events = %d, want 1", len(got))
	}

	// Other actors have independent quotas.
	if allowed, _ := svc.CheckRateLimit(ctx, "actor-2", "c1"); !allowed {
		t.Error("different actor should have its own quota")
	}

	// A new window resets the count.
	clock.Advance(time.Hour)
	if allowed, _ := svc.CheckRateLimit(ctx, "actor-1", "c1"); !allowed {
		t.Error("new window should admit the actor again")
	}
}

func TestCheckRateLimitConcurrent(t *testing.T) {
	const workers = 16
	svc, _, _, _ := serviceFixture(t)
	ctx := context.Background()

	cfg := security.DefaultConfig()
	cfg.RateLimitPerWindow = workers / 2
	cfg.RateLimitWindow = time.Hour
	if err := svc.Initialize(ctx, "admin-1", cfg); err != nil {
		t.Fatal(err)
	}

	var admitted atomic.Uint32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, err := svc.CheckRateLimit(ctx, "actor-1", "c1")
			if err != nil {
				t.Error(err)
				return
			}
			if allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// The attempt is counted atomically, so racing callers at the quota
	// boundary cannot over-admit.
	if got := admitted.Load(); got != workers/2 {
		t.Errorf("admitted = %d, want %d", got, workers/2)
	}
}

func TestUpdateConfig(t *testing.T) {
	svc, _, _, bus := initializedService(t)
	ctx := context.Background()

	cfg := security.DefaultConfig()
	cfg.BurstDetectionThreshold = 500
	if err := svc.UpdateConfig(ctx, "admin-1", cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	got, err := svc.GetConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.BurstDetectionThreshold != 500 {
		t.Errorf("burst threshold = %d, want 500", got.BurstDetectionThreshold)
	}
	if events := bus.byEvent(security.EventConfigUpdated); len(events) != 1 {
		t.Errorf("config_updated events = %d, want 1", len(events))
	}

	bad := security.DefaultConfig()
	bad.RateLimitWindow = 0
	if err := svc.UpdateConfig(ctx, "admin-1", bad); !errors.Is(err, security.ErrInvalidConfiguration) {
		t.Errorf("invalid config error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestRecommendationLifecycle(t *testing.T) {
	svc, ms, _, bus := initializedService(t)
	ctx := context.Background()

	th := &security.Threat{ID: "t1", Type: security.ThreatErrorRateSpike, Level: security.LevelHigh, Contract: "c1"}
	if err := ms.SetThreat(ctx, th); err != nil {
		t.Fatal(err)
	}

	recs, err := svc.GenerateRecommendations(ctx, "t1")
	if err != nil {
		t.Fatalf("GenerateRecommendations: %v", err)
	}
	// Error rate spikes yield validation review plus breaker adoption.
	if len(recs) != 2 {
		t.Fatalf("recommendations = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.ThreatID != "t1" {
			t.Errorf("recommendation threat id = %q, want t1", r.ThreatID)
		}
		if r.Severity != security.LevelHigh {
			t.Errorf("severity = %s, want high (inherited)", r.Severity)
		}
		if r.Acknowledged {
			t.Error("fresh recommendation should be unacknowledged")
		}
	}
	if got := bus.byEvent(security.EventRecommendation); len(got) != 2 {
		t.Errorf("recommendation events = %d, want 2", len(got))
	}

	listed, err := svc.Recommendations(ctx, "t1")
	if err != nil || len(listed) != 2 {
		t.Fatalf("Recommendations = %d (err %v), want 2", len(listed), err)
	}

	if err := svc.AcknowledgeRecommendation(ctx, "admin-1", recs[0].ID); err != nil {
		t.Fatalf("AcknowledgeRecommendation: %v", err)
	}
	got, _, err := ms.Recommendation(ctx, recs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Acknowledged {
		t.Error("recommendation should be acknowledged")
	}

	if err := svc.AcknowledgeRecommendation(ctx, "admin-1", "missing"); !errors.Is(err, security.ErrRecommendationNotFound) {
		t.Errorf("missing recommendation error = %v, want ErrRecommendationNotFound", err)
	}
	if _, err := svc.GenerateRecommendations(ctx, "missing"); !errors.Is(err, security.ErrThreatNotFound) {
		t.Errorf("missing threat error = %v, want ErrThreatNotFound", err)
	}
}

func TestCalculateSecurityMetricsPersists(t *testing.T) {
	ms := store.NewMemoryStore()
	clock := newFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := security.NewService(ms, security.ServiceOptions{
		Counter: fixedCounter{total: 100, errs: 10, actors: 5},
		Clock:   clock,
	})
	ctx := context.Background()
	if err := svc.Initialize(ctx, "admin-1", nil); err != nil {
		t.Fatal(err)
	}

	m, err := svc.CalculateSecurityMetrics(ctx, "c1", time.Hour)
	if err != nil {
		t.Fatalf("CalculateSecurityMetrics: %v", err)
	}
	if m.ErrorRate != 10 {
		t.Errorf("error rate = %d, want 10", m.ErrorRate)
	}

	stored, err := svc.SecurityMetrics(ctx, "c1", m.WindowID)
	if err != nil {
		t.Fatalf("SecurityMetrics: %v", err)
	}
	if stored.SecurityScore != 90 {
		t.Errorf("stored score = %d, want 90", stored.SecurityScore)
	}

	if _, err := svc.SecurityMetrics(ctx, "c1", m.WindowID+1); !errors.Is(err, security.ErrMetricsNotFound) {
		t.Errorf("missing window error = %v, want ErrMetricsNotFound", err)
	}
}

func TestUpdateUserRiskScore(t *testing.T) {
	svc, ms, _, bus := initializedService(t)
	ctx := context.Background()

	if err := svc.UpdateUserRiskScore(ctx, "admin-1", "user-1", 150, "credential_stuffing"); err != nil {
		t.Fatalf("UpdateUserRiskScore: %v", err)
	}

	rs, ok, err := ms.RiskScore(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("risk score missing: ok=%v err=%v", ok, err)
	}
	if rs.Score != 100 {
		t.Errorf("score = %d, want clamped 100", rs.Score)
	}
	if len(rs.RiskFactors) != 1 || rs.RiskFactors[0] != "credential_stuffing" {
		t.Errorf("risk factors = %v, want [credential_stuffing]", rs.RiskFactors)
	}

	// Factors accumulate across updates.
	if err := svc.UpdateUserRiskScore(ctx, "admin-1", "user-1", 40, "cleared_review"); err != nil {
		t.Fatal(err)
	}
	rs, _, _ = ms.RiskScore(ctx, "user-1")
	if rs.Score != 40 || len(rs.RiskFactors) != 2 {
		t.Errorf("after second update = %d/%v", rs.Score, rs.RiskFactors)
	}
	if got := bus.byEvent(security.EventRiskScoreUpdated); len(got) != 2 {
		t.Errorf("risk score events = %d, want 2", len(got))
	}
}

func TestAddThreatIntelligence(t *testing.T) {
	svc, ms, clock, bus := initializedService(t)
	ctx := context.Background()

	ti := &security.ThreatIntelligence{
		Source:         "partner_api",
		IndicatorType:  "address",
		IndicatorValue: "GABC...XYZ",
		Level:          security.LevelHigh,
	}
	if err := svc.AddThreatIntelligence(ctx, "admin-1", ti); err != nil {
		t.Fatalf("AddThreatIntelligence: %v", err)
	}
	if !ti.AddedAt.Equal(clock.Now()) {
		t.Error("AddedAt should be stamped by the service clock")
	}

	stored, ok, err := ms.ThreatIntel(ctx, "address")
	if err != nil || !ok {
		t.Fatalf("intel missing: ok=%v err=%v", ok, err)
	}
	if stored.IndicatorValue != "GABC...XYZ" {
		t.Errorf("indicator = %q", stored.IndicatorValue)
	}
	if got := bus.byEvent(security.EventIntelAdded); len(got) != 1 {
		t.Errorf("intel events = %d, want 1", len(got))
	}
}

func TestReportIncident(t *testing.T) {
	svc, ms, _, bus := initializedService(t)
	ctx := context.Background()

	mitigated := &security.Threat{ID: "t1", Type: security.ThreatBurstActivity, Level: security.LevelHigh, Contract: "c1", Mitigation: security.ActionRateLimitApplied}
	unmitigated := &security.Threat{ID: "t2", Type: security.ThreatValidationFailure, Level: security.LevelLow, Contract: "c1", Mitigation: security.ActionNone}
	for _, th := range []*security.Threat{mitigated, unmitigated} {
		if err := ms.SetThreat(ctx, th); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.ReportIncident(ctx, "admin-1", []string{"t1", "t2"}, "burst traffic degraded service")
	if err != nil {
		t.Fatalf("ReportIncident: %v", err)
	}
	if report.Status != security.IncidentOpen {
		t.Errorf("status = %s, want open", report.Status)
	}
	// Only real mitigations are collected as actions taken.
	if len(report.ActionsTaken) != 1 || report.ActionsTaken[0] != security.ActionRateLimitApplied {
		t.Errorf("actions = %v, want [rate_limit_applied]", report.ActionsTaken)
	}

	got, err := svc.Incident(ctx, report.ID)
	if err != nil {
		t.Fatalf("Incident: %v", err)
	}
	if got.ImpactSummary != "burst traffic degraded service" {
		t.Errorf("impact = %q", got.ImpactSummary)
	}

	if _, err := svc.ReportIncident(ctx, "admin-1", []string{"missing"}, "x"); !errors.Is(err, security.ErrThreatNotFound) {
		t.Errorf("missing threat error = %v, want ErrThreatNotFound", err)
	}
	if _, err := svc.Incident(ctx, "missing"); !errors.Is(err, security.ErrIncidentNotFound) {
		t.Errorf("missing incident error = %v, want ErrIncidentNotFound", err)
	}
	if events := bus.byEvent(security.EventIncidentReported); len(events) != 1 {
		t.Errorf("incident events = %d, want 1", len(events))
	}
}
