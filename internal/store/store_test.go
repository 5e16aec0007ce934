// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package store

import (
	"context"
	"testing"
	"time"

	"github.com/corvexa/watchtower/internal/security"
)

// storeUnderTest runs the shared conformance suite against any Store
// implementation.
func storeUnderTest(t *testing.T, s security.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("config singleton", func(t *testing.T) {
		if _, ok, err := s.Config(ctx); err != nil || ok {
			t.Fatalf("empty store Config ok=%v err=%v, want absent", ok, err)
		}
		cfg := security.DefaultConfig()
		cfg.BurstDetectionThreshold = 42
		if err := s.SetConfig(ctx, cfg); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.Config(ctx)
		if err != nil || !ok {
			t.Fatalf("Config ok=%v err=%v", ok, err)
		}
		if got.BurstDetectionThreshold != 42 {
			t.Errorf("burst threshold = %d, want 42", got.BurstDetectionThreshold)
		}
	})

	t.Run("admin singleton", func(t *testing.T) {
		if _, ok, err := s.Admin(ctx); err != nil || ok {
			t.Fatalf("empty store Admin ok=%v err=%v, want absent", ok, err)
		}
		if err := s.SetAdmin(ctx, "admin-1"); err != nil {
			t.Fatal(err)
		}
		admin, ok, err := s.Admin(ctx)
		if err != nil || !ok || admin != "admin-1" {
			t.Errorf("Admin = %q ok=%v err=%v, want admin-1", admin, ok, err)
		}
	})

	t.Run("threats and contract index", func(t *testing.T) {
		if _, ok, err := s.Threat(ctx, "nope"); err != nil || ok {
			t.Fatalf("absent threat ok=%v err=%v", ok, err)
		}

		th := &security.Threat{
			ID:         "t1",
			Type:       security.ThreatBurstActivity,
			Level:      security.LevelHigh,
			Contract:   "c1",
			DetectedAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
			Mitigation: security.ActionNone,
		}
		if err := s.SetThreat(ctx, th); err != nil {
			t.Fatal(err)
		}

		got, ok, err := s.Threat(ctx, "t1")
		if err != nil || !ok {
			t.Fatalf("Threat ok=%v err=%v", ok, err)
		}
		if got.Level != security.LevelHigh || got.Contract != "c1" {
			t.Errorf("threat = %+v", got)
		}

		// Re-storing the same threat must not duplicate the index entry.
		th.Mitigation = security.ActionRateLimitApplied
		if err := s.SetThreat(ctx, th); err != nil {
			t.Fatal(err)
		}
		ids, err := s.ContractThreats(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != "t1" {
			t.Errorf("contract index = %v, want [t1]", ids)
		}

		got, _, _ = s.Threat(ctx, "t1")
		if got.Mitigation != security.ActionRateLimitApplied {
			t.Error("update should overwrite the threat record")
		}
	})

	t.Run("metrics windows", func(t *testing.T) {
		if _, ok, err := s.Metrics(ctx, "c1", 7); err != nil || ok {
			t.Fatalf("absent metrics ok=%v err=%v", ok, err)
		}
		m := &security.Metrics{WindowID: 7, Contract: "c1", TotalEvents: 10, SecurityScore: 95}
		if err := s.SetMetrics(ctx, m); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.Metrics(ctx, "c1", 7)
		if err != nil || !ok {
			t.Fatalf("Metrics ok=%v err=%v", ok, err)
		}
		if got.SecurityScore != 95 {
			t.Errorf("score = %d, want 95", got.SecurityScore)
		}
		// Same window for another contract is independent.
		if _, ok, _ := s.Metrics(ctx, "c2", 7); ok {
			t.Error("metrics should be scoped per contract")
		}
	})

	t.Run("breaker state round trip", func(t *testing.T) {
		if _, ok, err := s.Breaker(ctx, "c1", "f"); err != nil || ok {
			t.Fatalf("absent breaker ok=%v err=%v", ok, err)
		}
		openedAt := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
		b := security.NewBreakerState("c1", "f", 5, 5*time.Minute)
		b.State = security.CircuitOpen
		b.FailureCount = 5
		b.OpenedAt = &openedAt
		if err := s.SetBreaker(ctx, b); err != nil {
			t.Fatal(err)
		}

		got, ok, err := s.Breaker(ctx, "c1", "f")
		if err != nil || !ok {
			t.Fatalf("Breaker ok=%v err=%v", ok, err)
		}
		if got.State != security.CircuitOpen || got.FailureCount != 5 {
			t.Errorf("breaker = %+v", got)
		}
		if got.OpenedAt == nil || !got.OpenedAt.Equal(openedAt) {
			t.Errorf("opened_at = %v, want %v", got.OpenedAt, openedAt)
		}

		// Mutating the returned record must not change stored state.
		got.FailureCount = 99
		*got.OpenedAt = got.OpenedAt.Add(time.Hour)
		again, _, _ := s.Breaker(ctx, "c1", "f")
		if again.FailureCount != 5 || !again.OpenedAt.Equal(openedAt) {
			t.Error("stored breaker mutated through returned pointer")
		}
	})

	t.Run("actor event counters", func(t *testing.T) {
		if n, err := s.ActorEvents(ctx, "actor-1", 100); err != nil || n != 0 {
			t.Fatalf("fresh counter = %d err=%v", n, err)
		}
		for want := uint32(1); want <= 3; want++ {
			n, err := s.IncrementActorEvents(ctx, "actor-1", 100, time.Hour)
			if err != nil || n != want {
				t.Fatalf("increment = %d err=%v, want %d", n, err, want)
			}
		}
		// Different window starts fresh.
		if n, _ := s.ActorEvents(ctx, "actor-1", 101); n != 0 {
			t.Errorf("other window counter = %d, want 0", n)
		}
	})

	t.Run("recommendations and threat index", func(t *testing.T) {
		r := &security.Recommendation{
			ID:       "r1",
			ThreatID: "t1",
			Severity: security.LevelHigh,
			Category: security.CategoryRateLimiting,
			Title:    "Implement Rate Limiting",
		}
		if err := s.SetRecommendation(ctx, r); err != nil {
			t.Fatal(err)
		}
		r.Acknowledged = true
		if err := s.SetRecommendation(ctx, r); err != nil {
			t.Fatal(err)
		}

		ids, err := s.ThreatRecommendations(ctx, "t1")
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 {
			t.Errorf("threat rec index = %v, want one entry", ids)
		}
		got, ok, _ := s.Recommendation(ctx, "r1")
		if !ok || !got.Acknowledged {
			t.Error("recommendation update lost")
		}
	})

	t.Run("oracle registry", func(t *testing.T) {
		if ok, err := s.IsOracle(ctx, "oracle-1"); err != nil || ok {
			t.Fatalf("unregistered oracle ok=%v err=%v", ok, err)
		}
		if err := s.SetOracle(ctx, "oracle-1"); err != nil {
			t.Fatal(err)
		}
		if ok, _ := s.IsOracle(ctx, "oracle-1"); !ok {
			t.Error("oracle should be registered")
		}
	})

	t.Run("threat intel", func(t *testing.T) {
		ti := &security.ThreatIntelligence{
			Source:         "global_list",
			IndicatorType:  "ip",
			IndicatorValue: "203.0.113.7",
			Level:          security.LevelCritical,
		}
		if err := s.SetThreatIntel(ctx, ti); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.ThreatIntel(ctx, "ip")
		if err != nil || !ok {
			t.Fatalf("ThreatIntel ok=%v err=%v", ok, err)
		}
		if got.IndicatorValue != "203.0.113.7" {
			t.Errorf("indicator = %q", got.IndicatorValue)
		}
	})

	t.Run("risk scores", func(t *testing.T) {
		rs := &security.RiskScore{User: "user-1", Score: 70, RiskFactors: []string{"fraud"}}
		if err := s.SetRiskScore(ctx, rs); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.RiskScore(ctx, "user-1")
		if err != nil || !ok {
			t.Fatalf("RiskScore ok=%v err=%v", ok, err)
		}
		if got.Score != 70 || len(got.RiskFactors) != 1 {
			t.Errorf("risk score = %+v", got)
		}
	})

	t.Run("incidents", func(t *testing.T) {
		r := &security.IncidentReport{
			ID:           "i1",
			ThreatIDs:    []string{"t1"},
			ActionsTaken: []security.MitigationAction{security.ActionRateLimitApplied},
			Status:       security.IncidentOpen,
		}
		if err := s.SetIncident(ctx, r); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.Incident(ctx, "i1")
		if err != nil || !ok {
			t.Fatalf("Incident ok=%v err=%v", ok, err)
		}
		if got.Status != security.IncidentOpen || len(got.ActionsTaken) != 1 {
			t.Errorf("incident = %+v", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestBadgerStore(t *testing.T) {
	db, err := Open("") // in-memory
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	storeUnderTest(t, NewBadgerStore(db))
}

func TestBadgerStorePersistsAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := NewBadgerStore(db)
	if err := s.SetAdmin(ctx, "admin-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s = NewBadgerStore(db)

	admin, ok, err := s.Admin(ctx)
	if err != nil || !ok || admin != "admin-1" {
		t.Errorf("reopened Admin = %q ok=%v err=%v, want admin-1", admin, ok, err)
	}
}
