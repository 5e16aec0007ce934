// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/corvexa/watchtower/internal/security"
)

// MemoryStore is a process-local security.Store for tests and single-node
// embedded use. Counter TTLs are ignored; windows age out by window ID.
type MemoryStore struct {
	mu sync.RWMutex

	config *security.Config
	admin  *string

	threats         map[string]security.Threat
	contractThreats map[string][]string
	metrics         map[string]security.Metrics
	breakers        map[string]security.BreakerState
	actorEvents     map[string]uint32
	recommendations map[string]security.Recommendation
	threatRecs      map[string][]string
	oracles         map[string]bool
	intel           map[string]security.ThreatIntelligence
	riskScores      map[string]security.RiskScore
	incidents       map[string]security.IncidentReport
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threats:         make(map[string]security.Threat),
		contractThreats: make(map[string][]string),
		metrics:         make(map[string]security.Metrics),
		breakers:        make(map[string]security.BreakerState),
		actorEvents:     make(map[string]uint32),
		recommendations: make(map[string]security.Recommendation),
		threatRecs:      make(map[string][]string),
		oracles:         make(map[string]bool),
		intel:           make(map[string]security.ThreatIntelligence),
		riskScores:      make(map[string]security.RiskScore),
		incidents:       make(map[string]security.IncidentReport),
	}
}

func (s *MemoryStore) Config(ctx context.Context) (*security.Config, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return nil, false, nil
	}
	cfg := *s.config
	return &cfg, true, nil
}

func (s *MemoryStore) SetConfig(ctx context.Context, cfg *security.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.config = &c
	return nil
}

func (s *MemoryStore) Admin(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.admin == nil {
		return "", false, nil
	}
	return *s.admin, true, nil
}

func (s *MemoryStore) SetAdmin(ctx context.Context, admin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = &admin
	return nil
}

func (s *MemoryStore) Threat(ctx context.Context, id string) (*security.Threat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threats[id]
	if !ok {
		return nil, false, nil
	}
	return &t, true, nil
}

func (s *MemoryStore) SetThreat(ctx context.Context, t *security.Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.threats[t.ID]; !exists {
		s.contractThreats[t.Contract] = append(s.contractThreats[t.Contract], t.ID)
	}
	s.threats[t.ID] = *t
	return nil
}

func (s *MemoryStore) ContractThreats(ctx context.Context, contract string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.contractThreats[contract]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) Metrics(ctx context.Context, contract string, windowID int64) (*security.Metrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[contract+":"+strconv.FormatInt(windowID, 10)]
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

func (s *MemoryStore) SetMetrics(ctx context.Context, m *security.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.Contract+":"+strconv.FormatInt(m.WindowID, 10)] = *m
	return nil
}

func (s *MemoryStore) Breaker(ctx context.Context, contract, function string) (*security.BreakerState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.breakers[contract+":"+function]
	if !ok {
		return nil, false, nil
	}
	// Deep-ish copy so callers cannot mutate stored state in place.
	if b.OpenedAt != nil {
		openedAt := *b.OpenedAt
		b.OpenedAt = &openedAt
	}
	return &b, true, nil
}

func (s *MemoryStore) SetBreaker(ctx context.Context, b *security.BreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *b
	if b.OpenedAt != nil {
		openedAt := *b.OpenedAt
		stored.OpenedAt = &openedAt
	}
	s.breakers[b.Contract+":"+b.Function] = stored
	return nil
}

func (s *MemoryStore) ActorEvents(ctx context.Context, actor string, windowID int64) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actorEvents[actor+":"+strconv.FormatInt(windowID, 10)], nil
}

func (s *MemoryStore) IncrementActorEvents(ctx context.Context, actor string, windowID int64, _ time.Duration) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := actor + ":" + strconv.FormatInt(windowID, 10)
	s.actorEvents[key]++
	return s.actorEvents[key], nil
}

func (s *MemoryStore) Recommendation(ctx context.Context, id string) (*security.Recommendation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recommendations[id]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (s *MemoryStore) SetRecommendation(ctx context.Context, r *security.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recommendations[r.ID]; !exists {
		s.threatRecs[r.ThreatID] = append(s.threatRecs[r.ThreatID], r.ID)
	}
	s.recommendations[r.ID] = *r
	return nil
}

func (s *MemoryStore) ThreatRecommendations(ctx context.Context, threatID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.threatRecs[threatID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) IsOracle(ctx context.Context, oracle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oracles[oracle], nil
}

func (s *MemoryStore) SetOracle(ctx context.Context, oracle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oracles[oracle] = true
	return nil
}

func (s *MemoryStore) ThreatIntel(ctx context.Context, indicatorType string) (*security.ThreatIntelligence, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ti, ok := s.intel[indicatorType]
	if !ok {
		return nil, false, nil
	}
	return &ti, true, nil
}

func (s *MemoryStore) SetThreatIntel(ctx context.Context, ti *security.ThreatIntelligence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intel[ti.IndicatorType] = *ti
	return nil
}

func (s *MemoryStore) RiskScore(ctx context.Context, user string) (*security.RiskScore, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.riskScores[user]
	if !ok {
		return nil, false, nil
	}
	return &rs, true, nil
}

func (s *MemoryStore) SetRiskScore(ctx context.Context, rs *security.RiskScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.riskScores[rs.User] = *rs
	return nil
}

func (s *MemoryStore) Incident(ctx context.Context, id string) (*security.IncidentReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (s *MemoryStore) SetIncident(ctx context.Context, r *security.IncidentReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[r.ID] = *r
	return nil
}

var _ security.Store = (*MemoryStore)(nil)
