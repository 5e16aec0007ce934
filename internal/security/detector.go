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

	"github.com/corvexa/watchtower/internal/metrics"
)

// Detector classifies stored window metrics into threats. Each detection
// function is pure given the stored metrics and config: absence of metrics
// for a window is "no signal", never a synthesized threat.
type Detector struct {
	store   Store
	counter EventCounter
	clock   Clock
}

// NewDetector creates a detector. counter may be nil when no external event
// aggregation is available; calculated windows then carry zero counts.
func NewDetector(store Store, counter EventCounter, clock Clock) *Detector {
	if clock == nil {
		clock = SystemClock
	}
	return &Detector{store: store, counter: counter, clock: clock}
}

// DetectBurstActivity raises a threat when the current window's event count
// exceeds the configured burst threshold. Severity scales with the integer
// ratio count/threshold: >=10 Critical, >=5 High, >=2 Medium, else Low.
func (d *Detector) DetectBurstActivity(ctx context.Context, contract string, window time.Duration) (*Threat, error) {
	cfg, ok, err := d.store.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}

	now := d.clock.Now()
	windowID := WindowID(now, MetricsWindow)

	m, ok, err := d.store.Metrics(ctx, contract, windowID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if !ok {
		// No metrics yet: no signal, no false positive.
		return nil, nil
	}

	if m.TotalEvents <= cfg.BurstDetectionThreshold {
		return nil, nil
	}

	return &Threat{
		ID:             newThreatID(),
		Type:           ThreatBurstActivity,
		Level:          classifyBurst(m.TotalEvents, cfg.BurstDetectionThreshold),
		DetectedAt:     now,
		Contract:       contract,
		Description:    "Burst activity detected",
		MetricValue:    m.TotalEvents,
		ThresholdValue: cfg.BurstDetectionThreshold,
		Mitigation:     ActionNone,
	}, nil
}

// DetectErrorRateSpike raises a threat when a window's error rate exceeds the
// configured threshold. Severity bands are absolute percentages: >50 Critical,
// >30 High, >20 Medium, else Low.
func (d *Detector) DetectErrorRateSpike(ctx context.Context, contract string, windowID int64) (*Threat, error) {
	cfg, ok, err := d.store.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialized
	}

	m, ok, err := d.store.Metrics(ctx, contract, windowID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if !ok {
		return nil, nil
	}

	if m.ErrorRate <= cfg.ErrorRateThreshold {
		return nil, nil
	}

	var level ThreatLevel
	switch {
	case m.ErrorRate > 50:
		level = LevelCritical
	case m.ErrorRate > 30:
		level = LevelHigh
	case m.ErrorRate > 20:
		level = LevelMedium
	default:
		level = LevelLow
	}

	return &Threat{
		ID:             newThreatID(),
		Type:           ThreatErrorRateSpike,
		Level:          level,
		DetectedAt:     d.clock.Now(),
		Contract:       contract,
		Description:    "Error rate spike detected",
		MetricValue:    m.ErrorRate,
		ThresholdValue: cfg.ErrorRateThreshold,
		Mitigation:     ActionNone,
	}, nil
}

// CalculateMetrics aggregates the contract's recorded threats whose detection
// time falls in [start, end] and combines them with event counts from the
// external counter into a stored-shape Metrics window. The caller decides
// whether to persist the result.
func (d *Detector) CalculateMetrics(ctx context.Context, contract string, start, end time.Time, windowID int64) (*Metrics, error) {
	ids, err := d.store.ContractThreats(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("load contract threats: %w", err)
	}

	var threatCount uint32
	highest := LevelLow
	for _, id := range ids {
		t, ok, err := d.store.Threat(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load threat %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if t.DetectedAt.Before(start) || t.DetectedAt.After(end) {
			continue
		}
		threatCount++
		if t.Level > highest {
			highest = t.Level
		}
	}

	var total, errs, actors, violations uint32
	if d.counter != nil {
		total, errs, actors, violations, err = d.counter.Counts(ctx, contract, start, end)
		if err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
	}

	var errorRate uint32
	if total > 0 {
		errorRate = errs * 100 / total
	}

	score := Score(errorRate, threatCount)
	metrics.SecurityScore.WithLabelValues(contract).Set(float64(score))

	return &Metrics{
		WindowID:           windowID,
		Contract:           contract,
		StartTime:          start,
		EndTime:            end,
		TotalEvents:        total,
		ErrorEvents:        errs,
		ErrorRate:          errorRate,
		UniqueActors:       actors,
		AccessViolations:   violations,
		ThreatCount:        threatCount,
		HighestThreatLevel: highest,
		SecurityScore:      score,
	}, nil
}

func classifyBurst(count, threshold uint32) ThreatLevel {
	ratio := count / threshold
	switch {
	case ratio >= 10:
		return LevelCritical
	case ratio >= 5:
		return LevelHigh
	case ratio >= 2:
		return LevelMedium
	default:
		return LevelLow
	}
}

// newThreatID returns a collision-resistant identifier. UUIDs stay unique
// under identical timestamps, which timestamp-derived IDs do not.
func newThreatID() string {
	return uuid.NewString()
}
