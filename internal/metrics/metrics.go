// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Package metrics provides Prometheus instrumentation for the security core:
// threat detections, circuit breaker transitions and denials, rate limiting
// and event publication health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_threats_detected_total",
			Help: "Total number of detected security threats",
		},
		[]string{"contract", "threat_type", "threat_level"},
	)

	ThreatsMitigated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_threats_mitigated_total",
			Help: "Total number of mitigated threats by action",
		},
		[]string{"action"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"contract", "to_state"},
	)

	BreakerDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_breaker_denials_total",
			Help: "Total number of calls denied by a circuit breaker",
		},
		[]string{"contract", "function"},
	)

	SecurityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchtower_security_score",
			Help: "Latest calculated security score (0-100) per contract",
		},
		[]string{"contract"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_rate_limit_rejections_total",
			Help: "Total number of actor requests rejected by rate limiting",
		},
		[]string{"contract"},
	)

	RecommendationsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_recommendations_generated_total",
			Help: "Total number of generated security recommendations",
		},
	)

	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_event_publish_failures_total",
			Help: "Total number of failed event bus publishes",
		},
		[]string{"event"},
	)
)
