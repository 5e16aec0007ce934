// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/corvexa/watchtower/internal/metrics"
)

// recommendationTemplate is the static advice attached to a threat type.
type recommendationTemplate struct {
	category      RecommendationCategory
	title         string
	description   string
	fixSuggestion string
}

// templatesFor returns the advice templates for a threat type. Error rate
// spikes yield two recommendations (validation review plus circuit breaker
// adoption); oracle-sourced threats get a generic review prompt.
func templatesFor(tt ThreatType) []recommendationTemplate {
	switch tt {
	case ThreatBurstActivity:
		return []recommendationTemplate{{
			category:      CategoryRateLimiting,
			title:         "Implement Rate Limiting",
			description:   "High burst activity detected. Consider implementing rate limiting to prevent abuse.",
			fixSuggestion: "Gate event ingestion with Service.CheckRateLimit before processing actor requests.",
		}}
	case ThreatAccessViolation:
		return []recommendationTemplate{{
			category:      CategoryAccessControl,
			title:         "Review RBAC Configuration",
			description:   "Access control violations detected. Review role assignments and permissions.",
			fixSuggestion: "Audit current role grants, tighten policy rules, and require capability checks on sensitive operations.",
		}}
	case ThreatReentrancyAttempt:
		return []recommendationTemplate{{
			category:      CategoryReentrancyPrevention,
			title:         "Add Reentrancy Guard",
			description:   "Potential reentrancy detected. Ensure all sensitive functions use reentrancy guards.",
			fixSuggestion: "Serialize sensitive entry points and reject nested invocations for the same caller.",
		}}
	case ThreatValidationFailure:
		return []recommendationTemplate{{
			category:      CategoryInputValidation,
			title:         "Strengthen Input Validation",
			description:   "Input validation failures detected. Add comprehensive input validation.",
			fixSuggestion: "Validate field lengths, ranges and formats at the boundary before persisting or acting on input.",
		}}
	case ThreatErrorRateSpike:
		return []recommendationTemplate{
			{
				category:      CategoryInputValidation,
				title:         "Review Input Validation",
				description:   "High error rate indicates potential input validation issues.",
				fixSuggestion: "Review and strengthen boundary validation on the failing operations.",
			},
			{
				category:      CategoryConfiguration,
				title:         "Implement Circuit Breaker",
				description:   "Consider circuit breaker pattern to prevent cascading failures.",
				fixSuggestion: "Wrap the failing downstream calls with CircuitBreaker.CheckAndRecord to shed load while it recovers.",
			},
		}
	case ThreatAnomalousActor:
		return []recommendationTemplate{{
			category:      CategoryRateLimiting,
			title:         "Implement Per-Actor Rate Limiting",
			description:   "Anomalous actor behavior detected. Implement per-actor rate limits.",
			fixSuggestion: "Track per-actor event counts and enforce per-actor quotas via Service.CheckRateLimit.",
		}}
	case ThreatRateLimitExceeded:
		return []recommendationTemplate{{
			category:      CategoryRateLimiting,
			title:         "Adjust Rate Limit Thresholds",
			description:   "Rate limits are being exceeded. Review and adjust thresholds or investigate actor behavior.",
			fixSuggestion: "Check whether the traffic is legitimate, adjust rate_limit_per_window if so, or restrict the actor.",
		}}
	case ThreatSequenceIntegrityIssue:
		return []recommendationTemplate{{
			category:      CategoryEventIntegrity,
			title:         "Investigate Event Integrity",
			description:   "Event sequence integrity issue detected. Review event emission and ordering.",
			fixSuggestion: "Ensure every state change publishes through the event bus and check for missing emissions.",
		}}
	default:
		// Oracle-sourced threats: behavioral, credential, biometric,
		// known-malicious. The oracle's own analysis carries the detail.
		return []recommendationTemplate{{
			category:      CategoryConfiguration,
			title:         "Review Oracle Security Insight",
			description:   "Please verify the flagged behavior or credential with external evidence.",
			fixSuggestion: "Evaluate the actor's recent activity logs and adjust thresholds if necessary.",
		}}
	}
}

// RecommendationEngine turns threats into stored, human-actionable
// recommendations.
type RecommendationEngine struct {
	store Store
	bus   Bus
	clock Clock
}

// NewRecommendationEngine creates a recommendation engine.
func NewRecommendationEngine(store Store, bus Bus, clock Clock) *RecommendationEngine {
	if bus == nil {
		bus = NoopBus{}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &RecommendationEngine{store: store, bus: bus, clock: clock}
}

// Generate creates, persists and announces the recommendations for a threat.
func (e *RecommendationEngine) Generate(ctx context.Context, t *Threat) ([]*Recommendation, error) {
	now := e.clock.Now()
	templates := templatesFor(t.Type)
	recs := make([]*Recommendation, 0, len(templates))

	for _, tpl := range templates {
		rec := &Recommendation{
			ID:            uuid.NewString(),
			ThreatID:      t.ID,
			Severity:      t.Level,
			Category:      tpl.category,
			Title:         tpl.title,
			Description:   tpl.description,
			FixSuggestion: tpl.fixSuggestion,
			CreatedAt:     now,
		}
		if err := e.store.SetRecommendation(ctx, rec); err != nil {
			return nil, fmt.Errorf("save recommendation: %w", err)
		}

		metrics.RecommendationsGenerated.Inc()
		e.bus.Publish(ctx, topic(EventRecommendation, ""), RecommendationEvent{
			RecommendationID: rec.ID,
			ThreatID:         rec.ThreatID,
			Category:         string(rec.Category),
			Severity:         rec.Severity.String(),
			At:               now,
		})
		recs = append(recs, rec)
	}

	return recs, nil
}
