// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import "errors"

// Sentinel errors for the security core. Detection functions do not error on
// absent or below-threshold metrics; that is the expected no-threat case.
var (
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("security: already initialized")

	// ErrNotInitialized is returned when config or admin is missing. It is
	// fatal to the calling operation; Initialize must run first.
	ErrNotInitialized = errors.New("security: not initialized")

	// ErrUnauthorized is returned when the capability check denies an
	// admin- or oracle-only operation.
	ErrUnauthorized = errors.New("security: unauthorized")

	// ErrInvalidConfiguration is returned for configurations that would
	// disable detection (zero thresholds or windows).
	ErrInvalidConfiguration = errors.New("security: invalid configuration")

	// ErrThreatNotFound is returned for lookups of unknown threat IDs.
	ErrThreatNotFound = errors.New("security: threat not found")

	// ErrCircuitBreakerNotFound is returned by Reset on a breaker that has
	// never been touched. Callers may treat it as a no-op.
	ErrCircuitBreakerNotFound = errors.New("security: circuit breaker not found")

	// ErrMetricsNotFound is returned for lookups of windows that were never
	// calculated.
	ErrMetricsNotFound = errors.New("security: metrics not found")

	// ErrRecommendationNotFound is returned for unknown recommendation IDs.
	ErrRecommendationNotFound = errors.New("security: recommendation not found")

	// ErrIncidentNotFound is returned for unknown incident report IDs.
	ErrIncidentNotFound = errors.New("security: incident report not found")
)
