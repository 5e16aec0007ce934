// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

// Selector maps a detected threat to a mitigation action. The mapping is an
// extension point: hosts can substitute their own policy.
type Selector interface {
	Select(t *Threat, cfg *Config) MitigationAction
}

// DefaultSelector is the built-in action policy. Selection is deterministic
// and total: every threat yields exactly one action, with ActionNone when
// auto-mitigation is disabled.
type DefaultSelector struct{}

// Select implements Selector.
func (DefaultSelector) Select(t *Threat, cfg *Config) MitigationAction {
	if cfg == nil || !cfg.AutoMitigationEnabled {
		return ActionNone
	}

	switch t.Type {
	case ThreatRateLimitExceeded:
		return ActionRateLimitApplied
	case ThreatErrorRateSpike:
		// Repeated failures tied to specific functions are the breaker's
		// territory; the breaker trips itself through CheckAndRecord.
		return ActionCircuitBreakerTriggered
	case ThreatAccessViolation, ThreatKnownMaliciousActor:
		if t.Level == LevelCritical {
			return ActionLockAccount
		}
		return ActionAccessRestricted
	case ThreatCredentialFraud, ThreatBiometricFailure:
		return ActionRequireReauth
	default:
		return ActionAlertSent
	}
}
