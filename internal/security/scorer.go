// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

// Score derives a 0-100 security health score from a window's integer error
// rate percentage and threat count: start at 100, subtract the error rate
// capped at 50, subtract 5 per threat capped at 50, floor at 0. Monotonically
// non-increasing in both inputs.
func Score(errorRate, threatCount uint32) uint32 {
	score := uint32(100)

	penalty := errorRate
	if penalty > 50 {
		penalty = 50
	}
	score -= penalty

	threatPenalty := threatCount * 5
	if threatPenalty > 50 {
		threatPenalty = 50
	}
	if threatPenalty > score {
		return 0
	}
	return score - threatPenalty
}
