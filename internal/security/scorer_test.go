// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package security

import "testing"

func TestScore(t *testing.T) {
	tests := []struct {
		name        string
		errorRate   uint32
		threatCount uint32
		want        uint32
	}{
		{"clean window", 0, 0, 100},
		{"error rate only", 20, 0, 80},
		{"error rate capped at 50", 60, 0, 50},
		{"threats only", 0, 4, 80},
		{"threat penalty capped at 50", 0, 12, 50},
		{"combined", 10, 2, 80},
		{"both penalties capped", 80, 20, 0},
		{"floor at zero", 100, 100, 0},
		{"just under caps", 49, 9, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.errorRate, tt.threatCount); got != tt.want {
				t.Errorf("Score(%d, %d) = %d, want %d", tt.errorRate, tt.threatCount, got, tt.want)
			}
		})
	}
}

func TestScoreMonotonicInErrorRate(t *testing.T) {
	prev := Score(0, 0)
	for rate := uint32(1); rate <= 100; rate++ {
		got := Score(rate, 0)
		if got > prev {
			t.Fatalf("Score(%d, 0) = %d increased from %d", rate, got, prev)
		}
		prev = got
	}
}
