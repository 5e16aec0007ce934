// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/corvexa/watchtower/internal/security"
)

func TestEnforcerEmbeddedPolicy(t *testing.T) {
	e, err := NewEnforcer(Config{
		AdminSubjects:  []string{"admin-1"},
		OracleSubjects: []string{"oracle-1"},
	})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name     string
		subject  string
		resource string
		action   string
		allowed  bool
	}{
		{"admin updates config", "admin-1", "config", "update", true},
		{"admin resets breakers", "admin-1", "breakers", "reset", true},
		{"admin mitigates threats", "admin-1", "threats", "mitigate", true},
		{"admin registers oracles", "admin-1", "oracles", "register", true},
		{"admin reports incidents", "admin-1", "incidents", "report", true},
		{"admin adds intel", "admin-1", "intel", "add", true},
		{"admin updates risk", "admin-1", "risk", "update", true},
		{"oracle reports threats", "oracle-1", "threats", "report", true},
		{"oracle adds intel", "oracle-1", "intel", "add", true},
		{"oracle updates risk", "oracle-1", "risk", "update", true},
		{"oracle cannot update config", "oracle-1", "config", "update", false},
		{"oracle cannot reset breakers", "oracle-1", "breakers", "reset", false},
		{"admin cannot report threats directly", "admin-1", "threats", "report", false},
		{"stranger denied everything", "mallory", "config", "update", false},
		{"stranger denied threats", "mallory", "threats", "report", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Require(ctx, tt.subject, tt.resource, tt.action)
			if tt.allowed && err != nil {
				t.Errorf("Require(%s, %s, %s) = %v, want allowed", tt.subject, tt.resource, tt.action, err)
			}
			if !tt.allowed && !errors.Is(err, security.ErrUnauthorized) {
				t.Errorf("Require(%s, %s, %s) = %v, want ErrUnauthorized", tt.subject, tt.resource, tt.action, err)
			}
		})
	}
}

func TestEnforcerRoleLifecycle(t *testing.T) {
	e, err := NewEnforcer(Config{})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	ctx := context.Background()

	if err := e.Require(ctx, "new-admin", "config", "update"); !errors.Is(err, security.ErrUnauthorized) {
		t.Fatalf("ungranted subject error = %v, want ErrUnauthorized", err)
	}

	if err := e.GrantRole("new-admin", "admin"); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if err := e.Require(ctx, "new-admin", "config", "update"); err != nil {
		t.Errorf("granted subject denied: %v", err)
	}

	if err := e.RevokeRole("new-admin", "admin"); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if err := e.Require(ctx, "new-admin", "config", "update"); !errors.Is(err, security.ErrUnauthorized) {
		t.Errorf("revoked subject error = %v, want ErrUnauthorized", err)
	}
}
