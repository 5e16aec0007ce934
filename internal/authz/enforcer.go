// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Package authz provides the capability-check collaborator for admin and
// oracle operations, implemented with Casbin RBAC. The security core calls
// Require before privileged operations and propagates denials without
// inspecting them.
package authz

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/corvexa/watchtower/internal/security"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Config holds the enforcer configuration.
type Config struct {
	// ModelPath and PolicyPath override the embedded model/policy files.
	ModelPath  string
	PolicyPath string

	// AdminSubjects are granted role:admin at startup.
	AdminSubjects []string

	// OracleSubjects are granted role:oracle at startup.
	OracleSubjects []string
}

// Enforcer wraps a Casbin enforcer as a security.Authorizer.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer creates an authorization enforcer. With empty paths it uses
// the embedded model and policy.
func NewEnforcer(cfg Config) (*Enforcer, error) {
	var m model.Model
	var err error
	if cfg.ModelPath != "" {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	e := &Enforcer{enforcer: enforcer}
	for _, sub := range cfg.AdminSubjects {
		if err := e.GrantRole(sub, "admin"); err != nil {
			return nil, err
		}
	}
	for _, sub := range cfg.OracleSubjects {
		if err := e.GrantRole(sub, "oracle"); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch parts[0] {
		case "p":
			if len(parts) < 4 {
				continue
			}
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("add policy %q: %w", line, err)
			}
		case "g":
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("add grouping %q: %w", line, err)
			}
		}
	}
	return nil
}

// GrantRole assigns a role (admin, oracle) to a subject.
func (e *Enforcer) GrantRole(subject, role string) error {
	if _, err := e.enforcer.AddRoleForUser(subject, "role:"+role); err != nil {
		return fmt.Errorf("grant role %s to %s: %w", role, subject, err)
	}
	return nil
}

// RevokeRole removes a role from a subject.
func (e *Enforcer) RevokeRole(subject, role string) error {
	if _, err := e.enforcer.DeleteRoleForUser(subject, "role:"+role); err != nil {
		return fmt.Errorf("revoke role %s from %s: %w", role, subject, err)
	}
	return nil
}

// Require implements security.Authorizer. It returns nil when subject may
// perform action on resource and security.ErrUnauthorized otherwise.
func (e *Enforcer) Require(ctx context.Context, subject, resource, action string) error {
	allowed, err := e.enforcer.Enforce(subject, resource, action)
	if err != nil {
		return fmt.Errorf("enforce: %w", err)
	}
	if !allowed {
		return security.ErrUnauthorized
	}
	return nil
}

var _ security.Authorizer = (*Enforcer)(nil)
