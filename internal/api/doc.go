// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Package api exposes the security monitor over HTTP using the Chi
// router. It is an administrative surface: every mutating endpoint
// resolves the caller subject from the X-Watchtower-Subject header and
// delegates authorization to the service layer.
package api
