// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Package security implements the threat-detection and automated-mitigation
// core: per-contract metrics windows, typed severity-ranked threats, and
// per-(contract,function) circuit breakers that block calls when failure
// rates exceed configured bounds.
//
// Detection Architecture:
//
//	activity counters -> Metrics window -> Detector -> Threat
//	                                          |           |
//	                                          v           v
//	                                       Scorer     Selector -> MitigationAction
//
// Independently of detection, every guarded call site invokes
// CircuitBreaker.CheckAndRecord, which gates the call and records its
// outcome in a single serialized step.
//
// The package is a library-style core. Persistence (Store), event
// publication (Bus), authorization (Authorizer) and raw event counting
// (EventCounter) are collaborator interfaces supplied by the host; the
// badger, NATS and casbin implementations live in sibling packages.
package security
