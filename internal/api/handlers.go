// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/corvexa/watchtower/internal/security"
)

// SubjectHeader carries the caller identity used for authorization.
const SubjectHeader = "X-Watchtower-Subject"

// Handler exposes the security service over HTTP.
type Handler struct {
	svc *security.Service
}

// NewHandler creates a Handler backed by svc.
func NewHandler(svc *security.Service) *Handler {
	return &Handler{svc: svc}
}

func subject(r *http.Request) string {
	if s := r.Header.Get(SubjectHeader); s != "" {
		return s
	}
	return "anonymous"
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// windowParam parses the optional "window" query parameter as a Go
// duration, defaulting to the fixed metrics window.
func windowParam(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return security.MetricsWindow, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: invalid window %q", errBadRequest, raw)
	}
	return d, nil
}

type initializeRequest struct {
	Admin  string           `json:"admin"`
	Config *security.Config `json:"config,omitempty"`
}

// Initialize seeds the monitor with an admin subject and optional
// starting configuration.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Admin == "" {
		respondError(w, r, fmt.Errorf("%w: admin is required", errBadRequest))
		return
	}
	if err := h.svc.Initialize(r.Context(), req.Admin, req.Config); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"admin": req.Admin})
}

// GetConfig returns the active detection configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetConfig(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// UpdateConfig replaces the detection configuration. Admin only.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg security.Config
	if err := decode(r, &cfg); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.svc.UpdateConfig(r.Context(), subject(r), &cfg); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &cfg)
}

// Scan runs burst and error-rate detection for a contract and records
// any threats found.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	threats, err := h.svc.ScanForThreats(r.Context(), chi.URLParam(r, "contract"), window)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, threats)
}

// ContractThreats lists the threat IDs recorded for a contract.
func (h *Handler) ContractThreats(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.ContractThreats(r.Context(), chi.URLParam(r, "contract"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ids)
}

// Threat returns a single threat by ID.
func (h *Handler) Threat(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Threat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// ReportThreat ingests a threat from a registered oracle.
func (h *Handler) ReportThreat(w http.ResponseWriter, r *http.Request) {
	var t security.Threat
	if err := decode(r, &t); err != nil {
		respondError(w, r, err)
		return
	}
	stored, err := h.svc.ReportThreat(r.Context(), subject(r), &t)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, stored)
}

type mitigateRequest struct {
	Action security.MitigationAction `json:"action"`
}

// Mitigate applies a mitigation action to an existing threat.
func (h *Handler) Mitigate(w http.ResponseWriter, r *http.Request) {
	var req mitigateRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.ApplyMitigation(r.Context(), subject(r), id, req.Action); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"threat_id": id, "action": string(req.Action)})
}

// Metrics returns the stored aggregate for a contract and window id.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	windowID, err := strconv.ParseInt(chi.URLParam(r, "window"), 10, 64)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid window id", errBadRequest))
		return
	}
	m, err := h.svc.SecurityMetrics(r.Context(), chi.URLParam(r, "contract"), windowID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// CalculateMetrics computes and persists the current-window aggregate.
func (h *Handler) CalculateMetrics(w http.ResponseWriter, r *http.Request) {
	window, err := windowParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	m, err := h.svc.CalculateSecurityMetrics(r.Context(), chi.URLParam(r, "contract"), window)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// BreakerState returns the current circuit breaker record.
func (h *Handler) BreakerState(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.CheckCircuitBreaker(r.Context(), chi.URLParam(r, "contract"), chi.URLParam(r, "function"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type breakerEventRequest struct {
	Success bool `json:"success"`
}

type breakerEventResponse struct {
	Allowed bool `json:"allowed"`
}

// BreakerEvent records a call outcome against the breaker and reports
// whether the call was admitted.
func (h *Handler) BreakerEvent(w http.ResponseWriter, r *http.Request) {
	var req breakerEventRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	allowed, err := h.svc.RecordCircuitBreakerEvent(
		r.Context(), chi.URLParam(r, "contract"), chi.URLParam(r, "function"), req.Success)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &breakerEventResponse{Allowed: allowed})
}

// BreakerReset forces a breaker back to closed. Admin only.
func (h *Handler) BreakerReset(w http.ResponseWriter, r *http.Request) {
	contract := chi.URLParam(r, "contract")
	function := chi.URLParam(r, "function")
	if err := h.svc.ResetCircuitBreaker(r.Context(), subject(r), contract, function); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"contract": contract, "function": function, "state": string(security.CircuitClosed)})
}

// Recommendations lists the recommendations generated for a threat.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.Recommendations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

// GenerateRecommendations derives remediation advice for a threat.
func (h *Handler) GenerateRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.GenerateRecommendations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, recs)
}

// AcknowledgeRecommendation marks a recommendation as handled.
func (h *Handler) AcknowledgeRecommendation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.AcknowledgeRecommendation(r.Context(), subject(r), id); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

type rateLimitRequest struct {
	Actor    string `json:"actor"`
	Contract string `json:"contract"`
}

type rateLimitResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckRateLimit consumes one slot from the actor's window allowance.
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	allowed, err := h.svc.CheckRateLimit(r.Context(), req.Actor, req.Contract)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &rateLimitResponse{Allowed: allowed})
}

type registerOracleRequest struct {
	Oracle string `json:"oracle"`
}

// RegisterOracle authorizes an external reporter. Admin only.
func (h *Handler) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	var req registerOracleRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Oracle == "" {
		respondError(w, r, fmt.Errorf("%w: oracle is required", errBadRequest))
		return
	}
	if err := h.svc.RegisterOracle(r.Context(), subject(r), req.Oracle); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"oracle": req.Oracle})
}

// AddThreatIntelligence stores an indicator of compromise.
func (h *Handler) AddThreatIntelligence(w http.ResponseWriter, r *http.Request) {
	var ti security.ThreatIntelligence
	if err := decode(r, &ti); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.svc.AddThreatIntelligence(r.Context(), subject(r), &ti); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, &ti)
}

type riskScoreRequest struct {
	User       string `json:"user"`
	Score      uint32 `json:"score"`
	RiskFactor string `json:"risk_factor"`
}

// UpdateRiskScore records a user's new risk score.
func (h *Handler) UpdateRiskScore(w http.ResponseWriter, r *http.Request) {
	var req riskScoreRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.svc.UpdateUserRiskScore(r.Context(), subject(r), req.User, req.Score, req.RiskFactor); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user": req.User})
}

type incidentRequest struct {
	ThreatIDs []string `json:"threat_ids"`
	Impact    string   `json:"impact"`
}

// ReportIncident bundles threats into an incident report. Admin only.
func (h *Handler) ReportIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentRequest
	if err := decode(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	inc, err := h.svc.ReportIncident(r.Context(), subject(r), req.ThreatIDs, req.Impact)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, inc)
}

// Incident returns a stored incident report by ID.
func (h *Handler) Incident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.Incident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
