// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corvexa/watchtower/internal/logging"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	RequestLimit  int
	RequestWindow time.Duration
}

// NewRouter builds the Chi route tree for the admin API.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = 120
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = time.Minute
	}

	r := chi.NewRouter()

	r.Use(correlationID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			cfg.RequestLimit,
			cfg.RequestWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))

		r.Post("/initialize", h.Initialize)
		r.Get("/config", h.GetConfig)
		r.Put("/config", h.UpdateConfig)

		r.Route("/contracts/{contract}", func(r chi.Router) {
			r.Post("/scan", h.Scan)
			r.Get("/threats", h.ContractThreats)
			r.Get("/metrics/{window}", h.Metrics)
			r.Post("/metrics", h.CalculateMetrics)
		})

		r.Route("/threats", func(r chi.Router) {
			r.Post("/", h.ReportThreat)
			r.Get("/{id}", h.Threat)
			r.Post("/{id}/mitigate", h.Mitigate)
			r.Get("/{id}/recommendations", h.Recommendations)
			r.Post("/{id}/recommendations", h.GenerateRecommendations)
		})

		r.Post("/recommendations/{id}/acknowledge", h.AcknowledgeRecommendation)

		r.Route("/breakers/{contract}/{function}", func(r chi.Router) {
			r.Get("/", h.BreakerState)
			r.Post("/events", h.BreakerEvent)
			r.Post("/reset", h.BreakerReset)
		})

		r.Post("/ratelimit/check", h.CheckRateLimit)
		r.Post("/oracles", h.RegisterOracle)
		r.Post("/intel", h.AddThreatIntelligence)
		r.Post("/risk", h.UpdateRiskScore)

		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", h.ReportIncident)
			r.Get("/{id}", h.Incident)
		})
	})

	return r
}

// correlationID stamps each request with a correlation id so log lines
// across the service layer can be tied back to the request.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = logging.GenerateCorrelationID()
		}
		w.Header().Set("X-Correlation-ID", id)
		ctx := logging.ContextWithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
