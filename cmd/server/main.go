// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

// Command server runs the Watchtower security monitor: a Badger-backed
// threat detection service with an embedded (or external) NATS event
// bus and an HTTP admin API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corvexa/watchtower/internal/api"
	"github.com/corvexa/watchtower/internal/authz"
	"github.com/corvexa/watchtower/internal/config"
	"github.com/corvexa/watchtower/internal/events"
	"github.com/corvexa/watchtower/internal/logging"
	"github.com/corvexa/watchtower/internal/security"
	"github.com/corvexa/watchtower/internal/store"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})
	logging.Info().
		Str("addr", cfg.Server.Addr).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting watchtower")

	// Storage.
	dir := cfg.Storage.Dir
	if cfg.Storage.InMemory {
		dir = ""
	}
	db, err := store.Open(dir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("Failed to close badger")
		}
	}()
	kv := store.NewBadgerStore(db)

	// Event bus.
	var bus security.Bus = security.NoopBus{}
	if cfg.NATS.Enabled {
		natsURL := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := events.NewEmbeddedServer(events.ServerConfig{
				Host:     cfg.NATS.Host,
				Port:     cfg.NATS.Port,
				StoreDir: cfg.NATS.StoreDir,
			})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if serr := ns.Shutdown(sctx); serr != nil {
					logging.Error().Err(serr).Msg("Embedded NATS shutdown failed")
				}
			}()
			natsURL = ns.ClientURL()
			logging.Info().Str("url", natsURL).Msg("Embedded NATS server ready")
		}

		pubCfg := events.DefaultPublisherConfig(natsURL)
		pubCfg.SubjectPrefix = cfg.NATS.Prefix
		pub, err := events.NewPublisher(pubCfg)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := pub.Close(); cerr != nil {
				logging.Error().Err(cerr).Msg("Failed to close publisher")
			}
		}()
		bus = pub
	}

	// Authorization.
	enforcer, err := authz.NewEnforcer(authz.Config{
		ModelPath:      cfg.Authz.ModelPath,
		PolicyPath:     cfg.Authz.PolicyPath,
		AdminSubjects:  cfg.Authz.AdminSubjects,
		OracleSubjects: cfg.Authz.OracleSubjects,
	})
	if err != nil {
		return err
	}

	svc := security.NewService(kv, security.ServiceOptions{
		Bus:   bus,
		Authz: enforcer,
	})

	// Seed configuration on first start when admin subjects are known.
	if len(cfg.Authz.AdminSubjects) > 0 {
		admin := cfg.Authz.AdminSubjects[0]
		err := svc.Initialize(context.Background(), admin, cfg.Security.SecurityDefaults())
		switch {
		case errors.Is(err, security.ErrAlreadyInitialized):
			logging.Debug().Msg("Monitor already initialized")
		case err != nil:
			return err
		default:
			logging.Info().Str("admin", admin).Msg("Monitor initialized")
		}
	}

	// HTTP server.
	handler := api.NewHandler(svc)
	router := api.NewRouter(handler, api.RouterConfig{
		RequestLimit:  cfg.Server.RequestLimit,
		RequestWindow: cfg.Server.RequestWindow,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	logging.Info().Msg("Shutdown complete")
	return nil
}
