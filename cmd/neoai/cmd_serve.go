// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/neoai/services/agent/store"
	"github.com/AleutianAI/neoai/services/bridge"
	"github.com/AleutianAI/neoai/services/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// shutdownTimeout bounds draining in-flight bridge requests.
const shutdownTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger.AgentLogPath(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Agent shutdown failed", "error", err)
		}
	}()

	go func() {
		err := a.store.Watch(ctx, func(bin store.InstalledBinary, found bool) {
			if found {
				log.Info("Active agent changed", "version", bin.Version.Name, "pinned", bin.Pinned, "path", bin.Path)
			} else {
				log.Info("No agent installed for target", "target", a.target.String())
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Install watcher stopped", "error", err)
		}
	}()

	go func() {
		if err := a.supervisor.WarmUp(ctx); err != nil {
			log.Info("Initial warm-up deferred", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Bridge.Host, strconv.Itoa(cfg.Bridge.Port)),
		Handler:           newRouter(a, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting NeoAi bridge", slog.String("address", server.Addr), slog.String("target", a.target.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down NeoAi bridge")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	return nil
}

// newRouter builds the gin engine serving the bridge endpoints.
func newRouter(a *app, log *slog.Logger) *gin.Engine {
	if cfg.Bridge.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("neoai-bridge"))
	if cfg.Bridge.Debug {
		router.Use(gin.Logger())
	}

	handlers := bridge.NewHandlers(a.supervisor, a.completer, a.store, log).
		WithSettings(bridge.Settings{
			MaxResults:         cfg.Completion.MaxResults,
			TriggerDelayMs:     cfg.Completion.TriggerDelay.Milliseconds(),
			DebounceDelayMs:    cfg.Completion.DebounceDelay.Milliseconds(),
			NativeAutoComplete: cfg.Agent.NativeAutoComplete,
		})
	if h := telemetry.MetricsHandler(); h != nil {
		handlers = handlers.WithMetrics(h)
	}
	bridge.RegisterRoutes(router, handlers)
	return router
}
