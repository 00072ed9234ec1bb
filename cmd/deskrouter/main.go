// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command deskrouter starts the natural-language ticketing query API.
//
// The service accepts free-text questions, plans them into TOPdesk-style
// MCP tool calls, executes the plan, and returns normalized incidents with
// a phrased summary.
//
// Usage:
//
//	go run ./cmd/deskrouter
//	go run ./cmd/deskrouter -port 9090 -metrics-port 9091
//
// Against a local MCP server:
//
//	MCP_BASE_URL=http://localhost:3030 MCP_API_KEY=... go run ./cmd/deskrouter
//
// With identity-resolution persistence:
//
//	RESOLUTION_CACHE_DIR=~/.deskrouter/cache go run ./cmd/deskrouter
//
// Example requests:
//
//	# Health check (includes backend probe)
//	curl http://localhost:8080/v1/health
//
//	# Ask a question
//	curl -X POST http://localhost:8080/v1/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "open tickets for John Doe", "max_results": 5}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/deskrouter/services/router"
	"github.com/AleutianAI/deskrouter/services/router/config"
	"github.com/AleutianAI/deskrouter/services/router/mcp"
	"github.com/AleutianAI/deskrouter/services/router/planner"
	"github.com/AleutianAI/deskrouter/services/router/security"
	badgerstore "github.com/AleutianAI/deskrouter/services/router/storage/badger"
	"github.com/AleutianAI/deskrouter/services/router/telemetry"
)

const serviceVersion = "1.0.0"

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	metricsPort := flag.Int("metrics-port", 9090, "Port for the Prometheus /metrics endpoint")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	settings := config.FromEnv()
	setupLogging(settings.LogLevel, *debug)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slog.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := router.RegisterValidators(); err != nil {
		slog.Error("Failed to register request validators", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Shared protection state: one breaker guards the backend for all
	// clients, one limiter budgets per client IP.
	breaker := security.NewCircuitBreaker(settings.BreakerFailureThreshold, settings.BreakerRecoveryTimeout)
	limiter := security.NewRateLimiter(settings.RateLimitRequests, settings.RateLimitWindow)

	client := mcp.NewClient(&settings, breaker, slog.Default())

	queryPlanner, err := planner.NewPlanner(slog.Default())
	if err != nil {
		slog.Error("Failed to load planner rules", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Identity resolution cache. Unavailability degrades to lookup-per-query.
	var cache router.ResolutionCache
	var cacheDB *badgerstore.DB
	if settings.ResolutionCacheDir != "" {
		cfg := badgerstore.DefaultConfig()
		cfg.Path = settings.ResolutionCacheDir
		db, err := badgerstore.OpenDB(cfg)
		if err != nil {
			slog.Warn("Resolution cache unavailable, identity persistence disabled",
				slog.String("path", settings.ResolutionCacheDir),
				slog.String("error", err.Error()),
			)
		} else {
			cacheDB = db
			cache = router.NewBadgerResolutionCache(db, 0, slog.Default())
			go db.StartGC(ctx)
		}
	}
	defer func() {
		if cacheDB != nil {
			if err := cacheDB.Close(); err != nil {
				slog.Warn("Failed to close resolution cache", slog.String("error", err.Error()))
			}
		}
	}()

	svc := router.NewService(queryPlanner, client, cache, slog.Default())
	handlers := router.NewHandlers(svc, client, breaker, &settings)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("deskrouter"))
	engine.Use(router.CORSMiddleware())
	engine.Use(router.RequestLogMiddleware(slog.Default()))
	if *debug {
		engine.Use(gin.Logger())
	}

	v1 := engine.Group("/v1")
	router.RegisterRoutes(v1, handlers, router.RateLimitMiddleware(limiter, &settings))

	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: engine,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *metricsPort),
		Handler: metricsMux,
	}

	slog.Info("Starting deskrouter",
		slog.String("version", serviceVersion),
		slog.Int("port", *port),
		slog.Int("metrics_port", *metricsPort),
		slog.String("mcp_base_url", settings.MCPBaseURL),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down deskrouter")
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := apiServer.Shutdown(drainCtx)
		if merr := metricsServer.Shutdown(drainCtx); err == nil {
			err = merr
		}
		return err
	})

	if err := group.Wait(); err != nil {
		slog.Error("Server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setupLogging installs a text slog handler at the configured level.
// -debug forces debug level regardless of LOG_LEVEL.
func setupLogging(level string, debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	} else {
		switch strings.ToLower(level) {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn", "warning":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
