// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the OpenTelemetry tracer provider for the
// service. Metrics are Prometheus-native (promauto registrations in each
// package, served via promhttp), so only traces are configured here.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrUnknownExporter is returned for a TraceExporter value that is not
// "stdout" or "none".
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Config selects the trace exporter and service identity attributes.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// TraceExporter is "stdout" or "none".
	TraceExporter string
}

// DefaultConfig reads the exporter selection from TRACE_EXPORTER.
func DefaultConfig() Config {
	exporter := os.Getenv("TRACE_EXPORTER")
	if exporter == "" {
		exporter = "stdout"
	}
	return Config{
		ServiceName:    "deskrouter",
		ServiceVersion: "1.0.0",
		Environment:    getEnvOr("DEPLOY_ENV", "development"),
		TraceExporter:  exporter,
	}
}

// Init installs the global tracer provider and W3C propagators.
//
// Description:
//
//	With TraceExporter "none" only the propagators are installed and the
//	returned shutdown is a no-op; package tracers then produce non-recording
//	spans at negligible cost.
//
// Outputs:
//
//	shutdown - Flushes and stops the provider. Call on exit.
//	error - Non-nil when the exporter cannot be constructed.
//
// Thread Safety: Call once at application startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.TraceExporter == "none" {
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
