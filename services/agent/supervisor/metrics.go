// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("neoai.supervisor")
	meter  = otel.Meter("neoai.supervisor")
)

var (
	spawnTotal      metric.Int64Counter
	restartTotal    metric.Int64Counter
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if spawnTotal, err = meter.Int64Counter(
			"neoai_agent_spawns_total",
			metric.WithDescription("Agent process spawn attempts"),
		); err != nil {
			metricsErr = err
			return
		}
		if restartTotal, err = meter.Int64Counter(
			"neoai_agent_restarts_total",
			metric.WithDescription("Agent restarts by reason"),
		); err != nil {
			metricsErr = err
			return
		}
		if requestTotal, err = meter.Int64Counter(
			"neoai_agent_requests_total",
			metric.WithDescription("Agent requests by outcome"),
		); err != nil {
			metricsErr = err
			return
		}
		requestDuration, metricsErr = meter.Float64Histogram(
			"neoai_agent_request_duration_seconds",
			metric.WithDescription("Round-trip time of agent requests"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

func recordSpawn(ctx context.Context, success bool) {
	if initMetrics() != nil {
		return
	}
	spawnTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

func recordRestart(ctx context.Context, reason string) {
	if initMetrics() != nil {
		return
	}
	restartTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordRequest(ctx context.Context, outcome string, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	requestTotal.Add(ctx, 1, attrs)
	requestDuration.Record(ctx, d.Seconds(), attrs)
}
