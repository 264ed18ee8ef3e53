// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("neoai.fetch")
	meter  = otel.Meter("neoai.fetch")
)

var (
	fetchTotal metric.Int64Counter
	fetchBytes metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		fetchTotal, err = meter.Int64Counter(
			"neoai_fetch_total",
			metric.WithDescription("Agent provisioning attempts by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
		fetchBytes, err = meter.Int64Counter(
			"neoai_fetch_bytes_total",
			metric.WithDescription("Archive bytes downloaded"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordFetch(ctx context.Context, outcome string, bytes int64) {
	if err := initMetrics(); err != nil {
		return
	}
	fetchTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if bytes > 0 {
		fetchBytes.Add(ctx, bytes)
	}
}
