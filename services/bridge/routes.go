// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the bridge endpoints.
//
// Endpoints:
//
//	GET  /neoai?data=... - Notebook frontend request, raw agent response
//	POST /v1/completions - Editor completion request
//	GET  /v1/health - Liveness
//	GET  /v1/status - Supervisor and version store state
//	GET  /metrics - Prometheus metrics, when enabled
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	r.GET("/neoai", h.HandleNotebook)
	r.GET("/metrics", h.HandleMetrics)

	v1 := r.Group("/v1")
	{
		v1.POST("/completions", h.HandleCompletions)
		v1.GET("/health", h.HandleHealth)
		v1.GET("/status", h.HandleStatus)
	}
}
