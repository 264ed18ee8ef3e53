// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge exposes the supervised agent over HTTP for editors that
// cannot spawn a process themselves, such as the Jupyter frontend.
package bridge

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/neoai/pkg/validation"
	"github.com/AleutianAI/neoai/services/agent/completion"
	"github.com/AleutianAI/neoai/services/agent/protocol"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// emptyResults is what the notebook frontend receives when the agent has
// nothing to offer. It renders an empty popup instead of an error.
var emptyResults = json.RawMessage(`{"results":[]}`)

// Handlers contains the HTTP handlers for the bridge.
type Handlers struct {
	agent     Agent
	completer Completer
	install   Installation
	settings  Settings
	metrics   http.Handler
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates handlers over the given agent and completer.
// install may be nil when no version store is in use.
func NewHandlers(agent Agent, completer Completer, install Installation, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		agent:     agent,
		completer: completer,
		install:   install,
		validate:  validation.New(),
		logger:    logger.With(slog.String("component", "bridge")),
	}
}

// WithSettings sets the values reported under "settings" by /v1/status.
func (h *Handlers) WithSettings(s Settings) *Handlers {
	h.settings = s
	return h
}

// WithMetrics serves handler on GET /metrics.
func (h *Handlers) WithMetrics(handler http.Handler) *Handlers {
	h.metrics = handler
	return h
}

// HandleNotebook handles GET /neoai.
//
// Description:
//
//	The data query parameter carries one URL-encoded JSON request. A full
//	envelope {"version", "request"} is forwarded with its own version;
//	anything else is sent as the request body under the default version.
//	The agent's response line is written back unchanged.
//
// Response:
//
//	200 OK: The agent's JSON response, or {"results":[]} when the agent fails
//	400 Bad Request: data missing or not JSON
func (h *Handlers) HandleNotebook(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleNotebook")
	c.Header("Access-Control-Allow-Origin", "*")

	data := c.Query("data")
	if data == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Missing 'data' query parameter",
			Code:  "MISSING_DATA",
		})
		return
	}
	if !json.Valid([]byte(data)) {
		logger.Warn("Invalid request data")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Query parameter 'data' is not valid JSON",
			Code:  "INVALID_DATA",
		})
		return
	}

	version, payload := splitEnvelope([]byte(data))
	resp, err := h.agent.RequestWithVersion(c.Request.Context(), version, payload)
	if err != nil {
		logger.Warn("Agent request failed", "error", err)
		c.Data(http.StatusOK, "application/json", emptyResults)
		return
	}
	c.Data(http.StatusOK, "application/json", resp.Raw())
}

// splitEnvelope returns the version and request of a framed request, or the
// default version and the whole document for a bare request.
func splitEnvelope(data []byte) (string, json.RawMessage) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if _, framed := probe["request"]; framed {
			if env, err := protocol.DecodeRequest(data); err == nil {
				return env.Version, compact(env.Request)
			}
		}
	}
	return protocol.DefaultVersion, compact(data)
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(raw)
	}
	return buf.Bytes()
}

// HandleCompletions handles POST /v1/completions.
//
// Request Body:
//
//	completion.Context
//
// Response:
//
//	200 OK: CompletionsResponse (possibly empty)
//	400 Bad Request: Validation error
func (h *Handlers) HandleCompletions(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCompletions")

	var req completion.Context
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		logger.Warn("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_FAILED",
		})
		return
	}

	suggestions := h.completer.Complete(c.Request.Context(), req)
	views := make([]SuggestionView, 0, len(suggestions))
	for _, s := range suggestions {
		views = append(views, SuggestionView{
			Completion:  s.Completion,
			Description: s.Description,
			Confidence:  s.Confidence,
			Priority:    s.Priority(),
		})
	}

	logger.Debug("Completions served", "language", req.Language, "count", len(views))
	c.JSON(http.StatusOK, CompletionsResponse{Completions: views})
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleStatus handles GET /v1/status.
//
// Response:
//
//	200 OK: StatusResponse
//	500 Internal Server Error: Version store unreadable
func (h *Handlers) HandleStatus(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleStatus")

	st := h.agent.Status()
	resp := StatusResponse{
		State:      st.State.String(),
		Alive:      st.Alive,
		PID:        st.PID,
		Restarts:   st.Restarts,
		Spawns:     st.Spawns,
		BinaryPath: st.BinaryPath,
		Installed:  []string{},
		Settings:   h.settings,
	}

	if h.install != nil {
		resp.Target = h.install.Target().String()
		versions, err := h.install.ListInstalled()
		if err != nil {
			logger.Error("List installed versions failed", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: err.Error(),
				Code:  "STORE_UNAVAILABLE",
			})
			return
		}
		for _, v := range versions {
			resp.Installed = append(resp.Installed, v.Name)
		}
		if pinned, ok := h.install.PinnedVersion(); ok {
			resp.Pinned = pinned
		}
	}

	c.JSON(http.StatusOK, resp)
}

// HandleMetrics handles GET /metrics.
func (h *Handlers) HandleMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Metrics exporter not enabled",
			Code:  "METRICS_DISABLED",
		})
		return
	}
	h.metrics.ServeHTTP(c.Writer, c.Request)
}

// getOrCreateRequestID returns the caller's X-Request-ID or a new one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
