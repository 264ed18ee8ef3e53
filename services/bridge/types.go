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
	"context"

	"github.com/AleutianAI/neoai/services/agent/completion"
	"github.com/AleutianAI/neoai/services/agent/platform"
	"github.com/AleutianAI/neoai/services/agent/protocol"
	"github.com/AleutianAI/neoai/services/agent/store"
	"github.com/AleutianAI/neoai/services/agent/supervisor"
)

// Agent forwards protocol requests. *supervisor.Supervisor implements it.
type Agent interface {
	RequestWithVersion(ctx context.Context, version string, payload any) (protocol.Response, error)
	Status() supervisor.Status
}

// Completer produces editor suggestions. *completion.Completer implements it.
type Completer interface {
	Complete(ctx context.Context, cc completion.Context) []completion.Suggestion
}

// Installation describes the local version store. *store.Store implements it.
type Installation interface {
	Target() platform.Triple
	ListInstalled() ([]store.Version, error)
	PinnedVersion() (string, bool)
}

// Settings are editor-facing values reported by /v1/status.
type Settings struct {
	MaxResults         int   `json:"max_results"`
	TriggerDelayMs     int64 `json:"trigger_delay_ms"`
	DebounceDelayMs    int64 `json:"debounce_delay_ms"`
	NativeAutoComplete bool  `json:"native_auto_complete"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// SuggestionView is one suggestion as sent to HTTP clients.
type SuggestionView struct {
	Completion  string  `json:"completion"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Priority    int     `json:"priority"`
}

// CompletionsResponse is returned by POST /v1/completions.
type CompletionsResponse struct {
	Completions []SuggestionView `json:"completions"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	State      string   `json:"state"`
	Alive      bool     `json:"alive"`
	PID        int      `json:"pid,omitempty"`
	Restarts   int      `json:"restarts"`
	Spawns     int      `json:"spawns"`
	BinaryPath string   `json:"binary_path,omitempty"`
	Target     string   `json:"target"`
	Installed  []string `json:"installed"`
	Pinned     string   `json:"pinned,omitempty"`
	Settings   Settings `json:"settings"`
}
