// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package completion adapts editor completion contexts to agent requests.
//
// Hosts never see the agent's error taxonomy: Complete returns an empty
// slice whenever anything below it fails.
package completion

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/AleutianAI/neoai/services/agent/protocol"
)

// DefaultMaxResults caps the suggestions returned per request.
const DefaultMaxResults = 10

// Requester sends one agent request. *supervisor.Supervisor implements it.
type Requester interface {
	Request(ctx context.Context, payload any) (protocol.Response, error)
}

// Context is what an editor knows at the cursor.
// Tags are checked with validation.New.
type Context struct {
	Language string   `json:"language" validate:"required,max=64"`
	Prefix   string   `json:"prefix" validate:"maxbytes"`
	Suffix   string   `json:"suffix" validate:"maxbytes"`
	Lines    []string `json:"lines,omitempty" validate:"max=10000"`
	Path     string   `json:"path" validate:"max=4096"`
	Offset   int      `json:"offset" validate:"gte=0"`
}

// Suggestion is one completion offered to the editor.
type Suggestion struct {
	Completion  string  `json:"completion"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Priority maps confidence to an editor sort priority in [0, 100].
// Suggestions without a confidence get 50.
func (s Suggestion) Priority() int {
	if s.Confidence <= 0 {
		return 50
	}
	if s.Confidence >= 1 {
		return 100
	}
	return int(s.Confidence * 100)
}

// Config controls which requests are sent.
type Config struct {
	// MaxResults caps suggestions. Zero uses DefaultMaxResults.
	MaxResults int

	// Languages disables completion per language. Languages not listed are enabled.
	Languages map[string]bool
}

// Completer turns completion contexts into suggestions.
type Completer struct {
	agent  Requester
	cfg    Config
	logger *slog.Logger
}

// New creates a Completer.
func New(agent Requester, cfg Config, logger *slog.Logger) *Completer {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	languages := make(map[string]bool, len(cfg.Languages))
	for name, enabled := range cfg.Languages {
		languages[strings.ToLower(name)] = enabled
	}
	cfg.Languages = languages
	return &Completer{agent: agent, cfg: cfg, logger: logger.With(slog.String("component", "completer"))}
}

// Enabled reports whether completion is on for language.
func (c *Completer) Enabled(language string) bool {
	enabled, ok := c.cfg.Languages[strings.ToLower(language)]
	return !ok || enabled
}

// Request builds the agent request for cc.
func (c *Completer) Request(cc Context) map[string]any {
	before := cc.Prefix
	if before == "" && len(cc.Lines) > 0 {
		before = strings.Join(cc.Lines, "\n")
	}
	return protocol.Autocomplete(protocol.AutocompleteRequest{
		Filename:                cc.Path,
		Before:                  before,
		After:                   cc.Suffix,
		RegionIncludesBeginning: true,
		RegionIncludesEnd:       true,
		MaxNumResults:           c.cfg.MaxResults,
		Offset:                  cc.Offset,
		Language:                strings.ToLower(cc.Language),
	})
}

// Complete returns suggestions for cc, or an empty slice.
func (c *Completer) Complete(ctx context.Context, cc Context) []Suggestion {
	if !c.Enabled(cc.Language) {
		return []Suggestion{}
	}

	resp, err := c.agent.Request(ctx, c.Request(cc))
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, protocol.ErrMalformedResponse) || errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "completion unavailable",
			slog.String("language", cc.Language), slog.String("error", err.Error()))
		return []Suggestion{}
	}

	switch r := resp.(type) {
	case *protocol.Completions:
		return c.suggestions(r)
	case *protocol.ErrorResponse:
		c.logger.Warn("agent reported an error", slog.String("message", r.Message))
	default:
		c.logger.Debug("ignoring unrecognized agent response", slog.Int("bytes", len(resp.Raw())))
	}
	return []Suggestion{}
}

func (c *Completer) suggestions(r *protocol.Completions) []Suggestion {
	out := make([]Suggestion, 0, min(len(r.Results), c.cfg.MaxResults))
	for _, res := range r.Results {
		if len(out) == c.cfg.MaxResults {
			break
		}
		text := res.Text()
		if text == "" {
			continue
		}
		out = append(out, Suggestion{
			Completion:  text,
			Description: res.Detail,
			Confidence:  res.Confidence,
		})
	}
	return out
}
