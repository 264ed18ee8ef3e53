// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Response is one decoded agent response line.
//
// It is one of *Completions, *ErrorResponse or *Unknown.
type Response interface {
	// Raw returns the line as received, without the trailing newline.
	Raw() json.RawMessage

	isResponse()
}

// Result is a single completion proposed by the agent.
type Result struct {
	NewPrefix  string  `json:"new_prefix"`
	OldSuffix  string  `json:"old_suffix"`
	NewSuffix  string  `json:"new_suffix"`
	Detail     string  `json:"detail,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Text returns the full inserted text.
func (r Result) Text() string {
	return r.NewPrefix + r.NewSuffix
}

// Completions is a response carrying completion results.
type Completions struct {
	OldPrefix   string   `json:"old_prefix"`
	Results     []Result `json:"results"`
	UserMessage []string `json:"user_message,omitempty"`
	IsLocked    bool     `json:"is_locked,omitempty"`

	raw json.RawMessage
}

// ErrorResponse is a response in which the agent reports a failure.
type ErrorResponse struct {
	Message string

	raw json.RawMessage
}

// Unknown is any valid JSON response of an unrecognized shape.
type Unknown struct {
	raw json.RawMessage
}

func (c *Completions) Raw() json.RawMessage   { return c.raw }
func (e *ErrorResponse) Raw() json.RawMessage { return e.raw }
func (u *Unknown) Raw() json.RawMessage       { return u.raw }

func (*Completions) isResponse()   {}
func (*ErrorResponse) isResponse() {}
func (*Unknown) isResponse()       {}

// listItem covers the flat completion lists some agent builds emit in
// place of "results".
type listItem struct {
	Completion  string  `json:"completion"`
	Text        string  `json:"text"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

func (li listItem) toResult() Result {
	text := li.Completion
	if text == "" {
		text = li.Text
	}
	return Result{NewPrefix: text, Detail: li.Description, Confidence: li.Confidence}
}

// Decode parses one response line into a Response.
//
// Description:
//
//	An object with a "results" or "completions" array becomes *Completions.
//	An object with an "error" member becomes *ErrorResponse. Any other valid
//	JSON becomes *Unknown.
//
// Outputs:
//
//	Response - The classified response.
//	error - Wraps ErrMalformedResponse when line is not exactly one JSON value.
func Decode(line []byte) (Response, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, truncate(trimmed, 120))
	}
	raw := json.RawMessage(append([]byte(nil), trimmed...))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Unknown{raw: raw}, nil
	}

	if _, ok := fields["results"]; ok {
		c := &Completions{raw: raw}
		if err := json.Unmarshal(raw, c); err == nil {
			return c, nil
		}
		return &Unknown{raw: raw}, nil
	}

	if items, ok := fields["completions"]; ok {
		var list []listItem
		if err := json.Unmarshal(items, &list); err != nil {
			return &Unknown{raw: raw}, nil
		}
		c := &Completions{raw: raw, Results: make([]Result, 0, len(list))}
		for _, li := range list {
			c.Results = append(c.Results, li.toResult())
		}
		if oldPrefix, ok := fields["old_prefix"]; ok {
			_ = json.Unmarshal(oldPrefix, &c.OldPrefix)
		}
		return c, nil
	}

	if errField, ok := fields["error"]; ok {
		return &ErrorResponse{Message: errorMessage(errField), raw: raw}, nil
	}

	return &Unknown{raw: raw}, nil
}

// errorMessage accepts "error":"text" and "error":{"message":"text"}.
func errorMessage(field json.RawMessage) string {
	var s string
	if err := json.Unmarshal(field, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(field, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(field))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
