// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol frames requests to and responses from the NeoAi agent.
//
// The agent speaks newline-delimited JSON over its standard streams. Each
// request is one line holding an envelope:
//
//	{"version":"2.0.2","request":{"Autocomplete":{...}}}
//
// and each response is one line of JSON whose shape is defined by the
// agent. Decode classifies it into a small set of known shapes.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// DefaultVersion is the protocol version sent with ordinary requests.
	DefaultVersion = "2.0.2"

	// WarmUpVersion is the protocol version the agent expects for the
	// semantic completion warm-up request.
	WarmUpVersion = "1.0.7"
)

var (
	// ErrMalformedResponse is returned when a response line is not JSON.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrMalformedRequest is returned when a request line is not a valid envelope.
	ErrMalformedRequest = errors.New("malformed request")
)

// Envelope is the outbound request framing.
type Envelope struct {
	Version string          `json:"version"`
	Request json.RawMessage `json:"request"`
}

// envelopeOut lets Encode accept any payload without a second marshal pass.
type envelopeOut struct {
	Version string `json:"version"`
	Request any    `json:"request"`
}

// Encode frames payload as a single line of JSON terminated by one newline.
//
// Description:
//
//	String values containing newlines are escaped by the JSON encoder, and
//	json.RawMessage payloads are compacted, so the output never contains a
//	raw newline before the terminator. HTML characters are not escaped so
//	source code reaches the agent verbatim.
//
// Inputs:
//
//	version - Protocol version; empty uses DefaultVersion.
//	payload - Any JSON-serializable value, including json.RawMessage.
//
// Outputs:
//
//	[]byte - The framed line.
//	error - Non-nil if payload cannot be serialized.
func Encode(version string, payload any) ([]byte, error) {
	if version == "" {
		version = DefaultVersion
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(envelopeOut{Version: version, Request: payload}); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest parses a line produced by Encode.
func DecodeRequest(line []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(line)))
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if env.Request == nil {
		return Envelope{}, fmt.Errorf("%w: missing request", ErrMalformedRequest)
	}
	return env, nil
}
