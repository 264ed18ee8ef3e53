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

// AutocompleteRequest is the agent's completion request body.
type AutocompleteRequest struct {
	Filename                string `json:"filename"`
	Before                  string `json:"before"`
	After                   string `json:"after"`
	RegionIncludesBeginning bool   `json:"region_includes_beginning"`
	RegionIncludesEnd       bool   `json:"region_includes_end"`
	MaxNumResults           int    `json:"max_num_results"`
	Offset                  int    `json:"offset,omitempty"`
	Line                    int    `json:"line,omitempty"`
	Character               int    `json:"character,omitempty"`
	Language                string `json:"language,omitempty"`
}

// Autocomplete wraps a request in the agent's tagged request object.
func Autocomplete(req AutocompleteRequest) map[string]any {
	return map[string]any{"Autocomplete": req}
}

// WarmUpRequest returns the request that switches on semantic completion.
func WarmUpRequest() map[string]any {
	return Autocomplete(AutocompleteRequest{
		Filename:                "test.py",
		Before:                  "neoai::sem",
		After:                   "",
		RegionIncludesBeginning: true,
		RegionIncludesEnd:       true,
		MaxNumResults:           10,
	})
}
