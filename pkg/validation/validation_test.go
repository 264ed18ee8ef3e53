// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateClientName(t *testing.T) {
	tests := []struct {
		name    string
		client  string
		wantErr bool
	}{
		{"simple", "vscode", false},
		{"dotted", "neoai.jupyter", false},
		{"hyphen", "neoai-go", false},
		{"max length", strings.Repeat("a", 64), false},

		{"empty", "", true},
		{"space", "vs code", true},
		{"flag injection", "--log-file-path", true},
		{"newline", "vim\n--foo", true},
		{"too long", strings.Repeat("a", 65), true},
		{"starts with dot", ".vim", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateClientName(tt.client)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClientName(%q) error = %v, wantErr %v", tt.client, err, tt.wantErr)
			}
		})
	}
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"none", nil, false},
		{"flags", []string{"--debug", "--port=1"}, false},
		{"empty arg", []string{"--debug", ""}, true},
		{"newline", []string{"--a\n--b"}, true},
		{"nul", []string{"x\x00"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestNew_CustomRules(t *testing.T) {
	type payload struct {
		Text   string `validate:"maxbytes"`
		Client string `validate:"clientname"`
	}
	v := New()

	if err := v.Struct(payload{Text: "x", Client: "vim"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if err := v.Struct(payload{Text: strings.Repeat("x", MaxTextBytes+1), Client: "vim"}); err == nil {
		t.Error("oversized text accepted")
	}
	if err := v.Struct(payload{Text: "x", Client: "bad client"}); err == nil {
		t.Error("invalid client accepted")
	}
}
