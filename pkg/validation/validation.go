// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided values before they reach the agent
// command line or its stdin.
//
// Client names and extra arguments end up in argv of a spawned process, and
// editor text ends up on a newline-framed pipe, so both get bounded here.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxTextBytes bounds editor text accepted in one completion request.
const MaxTextBytes = 1 << 20

// clientPattern matches identifiers passed as --client.
// Allows letters, digits, dots, underscores and hyphens. Max 64 characters.
var clientPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateClientName validates the editor identifier sent to the agent.
//
// Example:
//
//	if err := validation.ValidateClientName(cfg.Client); err != nil {
//	    return fmt.Errorf("agent.client: %w", err)
//	}
func ValidateClientName(name string) error {
	if name == "" {
		return fmt.Errorf("client name cannot be empty")
	}
	if !clientPattern.MatchString(name) {
		return fmt.Errorf("invalid client name: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", name)
	}
	return nil
}

// ValidateArgs rejects extra agent arguments that are empty or carry control
// characters.
func ValidateArgs(args []string) error {
	var invalid []string
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, "\x00\r\n") {
			invalid = append(invalid, fmt.Sprintf("%q", a))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid agent arguments: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// New returns a validator with the custom rules used by NeoAi types
// registered:
//
//   - maxbytes: string length in bytes is at most MaxTextBytes
//   - clientname: see ValidateClientName
func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxTextBytes
	})
	_ = v.RegisterValidation("clientname", func(fl validator.FieldLevel) bool {
		return ValidateClientName(fl.Field().String()) == nil
	})
	return v
}
