// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform maps the host operating system and CPU architecture to
// the target triple used to publish builds of the NeoAi agent.
//
// The agent is published per target under paths like
// "{version}/x86_64-unknown-linux-musl/NeoAi.zip". Everything that builds
// such a path or names the executable inside it goes through Triple.
package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrUnsupportedPlatform is returned when the host OS has no published build.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// UnsupportedPlatformError carries the OS/arch pair that could not be mapped.
type UnsupportedPlatformError struct {
	OS   string
	Arch string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: os=%q arch=%q", e.OS, e.Arch)
}

// Is makes errors.Is(err, ErrUnsupportedPlatform) match.
func (e *UnsupportedPlatformError) Is(target error) bool {
	return target == ErrUnsupportedPlatform
}

// Triple identifies one published build of the agent.
//
// The zero value is not valid; obtain a Triple from Resolve or Host.
type Triple struct {
	// OS is the normalized GOOS-style operating system name.
	OS string

	// Arch is the canonical architecture, e.g. "x86_64" or "aarch64".
	Arch string

	// Platform is the platform suffix, e.g. "unknown-linux-musl".
	Platform string
}

// String returns the triple as it appears in download URLs and on disk.
func (t Triple) String() string {
	return t.Arch + "-" + t.Platform
}

// IsZero reports whether t was never resolved.
func (t Triple) IsZero() bool {
	return t.Arch == "" && t.Platform == ""
}

// ExecutableName returns the on-disk name of base for this triple's OS.
func (t Triple) ExecutableName(base string) string {
	return ExecutableName(base, t.OS)
}

// archAliases normalizes the spellings reported by different runtimes.
// Lookups are made on the lowercased name.
var archAliases = map[string]string{
	"amd64":   "x86_64",
	"x86_64":  "x86_64",
	"x64":     "x86_64",
	"arm64":   "aarch64",
	"aarch64": "aarch64",
	"386":     "i686",
	"i386":    "i686",
	"i686":    "i686",
	"x86":     "i686",
}

// platformSuffixes is the fixed set of operating systems with published builds.
var platformSuffixes = map[string]string{
	"windows": "pc-windows-gnu",
	"darwin":  "apple-darwin",
	"linux":   "unknown-linux-musl",
	"freebsd": "unknown-freebsd",
}

// osAliases accepts the names Python-style and uname-style hosts report.
var osAliases = map[string]string{
	"macos": "darwin",
	"win32": "windows",
}

// Resolve maps an OS/arch pair to a Triple.
//
// Description:
//
//	Both inputs are matched case-insensitively. Architecture aliases are
//	normalized ("arm64" and "AMD64" become "aarch64" and "x86_64"); an
//	architecture outside the alias table is passed through lowercased so
//	new builds can be targeted without a code change. The OS must be one of
//	windows, darwin, linux or freebsd.
//
// Outputs:
//
//	Triple - The resolved target.
//	error - *UnsupportedPlatformError for an unknown OS or an empty arch.
func Resolve(goos, arch string) (Triple, error) {
	osName := strings.ToLower(strings.TrimSpace(goos))
	if alias, ok := osAliases[osName]; ok {
		osName = alias
	}
	suffix, ok := platformSuffixes[osName]
	if !ok {
		return Triple{}, &UnsupportedPlatformError{OS: goos, Arch: arch}
	}

	archName := strings.ToLower(strings.TrimSpace(arch))
	if archName == "" {
		return Triple{}, &UnsupportedPlatformError{OS: goos, Arch: arch}
	}
	if canonical, ok := archAliases[archName]; ok {
		archName = canonical
	}

	return Triple{OS: osName, Arch: archName, Platform: suffix}, nil
}

// Host resolves the triple of the running process.
//
// On macOS an amd64 binary running under Rosetta resolves to aarch64 so
// the native agent build is selected.
func Host() (Triple, error) {
	return Resolve(runtime.GOOS, hostArch())
}

// ExecutableName appends ".exe" to base when goos is Windows.
func ExecutableName(base, goos string) string {
	if strings.EqualFold(goos, "windows") && !strings.HasSuffix(strings.ToLower(base), ".exe") {
		return base + ".exe"
	}
	return base
}
