// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build darwin

package platform

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// hostArch reports arm64 for an amd64 process translated by Rosetta.
func hostArch() string {
	if runtime.GOARCH == "amd64" {
		translated, err := unix.SysctlUint32("sysctl.proc_translated")
		if err == nil && translated == 1 {
			return "arm64"
		}
	}
	return runtime.GOARCH
}
