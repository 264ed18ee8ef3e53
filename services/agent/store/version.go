// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is an installed version directory name and its parsed ordering key.
//
// Names that are not semantic versions keep Valid=false. They are still
// listed so callers can see them, but they never outrank a valid version.
type Version struct {
	// Name is the directory name as found on disk.
	Name string

	// Valid reports whether Name parses as a semantic version.
	Valid bool

	// canonical is the "v"-prefixed form used for comparison.
	canonical string
}

// ParseVersion parses a version directory name. It never fails.
//
// "1.2.3" and "1.2" are valid; "abc", "", "v1.2.3" and "1.2.3-rc1" are
// not, since published versions are plain dotted numbers.
func ParseVersion(name string) Version {
	v := Version{Name: name}
	if name == "" || strings.HasPrefix(name, "v") {
		return v
	}
	candidate := "v" + name
	if semver.IsValid(candidate) && semver.Prerelease(candidate) == "" && semver.Build(candidate) == "" {
		v.Valid = true
		v.canonical = candidate
	}
	return v
}

// String returns the directory name.
func (v Version) String() string {
	return v.Name
}

// Compare orders versions newest first.
//
// The result is negative when a should be tried before b. Valid versions
// precede invalid ones. Equal semantic versions prefer the name with more
// explicit components ("1.2.0" before "1.2"), then fall back to name order
// so the result is deterministic.
func Compare(a, b Version) int {
	switch {
	case a.Valid && !b.Valid:
		return -1
	case !a.Valid && b.Valid:
		return 1
	case a.Valid && b.Valid:
		if c := semver.Compare(a.canonical, b.canonical); c != 0 {
			return -c
		}
		if la, lb := strings.Count(a.Name, "."), strings.Count(b.Name, "."); la != lb {
			if la > lb {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a.Name, b.Name)
}

// SortNewestFirst sorts versions in candidate order.
func SortNewestFirst(versions []Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) < 0
	})
}
