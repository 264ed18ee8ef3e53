// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionQuery is returned when the latest version cannot be determined.
	ErrVersionQuery = errors.New("version query failed")

	// ErrDownload is returned when the archive cannot be downloaded.
	ErrDownload = errors.New("download failed")

	// ErrNotFound is returned by a Source when an object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrChecksumMismatch is returned when the archive digest differs from the sidecar.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrChecksumUnavailable is returned when a checksum is required but none was published.
	ErrChecksumUnavailable = errors.New("checksum unavailable")

	// ErrInvalidChecksum is returned when the sidecar is not a SHA-256 hex digest.
	ErrInvalidChecksum = errors.New("invalid checksum")

	// ErrPathTraversal is returned when an archive member would escape the target directory.
	ErrPathTraversal = errors.New("archive member escapes target directory")

	// ErrArchive is returned for archives that cannot be read or contain unsupported members.
	ErrArchive = errors.New("invalid archive")

	// ErrBinaryMissing is returned when extraction succeeded but no agent executable was found.
	ErrBinaryMissing = errors.New("agent executable missing from archive")

	// ErrUnsupportedSource is returned for server URLs with an unknown scheme.
	ErrUnsupportedSource = errors.New("unsupported source")
)

// ChecksumMismatchError records both digests for the security log.
type ChecksumMismatchError struct {
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrChecksumMismatch) match.
func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// PathTraversalError names the offending archive member.
type PathTraversalError struct {
	Member string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("archive member %q escapes target directory", e.Member)
}

// Is makes errors.Is(err, ErrPathTraversal) match.
func (e *PathTraversalError) Is(target error) bool {
	return target == ErrPathTraversal
}
