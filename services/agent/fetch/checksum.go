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
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseChecksum extracts the hex digest from a sidecar body.
//
// Both a bare digest and sha256sum output ("<hex>  <file>") are accepted.
// The result is lowercased.
func ParseChecksum(body string) (string, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidChecksum)
	}
	digest := strings.ToLower(fields[0])
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: length %d", ErrInvalidChecksum, len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	return digest, nil
}

// Verify checks payload against a hex SHA-256 digest, ignoring case.
func Verify(payload []byte, digest string) error {
	sum := sha256.Sum256(payload)
	return verifySum(sum[:], digest)
}

// verifySum compares a computed digest with the expected hex string in
// constant time.
func verifySum(sum []byte, digest string) error {
	expected, err := ParseChecksum(digest)
	if err != nil {
		return err
	}
	actual := hex.EncodeToString(sum)
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
