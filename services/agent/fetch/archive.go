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
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultMaxExtractBytes bounds the uncompressed size of one archive member.
const DefaultMaxExtractBytes int64 = 512 << 20

// plannedMember is an archive member that passed validation.
type plannedMember struct {
	file *zip.File
	rel  string // slash-separated, relative to the target directory
	dir  bool
}

// memberPath validates an archive member name and returns it cleaned.
//
// Absolute names, drive-letter names and names that climb out of the
// target directory are rejected.
func memberPath(name string) (string, error) {
	normalized := strings.ReplaceAll(name, `\`, "/")
	if normalized == "" {
		return "", fmt.Errorf("%w: empty member name", ErrArchive)
	}
	if path.IsAbs(normalized) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" ||
		(len(normalized) >= 2 && normalized[1] == ':') {
		return "", &PathTraversalError{Member: name}
	}
	cleaned := path.Clean(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &PathTraversalError{Member: name}
	}
	return cleaned, nil
}

// planExtraction validates every member before anything is written.
//
// When every member sits under one leading directory named stripPrefix,
// that directory is removed so the members land directly in the target.
func planExtraction(files []*zip.File, stripPrefix string) ([]plannedMember, error) {
	plan := make([]plannedMember, 0, len(files))
	allPrefixed := stripPrefix != ""
	for _, f := range files {
		rel, err := memberPath(f.Name)
		if err != nil {
			return nil, err
		}
		mode := f.Mode()
		if mode&os.ModeSymlink != 0 || (!mode.IsRegular() && !mode.IsDir()) {
			return nil, fmt.Errorf("%w: unsupported member type %s for %q", ErrArchive, mode.Type(), f.Name)
		}
		if rel == "." {
			continue
		}
		if rel != stripPrefix && !strings.HasPrefix(rel, stripPrefix+"/") {
			allPrefixed = false
		}
		plan = append(plan, plannedMember{file: f, rel: rel, dir: mode.IsDir()})
	}

	if !allPrefixed {
		return plan, nil
	}
	stripped := plan[:0]
	for _, m := range plan {
		if m.rel == stripPrefix {
			continue
		}
		m.rel = strings.TrimPrefix(m.rel, stripPrefix+"/")
		stripped = append(stripped, m)
	}
	return stripped, nil
}

// extractZip extracts archivePath into destDir, which must not exist yet.
//
// Description:
//
//	The whole archive is validated first; a single offending member
//	rejects the extraction before any file is created. Each destination is
//	also checked against destDir after joining. Every regular file is made
//	executable. On failure destDir is removed.
//
// Outputs:
//
//	[]string - Extracted regular files, relative to destDir.
//	error - ErrPathTraversal, ErrArchive, or an I/O error.
func extractZip(archivePath, destDir, stripPrefix string, maxBytes int64) (files []string, err error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxExtractBytes
	}
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}
	defer zr.Close()

	plan, err := planExtraction(zr.File, stripPrefix)
	if err != nil {
		return nil, err
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDest, 0o755); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(absDest)
		}
	}()

	for _, m := range plan {
		target := filepath.Join(absDest, filepath.FromSlash(m.rel))
		if !within(absDest, target) {
			return nil, &PathTraversalError{Member: m.file.Name}
		}
		if m.dir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		if err := writeMember(m.file, target, maxBytes); err != nil {
			return nil, err
		}
		files = append(files, m.rel)
	}
	return files, nil
}

func writeMember(f *zip.File, target string, maxBytes int64) error {
	if f.UncompressedSize64 > uint64(maxBytes) {
		return fmt.Errorf("%w: member %q exceeds %d bytes", ErrArchive, f.Name, maxBytes)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrArchive, f.Name, err)
	}
	defer src.Close()

	perm := os.FileMode(0o644)
	if runtime.GOOS != "windows" {
		perm = f.Mode().Perm() | 0o700
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) {
			return fmt.Errorf("%w: %q: %v", ErrArchive, f.Name, err)
		}
		return err
	}
	if n > maxBytes {
		return fmt.Errorf("%w: member %q exceeds %d bytes", ErrArchive, f.Name, maxBytes)
	}
	// OpenFile permissions are filtered by umask.
	return os.Chmod(target, perm)
}

// within reports whether target is dir itself or below it.
func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
