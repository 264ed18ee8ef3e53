// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store locates installed builds of the NeoAi agent on disk.
//
// The layout is the only durable state:
//
//	{root}/{version}/{target-triple}/{executable}
//	{root}/.active          optional pin holding a version string
//
// There is no manifest. Every lookup lists the root directory afresh.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/AleutianAI/neoai/services/agent/platform"
)

// PinFileName is the pin marker file under the store root.
const PinFileName = ".active"

// ErrStoreUnavailable is returned when the root exists but cannot be listed.
var ErrStoreUnavailable = errors.New("version store unavailable")

// InstalledBinary is an agent executable found on disk.
type InstalledBinary struct {
	Version    Version
	Target     platform.Triple
	Path       string
	Executable bool
	Pinned     bool
}

// Store resolves agent binaries under a root directory for one target.
//
// Thread Safety: Safe for concurrent use. Store holds no mutable state.
type Store struct {
	root    string
	target  platform.Triple
	exeName string
	logger  *slog.Logger
}

// New creates a Store.
//
// Inputs:
//
//	root - Directory holding version subdirectories. It need not exist yet.
//	target - The build to look for.
//	agentName - Base executable name; ".exe" is added for Windows targets.
//	logger - Optional; nil uses slog.Default().
func New(root string, target platform.Triple, agentName string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:    root,
		target:  target,
		exeName: target.ExecutableName(agentName),
		logger:  logger.With(slog.String("component", "version_store")),
	}
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Target returns the target triple this store resolves for.
func (s *Store) Target() platform.Triple { return s.target }

// ExecutableName returns the platform-specific executable file name.
func (s *Store) ExecutableName() string { return s.exeName }

// TargetDir returns {root}/{version}/{target}.
func (s *Store) TargetDir(version string) string {
	return filepath.Join(s.root, version, s.target.String())
}

// BinaryPath returns the executable path for version.
func (s *Store) BinaryPath(version string) string {
	return filepath.Join(s.TargetDir(version), s.exeName)
}

// HasBinary reports whether version has an executable file for the target.
func (s *Store) HasBinary(version string) bool {
	if version == "" || strings.ContainsAny(version, `/\`) || version == "." || version == ".." {
		return false
	}
	info, err := os.Stat(s.BinaryPath(version))
	return err == nil && info.Mode().IsRegular()
}

// ListInstalled returns the version directories under root, newest first.
//
// Description:
//
//	Only directories are considered. Names that are not semantic versions
//	are kept but sorted after every valid version. A root that does not
//	exist yields an empty list.
//
// Outputs:
//
//	[]Version - Installed versions in candidate order.
//	error - Wraps ErrStoreUnavailable if root cannot be listed.
func (s *Store) ListInstalled() ([]Version, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, s.root, err)
	}

	versions := make([]Version, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		versions = append(versions, ParseVersion(entry.Name()))
	}
	SortNewestFirst(versions)
	return versions, nil
}

// PinnedVersion returns the version named by the pin marker, if any.
func (s *Store) PinnedVersion() (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.root, PinFileName))
	if err != nil {
		return "", false
	}
	line, _, _ := strings.Cut(string(data), "\n")
	version := strings.TrimSpace(line)
	return version, version != ""
}

// ErrNotInstalled is returned by Pin for a version without a binary.
var ErrNotInstalled = errors.New("version not installed")

// Pin writes the pin marker so version is selected over newer installs.
// The version must already have a binary for the target.
func (s *Store) Pin(version string) error {
	version = strings.TrimSpace(version)
	if !s.HasBinary(version) {
		return fmt.Errorf("%w: %q for %s", ErrNotInstalled, version, s.target)
	}
	tmp, err := os.CreateTemp(s.root, ".active-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write pin: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write pin: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, PinFileName)); err != nil {
		return fmt.Errorf("write pin: %w", err)
	}
	s.logger.Info("agent version pinned", slog.String("version", version))
	return nil
}

// Unpin removes the pin marker. Removing a missing marker is not an error.
func (s *Store) Unpin() error {
	err := os.Remove(filepath.Join(s.root, PinFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pin: %w", err)
	}
	return nil
}

// ResolveActivePath finds the binary to launch.
//
// Description:
//
//	A pin whose binary exists for the target wins over any newer version.
//	Otherwise the newest installed version with an executable file for the
//	target is chosen. The chosen file is made executable if it is not.
//
// Outputs:
//
//	InstalledBinary - The selected binary; meaningful only when found is true.
//	found - False when nothing qualifies. This is the provisioning trigger,
//	        not an error.
//	error - Wraps ErrStoreUnavailable if root cannot be listed.
func (s *Store) ResolveActivePath() (bin InstalledBinary, found bool, err error) {
	if pinned, ok := s.PinnedVersion(); ok {
		if s.HasBinary(pinned) {
			return s.activate(ParseVersion(pinned), true), true, nil
		}
		s.logger.Warn("pinned agent version not installed, falling back to newest",
			slog.String("pinned", pinned))
	}

	versions, err := s.ListInstalled()
	if err != nil {
		return InstalledBinary{}, false, err
	}
	for _, v := range versions {
		if s.HasBinary(v.Name) {
			return s.activate(v, false), true, nil
		}
	}
	return InstalledBinary{}, false, nil
}

func (s *Store) activate(v Version, pinned bool) InstalledBinary {
	path := s.BinaryPath(v.Name)
	bin := InstalledBinary{Version: v, Target: s.target, Path: path, Pinned: pinned}
	if err := EnsureExecutable(path); err != nil {
		s.logger.Warn("failed to mark agent executable",
			slog.String("path", path), slog.String("error", err.Error()))
		return bin
	}
	bin.Executable = true
	return bin
}

// EnsureExecutable adds the owner execute bit to path if it is missing.
// It is a no-op on Windows.
func EnsureExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode&0o100 != 0 {
		return nil
	}
	return os.Chmod(path, mode|0o100)
}
