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
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/neoai/services/agent/platform"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	target, err := platform.Resolve("linux", "amd64")
	require.NoError(t, err)
	return New(t.TempDir(), target, "NeoAi", nil)
}

func installFake(t *testing.T, s *Store, version string, mode os.FileMode) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.TargetDir(version), 0o755))
	path := s.BinaryPath(version)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
	return path
}

func names(versions []Version) []string {
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.Name
	}
	return out
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"1.2.3", true},
		{"1.2", true},
		{"4.4.223", true},
		{"abc", false},
		{"", false},
		{"v1.2.3", false},
		{"1.2.x", false},
		{"1.2.3-rc1", false},
		{"1.2.3+build5", false},
		{"1.2.3.4", false},
		{"01.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ParseVersion(tt.name).Valid)
		})
	}
}

func TestSortNewestFirst_InvalidNeverOutranksValid(t *testing.T) {
	versions := []Version{
		ParseVersion("abc"),
		ParseVersion("0.0.1"),
		ParseVersion(""),
		ParseVersion("10.0.0"),
		ParseVersion("zzz"),
		ParseVersion("2.1.0"),
		ParseVersion("2.10.0"),
		ParseVersion("1.2.3-rc1"),
		ParseVersion("1.2.3.4"),
		ParseVersion("01.0.0"),
		ParseVersion("1.2.2"),
	}

	assert.NotPanics(t, func() { SortNewestFirst(versions) })
	assert.Equal(t, []string{
		"10.0.0", "2.10.0", "2.1.0", "1.2.2", "0.0.1",
		"", "01.0.0", "1.2.3-rc1", "1.2.3.4", "abc", "zzz",
	}, names(versions))
}

func TestCompare_ExplicitNameFirstOnTie(t *testing.T) {
	versions := []Version{ParseVersion("1.2"), ParseVersion("1.2.0")}
	SortNewestFirst(versions)
	assert.Equal(t, []string{"1.2.0", "1.2"}, names(versions))
}

func TestListInstalled(t *testing.T) {
	s := testStore(t)
	installFake(t, s, "1.0.0", 0o755)
	installFake(t, s, "1.3.0", 0o755)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "garbage"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "9.9.9"), []byte("file, not dir"), 0o644))

	versions, err := s.ListInstalled()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.3.0", "1.0.0", "garbage"}, names(versions))
}

func TestListInstalled_MissingRoot(t *testing.T) {
	target, _ := platform.Resolve("linux", "amd64")
	s := New(filepath.Join(t.TempDir(), "absent"), target, "NeoAi", nil)

	versions, err := s.ListInstalled()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestListInstalled_Unreadable(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	s := testStore(t)
	require.NoError(t, os.Chmod(s.Root(), 0o000))
	t.Cleanup(func() { _ = os.Chmod(s.Root(), 0o755) })

	_, err := s.ListInstalled()
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestResolveActivePath_NewestWithBinary(t *testing.T) {
	s := testStore(t)
	installFake(t, s, "1.0.0", 0o755)
	want := installFake(t, s, "1.2.0", 0o755)
	// Newer version without a binary for this target is skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "2.0.0", "aarch64-apple-darwin"), 0o755))

	bin, found, err := s.ResolveActivePath()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, bin.Path)
	assert.Equal(t, "1.2.0", bin.Version.Name)
	assert.False(t, bin.Pinned)
}

func TestResolveActivePath_PinWins(t *testing.T) {
	s := testStore(t)
	pinned := installFake(t, s, "1.0.0", 0o755)
	installFake(t, s, "3.0.0", 0o755)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), PinFileName), []byte("1.0.0\n"), 0o644))

	bin, found, err := s.ResolveActivePath()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pinned, bin.Path)
	assert.True(t, bin.Pinned)
}

func TestResolveActivePath_PinWithoutBinaryFallsBack(t *testing.T) {
	s := testStore(t)
	newest := installFake(t, s, "3.0.0", 0o755)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), PinFileName), []byte("0.9.0"), 0o644))

	bin, found, err := s.ResolveActivePath()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, newest, bin.Path)
}

func TestResolveActivePath_PinCannotEscapeRoot(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), PinFileName), []byte("../elsewhere"), 0o644))

	_, found, err := s.ResolveActivePath()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveActivePath_NotFound(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "1.0.0"), 0o755))

	_, found, err := s.ResolveActivePath()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPin(t *testing.T) {
	s := testStore(t)
	pinned := installFake(t, s, "1.0.0", 0o755)
	installFake(t, s, "2.0.0", 0o755)

	require.NoError(t, s.Pin("1.0.0"))
	version, ok := s.PinnedVersion()
	require.True(t, ok)
	assert.Equal(t, "1.0.0", version)

	bin, found, err := s.ResolveActivePath()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pinned, bin.Path)

	require.NoError(t, s.Unpin())
	require.NoError(t, s.Unpin())
	_, ok = s.PinnedVersion()
	assert.False(t, ok)
}

func TestPin_RejectsMissingVersion(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.MkdirAll(s.Root(), 0o755))

	assert.ErrorIs(t, s.Pin("9.9.9"), ErrNotInstalled)
	assert.ErrorIs(t, s.Pin("../x"), ErrNotInstalled)
	_, ok := s.PinnedVersion()
	assert.False(t, ok)
}

func TestResolveActivePath_MarksExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no execute bit on windows")
	}
	s := testStore(t)
	path := installFake(t, s, "1.4.0", 0o644)

	bin, found, err := s.ResolveActivePath()
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, bin.Executable)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)
}

func TestWatch_ReportsInstall(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got InstalledBinary
	var seen bool
	require.NoError(t, s.watch(ctx, func(bin InstalledBinary, found bool) {
		mu.Lock()
		defer mu.Unlock()
		if found {
			got, seen = bin, true
		}
	}, 20*time.Millisecond))

	// Build the version in a hidden staging dir and rename it in, as installs do.
	staging := filepath.Join(s.Root(), ".staging")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, s.Target().String()), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, s.Target().String(), s.ExecutableName()), []byte("x"), 0o755))
	require.NoError(t, os.Rename(staging, filepath.Join(s.Root(), "2.0.0")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "2.0.0", got.Version.Name)
}

func TestWatch_ReportsInstallIntoVersionDir(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "3.0.0"), 0o755))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var found []string
	require.NoError(t, s.watch(ctx, func(bin InstalledBinary, ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			found = append(found, bin.Version.Name)
		}
	}, 20*time.Millisecond))

	stageInto := func(version string) {
		versionDir := filepath.Join(s.Root(), version)
		staging := filepath.Join(versionDir, ".staging-1")
		require.NoError(t, os.MkdirAll(staging, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(staging, s.ExecutableName()), []byte("x"), 0o755))
		require.NoError(t, os.Rename(staging, filepath.Join(versionDir, s.Target().String())))
	}
	lastFound := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(found) == 0 {
			return ""
		}
		return found[len(found)-1]
	}

	// A version directory left over from an earlier failed install.
	stageInto("3.0.0")
	require.Eventually(t, func() bool { return lastFound() == "3.0.0" }, 5*time.Second, 10*time.Millisecond)

	// A version directory that exists for longer than the debounce before
	// its target directory lands.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "4.0.0"), 0o755))
	time.Sleep(100 * time.Millisecond)
	stageInto("4.0.0")
	require.Eventually(t, func() bool { return lastFound() == "4.0.0" }, 5*time.Second, 10*time.Millisecond)
}
