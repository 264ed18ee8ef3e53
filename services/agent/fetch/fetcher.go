// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetch provisions NeoAi agent builds into the version store.
//
// A build is published as a zip archive per version and target, with an
// optional SHA-256 sidecar:
//
//	{server}/version
//	{server}/{version}/{target}/{archive}
//	{server}/{version}/{target}/{archive}.sha256
//
// The Fetcher resolves the latest version, downloads and verifies the
// archive, and extracts it into {root}/{version}/{target}. Concurrent
// callers in one process share a single install; separate processes are
// serialized by a lock file under the store root.
package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/neoai/services/agent/store"
)

const (
	// DefaultTimeout bounds one complete provisioning run.
	DefaultTimeout = 10 * time.Minute

	// warmUpTimeout bounds the warm-up request sent after an install.
	warmUpTimeout = 30 * time.Second
)

// Config controls the Fetcher.
type Config struct {
	// ArchiveName is the published archive file name, e.g. "NeoAi.zip".
	ArchiveName string

	// RequireChecksum aborts an install when no checksum sidecar is
	// published. When false the archive is installed unverified and a
	// warning is logged.
	RequireChecksum bool

	// MaxExtractBytes bounds each extracted member. Zero uses DefaultMaxExtractBytes.
	MaxExtractBytes int64

	// Timeout bounds one provisioning run. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// WarmUpper is notified after a fresh install so the agent can prime its caches.
type WarmUpper interface {
	WarmUp(ctx context.Context) error
}

// Fetcher downloads, verifies and installs agent builds.
//
// Thread Safety: Safe for concurrent use.
type Fetcher struct {
	source Source
	store  *store.Store
	cfg    Config
	logger *slog.Logger

	group singleflight.Group

	mu   sync.Mutex
	warm WarmUpper
}

// New creates a Fetcher installing into st from source.
func New(source Source, st *store.Store, cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ArchiveName == "" {
		cfg.ArchiveName = "NeoAi.zip"
	}
	if cfg.MaxExtractBytes <= 0 {
		cfg.MaxExtractBytes = DefaultMaxExtractBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Fetcher{
		source: source,
		store:  st,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "fetcher")),
	}
}

// SetWarmUpper registers the hook run after each fresh install.
func (f *Fetcher) SetWarmUpper(w WarmUpper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warm = w
}

func (f *Fetcher) warmUpper() WarmUpper {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warm
}

// LatestVersion queries the version endpoint.
func (f *Fetcher) LatestVersion(ctx context.Context) (string, error) {
	version, err := readSmall(ctx, f.source, "version")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVersionQuery, err)
	}
	if !store.ParseVersion(version).Valid {
		return "", fmt.Errorf("%w: unexpected version %q", ErrVersionQuery, version)
	}
	return version, nil
}

// EnsureAvailable starts provisioning in the background and returns at once.
//
// Description:
//
//	Calls made while an install is running join it rather than starting
//	another. The install is detached from ctx cancellation and bounded by
//	Config.Timeout instead, so an abandoned caller does not leave a
//	half-finished install. Failures are logged and reported through the
//	Future; nothing is retried automatically.
//
// Outputs:
//
//	*Future - Resolves to the installed executable path.
func (f *Fetcher) EnsureAvailable(ctx context.Context) *Future {
	fut := newFuture()
	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan("install", func() (any, error) {
		binPath, fresh, err := f.install(detached)
		if err == nil && fresh {
			if w := f.warmUpper(); w != nil {
				go f.runWarmUp(detached, w)
			}
		}
		return binPath, err
	})

	go func() {
		res := <-ch
		if res.Err != nil {
			fut.resolve("", res.Err)
			return
		}
		fut.resolve(res.Val.(string), nil)
	}()
	return fut
}

// Install provisions the latest version synchronously.
func (f *Fetcher) Install(ctx context.Context) (string, error) {
	binPath, _, err := f.install(ctx)
	return binPath, err
}

func (f *Fetcher) runWarmUp(ctx context.Context, w WarmUpper) {
	ctx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()
	if err := w.WarmUp(ctx); err != nil {
		f.logger.Warn("agent warm-up failed", slog.String("error", err.Error()))
	}
}

// install returns the binary path and whether this call installed it.
func (f *Fetcher) install(ctx context.Context) (binPath string, fresh bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Fetcher.Install")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	version, err := f.LatestVersion(ctx)
	if err != nil {
		f.logger.Error("failed to query latest agent version", slog.String("error", err.Error()))
		recordFetch(ctx, "version_error", 0)
		return "", false, err
	}
	target := f.store.Target()
	span.SetAttributes(
		attribute.String("neoai.version", version),
		attribute.String("neoai.target", target.String()),
	)

	if f.store.HasBinary(version) {
		recordFetch(ctx, "already_installed", 0)
		return f.store.BinaryPath(version), false, store.EnsureExecutable(f.store.BinaryPath(version))
	}

	if err := os.MkdirAll(f.store.Root(), 0o755); err != nil {
		return "", false, fmt.Errorf("create store root: %w", err)
	}
	lock, err := acquireInstallLock(ctx, filepath.Join(f.store.Root(), LockFileName))
	if err != nil {
		recordFetch(ctx, "lock_error", 0)
		return "", false, err
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			f.logger.Warn("failed to release install lock", slog.String("error", releaseErr.Error()))
		}
	}()

	// Another process may have finished the same install while we waited.
	if f.store.HasBinary(version) {
		recordFetch(ctx, "already_installed", 0)
		return f.store.BinaryPath(version), false, nil
	}

	start := time.Now()
	n, err := f.installVersion(ctx, version)
	if err != nil {
		recordFetch(ctx, outcomeFor(err), n)
		return "", false, err
	}
	recordFetch(ctx, "installed", n)

	binPath = f.store.BinaryPath(version)
	f.logger.Info("agent installed",
		slog.String("version", version),
		slog.String("target", target.String()),
		slog.String("path", binPath),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)),
	)
	return binPath, true, nil
}

// installVersion downloads, verifies and extracts one version.
// The temporary archive is removed on every path.
func (f *Fetcher) installVersion(ctx context.Context, version string) (int64, error) {
	target := f.store.Target()
	rel := path.Join(version, target.String(), f.cfg.ArchiveName)
	log := f.logger.With(slog.String("version", version), slog.String("url", f.source.Location(rel)))

	var (
		expected    string
		checksumErr error
		archivePath string
		sum         []byte
		size        int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		expected, checksumErr = readSmall(gctx, f.source, rel+".sha256")
		return nil
	})
	g.Go(func() error {
		var err error
		archivePath, sum, size, err = f.download(gctx, rel)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("agent download failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer func() {
		if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove temporary archive", slog.String("path", archivePath), slog.String("error", err.Error()))
		}
	}()

	if checksumErr != nil {
		if f.cfg.RequireChecksum {
			log.Error("checksum required but unavailable", slog.String("error", checksumErr.Error()))
			return size, fmt.Errorf("%w: %v", ErrChecksumUnavailable, checksumErr)
		}
		log.Warn("checksum unavailable, installing without verification", slog.String("error", checksumErr.Error()))
	} else if err := verifySum(sum, expected); err != nil {
		log.Error("agent archive failed checksum verification",
			slog.Bool("security_event", true),
			slog.String("error", err.Error()))
		return size, err
	}

	if err := f.extract(ctx, version, archivePath); err != nil {
		attrs := []any{slog.String("error", err.Error())}
		if errors.Is(err, ErrPathTraversal) {
			attrs = append(attrs, slog.Bool("security_event", true))
		}
		log.Error("agent archive extraction failed", attrs...)
		return size, err
	}
	return size, nil
}

// download streams rel into a temporary file under the store root and
// hashes it on the way.
func (f *Fetcher) download(ctx context.Context, rel string) (tmpPath string, sum []byte, n int64, err error) {
	body, err := f.source.Open(ctx, rel)
	if err != nil {
		return "", nil, 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(f.store.Root(), ".download-*.zip")
	if err != nil {
		return "", nil, 0, fmt.Errorf("create temporary archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	n, err = io.Copy(io.MultiWriter(tmp, h), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", nil, n, fmt.Errorf("write temporary archive: %w", err)
	}
	return tmp.Name(), h.Sum(nil), n, nil
}

// extract unpacks the archive into a staging directory and renames it
// into place, so the target directory is either complete or absent. A
// version directory left empty by a failed extraction is removed.
func (f *Fetcher) extract(ctx context.Context, version, archivePath string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	versionDir := filepath.Join(f.store.Root(), version)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return fmt.Errorf("create version directory: %w", err)
	}
	defer func() {
		if err != nil {
			// Fails harmlessly when other targets live here.
			_ = os.Remove(versionDir)
		}
	}()
	staging, err := os.MkdirTemp(versionDir, ".staging-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	files, err := extractZip(archivePath, staging, f.store.Target().String(), f.cfg.MaxExtractBytes)
	if err != nil {
		return err
	}
	exe := filepath.Join(staging, f.store.ExecutableName())
	if info, err := os.Stat(exe); err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s not among %d extracted files", ErrBinaryMissing, f.store.ExecutableName(), len(files))
	}

	targetDir := f.store.TargetDir(version)
	if err := os.RemoveAll(targetDir); err != nil {
		return fmt.Errorf("clear target directory: %w", err)
	}
	if err := os.Rename(staging, targetDir); err != nil {
		return fmt.Errorf("move extracted files into place: %w", err)
	}
	return nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrChecksumUnavailable):
		return "checksum_unavailable"
	case errors.Is(err, ErrPathTraversal):
		return "path_traversal"
	case errors.Is(err, ErrDownload):
		return "download_error"
	default:
		return "extract_error"
	}
}
