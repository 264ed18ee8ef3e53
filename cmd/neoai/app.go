// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/neoai/cmd/neoai/config"
	"github.com/AleutianAI/neoai/services/agent/completion"
	"github.com/AleutianAI/neoai/services/agent/fetch"
	"github.com/AleutianAI/neoai/services/agent/platform"
	"github.com/AleutianAI/neoai/services/agent/store"
	"github.com/AleutianAI/neoai/services/agent/supervisor"
)

// app holds the wired agent components for one command run.
type app struct {
	target     platform.Triple
	store      *store.Store
	source     fetch.Source
	fetcher    *fetch.Fetcher
	supervisor *supervisor.Supervisor
	completer  *completion.Completer
	logger     *slog.Logger
}

// newApp wires store, fetcher, supervisor and completer from cfg.
//
// Description:
//
//	The host triple is resolved first; an unsupported platform fails here
//	rather than on the first request. When fetch.auto_install is set the
//	supervisor provisions through the fetcher, and the fetcher warms the
//	supervisor up after a fresh install.
//
// Inputs:
//
//	agentLogPath - Default --log-file-path when agent.log_file_path is unset.
func newApp(ctx context.Context, cfg config.NeoAiConfig, agentLogPath string, logger *slog.Logger) (*app, error) {
	target, err := platform.Host()
	if err != nil {
		return nil, err
	}

	st := store.New(cfg.Agent.RootDir, target, cfg.Agent.Name, logger)

	source, err := fetch.NewSource(ctx, cfg.Fetch.ServerURL, fetch.SourceOptions{
		HTTPClient:         &http.Client{},
		GCSCredentialsFile: cfg.Fetch.GCSCredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("agent source: %w", err)
	}
	fetcher := fetch.New(source, st, fetchConfig(cfg), logger)

	opts := []supervisor.Option{supervisor.WithLogger(logger)}
	if cfg.Fetch.AutoInstall {
		opts = append(opts, supervisor.WithProvisioner(fetcher))
	}
	sup := supervisor.New(supervisorConfig(cfg, agentLogPath), st, opts...)
	fetcher.SetWarmUpper(sup)

	return &app{
		target:     target,
		store:      st,
		source:     source,
		fetcher:    fetcher,
		supervisor: sup,
		completer:  completion.New(sup, completionConfig(cfg), logger),
		logger:     logger,
	}, nil
}

// Close stops the agent and releases the source.
func (a *app) Close() error {
	var errs []error
	if err := a.supervisor.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("stop agent: %w", err))
	}
	if c, ok := a.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}
	return errors.Join(errs...)
}

func supervisorConfig(cfg config.NeoAiConfig, agentLogPath string) supervisor.Config {
	logPath := cfg.Agent.LogFilePath
	if logPath == "" {
		logPath = agentLogPath
	}
	maxRestarts := cfg.Agent.MaxRestarts
	if maxRestarts == 0 {
		// Zero in the file means no restarts; the supervisor reads zero as default.
		maxRestarts = -1
	}
	return supervisor.Config{
		Client:             cfg.Agent.Client,
		LogFilePath:        logPath,
		ClientVersion:      cfg.Agent.ClientVersion,
		PluginVersion:      cfg.Agent.PluginVersion,
		NativeAutoComplete: cfg.Agent.NativeAutoComplete,
		ExtraArgs:          cfg.Agent.ExtraArgs,
		CustomBinaryPath:   cfg.Agent.CustomBinaryPath,
		ProtocolVersion:    cfg.Agent.ProtocolVersion,
		MaxRestarts:        maxRestarts,
		ReadTimeout:        cfg.Agent.ReadTimeout,
		ShutdownGrace:      cfg.Agent.ShutdownGrace,
		MaxTimeouts:        cfg.Agent.MaxTimeouts,
		ProvisionCooldown:  cfg.Agent.ProvisionCooldown,
	}
}

func fetchConfig(cfg config.NeoAiConfig) fetch.Config {
	return fetch.Config{
		ArchiveName:     cfg.Fetch.ArchiveName,
		RequireChecksum: cfg.Fetch.RequireChecksum,
		MaxExtractBytes: cfg.Fetch.MaxExtractBytes,
		Timeout:         cfg.Fetch.Timeout,
	}
}

func completionConfig(cfg config.NeoAiConfig) completion.Config {
	return completion.Config{
		MaxResults: cfg.Completion.MaxResults,
		Languages:  cfg.Completion.LanguageSwitches(),
	}
}
