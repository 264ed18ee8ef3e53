// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/neoai/pkg/validation"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is read.
const (
	EnvServerURL = "NEOAI_SERVER_URL"
	EnvRootDir   = "NEOAI_ROOT_DIR"
	EnvLogLevel  = "NEOAI_LOG_LEVEL"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultPath returns ~/.neoai/neoai.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".neoai", "neoai.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
//
// Description:
//
//	An empty path means DefaultPath. Keys missing from the file keep their
//	default values. Environment overrides are applied, ~ is expanded in
//	path settings, and the result is validated.
//
// Outputs:
//
//	NeoAiConfig - The effective configuration.
//	error - Read, parse, or ErrInvalidConfig failures.
func Load(path string) (NeoAiConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return NeoAiConfig{}, err
		}
		path = p
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Info("First run detected, creating config", "path", path)
		if err := createDefault(path); err != nil {
			return NeoAiConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return NeoAiConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NeoAiConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnv(&cfg)
	expandPaths(&cfg)

	if err := Validate(cfg); err != nil {
		return NeoAiConfig{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg NeoAiConfig) error {
	if err := validation.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validation.ValidateArgs(cfg.Agent.ExtraArgs); err != nil {
		return fmt.Errorf("%w: agent.extra_args: %v", ErrInvalidConfig, err)
	}
	scheme, _, _ := strings.Cut(cfg.Fetch.ServerURL, "://")
	switch scheme {
	case "http", "https", "gs":
	default:
		return fmt.Errorf("%w: fetch.server_url must be http, https or gs, got %q", ErrInvalidConfig, cfg.Fetch.ServerURL)
	}
	return nil
}

func applyEnv(cfg *NeoAiConfig) {
	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.Fetch.ServerURL = v
	}
	if v := os.Getenv(EnvRootDir); v != "" {
		cfg.Agent.RootDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func expandPaths(cfg *NeoAiConfig) {
	cfg.Agent.RootDir = ExpandHome(cfg.Agent.RootDir)
	cfg.Agent.CustomBinaryPath = ExpandHome(cfg.Agent.CustomBinaryPath)
	cfg.Agent.LogFilePath = ExpandHome(cfg.Agent.LogFilePath)
	cfg.Logging.Dir = ExpandHome(cfg.Logging.Dir)
	cfg.Fetch.GCSCredentialsFile = ExpandHome(cfg.Fetch.GCSCredentialsFile)
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
