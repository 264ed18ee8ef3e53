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
	"time"

	"github.com/AleutianAI/neoai/services/telemetry"
)

const (
	// DefaultServerURL hosts published agent builds.
	DefaultServerURL = "https://update.neoai.com/bundles"

	// DefaultAgentName is the executable inside each published archive.
	DefaultAgentName = "NeoAi"

	// DefaultBridgePort is the port the notebook frontend calls.
	DefaultBridgePort = 9999
)

// NeoAiConfig is the contents of neoai.yaml.
type NeoAiConfig struct {
	// Agent controls how the agent binary is located and launched.
	Agent AgentConfig `yaml:"agent"`

	// Fetch controls installing agent builds.
	Fetch FetchConfig `yaml:"fetch"`

	// Completion holds editor-facing completion settings.
	Completion CompletionConfig `yaml:"completion"`

	// Bridge configures the local HTTP bridge.
	Bridge BridgeConfig `yaml:"bridge"`

	// Logging configures NeoAi's own logs.
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry configures metric and trace export.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type AgentConfig struct {
	Name               string        `yaml:"name" validate:"required"`
	RootDir            string        `yaml:"root_dir" validate:"required"`
	CustomBinaryPath   string        `yaml:"custom_binary_path,omitempty"`
	LogFilePath        string        `yaml:"log_file_path,omitempty"`
	Client             string        `yaml:"client" validate:"clientname"`
	ClientVersion      string        `yaml:"client_version,omitempty"`
	PluginVersion      string        `yaml:"plugin_version,omitempty"`
	NativeAutoComplete bool          `yaml:"native_auto_complete"`
	ExtraArgs          []string      `yaml:"extra_args,omitempty"`
	ProtocolVersion    string        `yaml:"protocol_version,omitempty"`
	MaxRestarts        int           `yaml:"max_restarts" validate:"gte=0"`
	ReadTimeout        time.Duration `yaml:"read_timeout" validate:"gt=0"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace" validate:"gte=0"`
	MaxTimeouts        int           `yaml:"max_timeouts" validate:"gte=0"`
	ProvisionCooldown  time.Duration `yaml:"provision_cooldown" validate:"gte=0"`
}

type FetchConfig struct {
	// ServerURL is an http(s) or gs:// base for published builds.
	ServerURL          string        `yaml:"server_url" validate:"required,url"`
	ArchiveName        string        `yaml:"archive_name" validate:"required"`
	AutoInstall        bool          `yaml:"auto_install"`
	RequireChecksum    bool          `yaml:"require_checksum"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxExtractBytes    int64         `yaml:"max_extract_bytes" validate:"gte=0"`
	GCSCredentialsFile string        `yaml:"gcs_credentials_file,omitempty"`
}

type LanguageConfig struct {
	Enabled bool `yaml:"enabled"`
}

type CompletionConfig struct {
	MaxResults    int                       `yaml:"max_results" validate:"gte=1,lte=100"`
	TriggerDelay  time.Duration             `yaml:"trigger_delay" validate:"gte=0"`
	DebounceDelay time.Duration             `yaml:"debounce_delay" validate:"gte=0"`
	Languages     map[string]LanguageConfig `yaml:"languages,omitempty"`
}

type BridgeConfig struct {
	Host  string `yaml:"host" validate:"required"`
	Port  int    `yaml:"port" validate:"gte=1,lte=65535"`
	Debug bool   `yaml:"debug"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir    string `yaml:"dir,omitempty"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() NeoAiConfig {
	tel := telemetry.DefaultConfig()
	return NeoAiConfig{
		Agent: AgentConfig{
			Name:              DefaultAgentName,
			RootDir:           "~/.neoai/binaries",
			Client:            "neoai-go",
			MaxRestarts:       10,
			ReadTimeout:       5 * time.Second,
			ShutdownGrace:     2 * time.Second,
			MaxTimeouts:       2,
			ProvisionCooldown: 10 * time.Minute,
		},
		Fetch: FetchConfig{
			ServerURL:       DefaultServerURL,
			ArchiveName:     "NeoAi.zip",
			AutoInstall:     true,
			Timeout:         10 * time.Minute,
			MaxExtractBytes: 512 << 20,
		},
		Completion: CompletionConfig{
			MaxResults:    10,
			TriggerDelay:  time.Second,
			DebounceDelay: 500 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			Host: "127.0.0.1",
			Port: DefaultBridgePort,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.neoai/logs",
		},
		Telemetry: tel,
	}
}

// LanguageSwitches flattens Languages for completion.Config.
func (c CompletionConfig) LanguageSwitches() map[string]bool {
	if len(c.Languages) == 0 {
		return nil
	}
	out := make(map[string]bool, len(c.Languages))
	for name, lang := range c.Languages {
		out[name] = lang.Enabled
	}
	return out
}
