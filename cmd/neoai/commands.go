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
	"fmt"
	"os"

	"github.com/AleutianAI/neoai/cmd/neoai/config"
	"github.com/AleutianAI/neoai/pkg/logging"
	"github.com/AleutianAI/neoai/pkg/ux"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	rootDir    string
	outputMode string

	cfg    config.NeoAiConfig
	logger *logging.Logger
	out    *ux.Printer

	rootCmd = &cobra.Command{
		Use:           "neoai",
		Short:         "Supervise the NeoAi completion agent",
		Long:          `neoai installs, launches and restarts the NeoAi agent and exposes it to editors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logger != nil {
				return logger.Close()
			}
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the agent supervisor and the HTTP bridge",
		RunE:  runServe,
	}

	fetchCmd = &cobra.Command{
		Use:   "fetch",
		Short: "Install the latest agent build in the foreground",
		RunE:  runFetch,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the target platform and installed agent versions",
		RunE:  runStatus,
	}

	requestCmd = &cobra.Command{
		Use:   "request",
		Short: "Send JSON requests from stdin (one per line) and print responses",
		RunE:  runRequest,
	}

	pinCmd = &cobra.Command{
		Use:   "pin [version]",
		Short: "Pin an installed agent version, or clear the pin with --clear",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPin,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the neoai version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
)

var (
	fetchCheckOnly  bool
	requestProtocol string
	pinClear        bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.neoai/neoai.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "agent installation root (overrides agent.root_dir)")
	rootCmd.PersistentFlags().StringVar(&outputMode, "output", "", "output style: rich, plain, machine (default: detect)")

	fetchCmd.Flags().BoolVar(&fetchCheckOnly, "check", false, "only print the latest published version")
	requestCmd.Flags().StringVar(&requestProtocol, "protocol-version", "", "protocol version for each request")
	pinCmd.Flags().BoolVar(&pinClear, "clear", false, "remove the pin")

	rootCmd.AddCommand(serveCmd, fetchCmd, statusCmd, requestCmd, pinCmd, versionCmd)
}

// setup loads configuration and applies global flags.
func setup() error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if rootDir != "" {
		loaded.Agent.RootDir = config.ExpandHome(rootDir)
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	cfg = loaded

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "neoai",
		Format:  logging.Format(cfg.Logging.Format),
	})

	mode := ux.Mode("")
	if outputMode != "" {
		mode = ux.ParseMode(outputMode)
	}
	out = ux.NewPrinter(os.Stdout, mode)
	return nil
}
