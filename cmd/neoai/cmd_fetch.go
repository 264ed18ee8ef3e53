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
	"strconv"

	"github.com/spf13/cobra"
)

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger.AgentLogPath(), logger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	if fetchCheckOnly {
		version, err := a.fetcher.LatestVersion(ctx)
		if err != nil {
			return err
		}
		out.Fields(map[string]string{
			"latest":    version,
			"target":    a.target.String(),
			"source":    cfg.Fetch.ServerURL,
			"installed": strconv.FormatBool(a.store.HasBinary(version)),
		})
		return nil
	}

	var path string
	err = out.WithSpinner("Installing NeoAi agent for "+a.target.String(), func() error {
		var ierr error
		path, ierr = a.fetcher.Install(ctx)
		return ierr
	})
	if err != nil {
		return err
	}
	out.Info(path)
	return nil
}
