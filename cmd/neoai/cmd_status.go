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
	"strings"

	"github.com/AleutianAI/neoai/services/agent/platform"
	"github.com/AleutianAI/neoai/services/agent/store"
	"github.com/spf13/cobra"
)

func runStatus(cmd *cobra.Command, args []string) error {
	target, err := platform.Host()
	if err != nil {
		out.Error(err.Error())
		return err
	}
	st := store.New(cfg.Agent.RootDir, target, cfg.Agent.Name, logger.Slog())
	return printStatus(st)
}

// printStatus reports the store without launching anything.
func printStatus(st *store.Store) error {
	versions, err := st.ListInstalled()
	if err != nil {
		out.Error(err.Error())
		return err
	}
	names := make([]string, 0, len(versions))
	for _, v := range versions {
		if st.HasBinary(v.Name) {
			names = append(names, v.Name)
		} else {
			names = append(names, v.Name+" (no binary)")
		}
	}

	fields := map[string]string{
		"target":    st.Target().String(),
		"root":      st.Root(),
		"installed": strings.Join(names, ", "),
		"pinned":    "-",
		"active":    "-",
	}
	if pinned, ok := st.PinnedVersion(); ok {
		fields["pinned"] = pinned
	}
	if cfg.Agent.CustomBinaryPath != "" {
		fields["custom_binary"] = cfg.Agent.CustomBinaryPath
	}

	bin, found, err := st.ResolveActivePath()
	if err != nil {
		out.Error(err.Error())
		return err
	}
	out.Title("NeoAi agent")
	if found {
		fields["active"] = bin.Version.Name
		fields["binary"] = bin.Path
		out.Fields(fields)
		out.Success("agent " + bin.Version.Name + " ready")
		return nil
	}
	out.Fields(fields)
	out.Warning("no agent installed; run `neoai fetch`")
	return nil
}
