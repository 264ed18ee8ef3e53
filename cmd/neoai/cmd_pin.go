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
	"errors"

	"github.com/AleutianAI/neoai/services/agent/platform"
	"github.com/AleutianAI/neoai/services/agent/store"
	"github.com/spf13/cobra"
)

func runPin(cmd *cobra.Command, args []string) error {
	target, err := platform.Host()
	if err != nil {
		return err
	}
	st := store.New(cfg.Agent.RootDir, target, cfg.Agent.Name, logger.Slog())
	return pinVersion(st, args, pinClear)
}

func pinVersion(st *store.Store, args []string, unpin bool) error {
	if unpin {
		if err := st.Unpin(); err != nil {
			return err
		}
		out.Success("pin cleared")
		return nil
	}
	if len(args) != 1 {
		return errors.New("pin needs a version or --clear")
	}
	if err := st.Pin(args[0]); err != nil {
		out.Error(err.Error())
		return err
	}
	out.Success("pinned " + args[0])
	return nil
}
