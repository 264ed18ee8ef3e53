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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/neoai/pkg/validation"
	"github.com/AleutianAI/neoai/services/agent/protocol"
	"github.com/spf13/cobra"
)

func runRequest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger.AgentLogPath(), logger.Slog())
	if err != nil {
		return err
	}
	defer a.Close()

	return forwardRequests(ctx, a.supervisor, requestProtocol, cmd.InOrStdin(), cmd.OutOrStdout())
}

// versionedRequester is the part of the supervisor the request command uses.
type versionedRequester interface {
	RequestWithVersion(ctx context.Context, version string, payload any) (protocol.Response, error)
}

// forwardRequests sends each non-empty input line to the agent and writes
// one output line per request. Failed requests print an empty JSON object.
func forwardRequests(ctx context.Context, agent versionedRequester, version string, in io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), validation.MaxTextBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return fmt.Errorf("input is not JSON: %.40q", line)
		}
		resp, err := agent.RequestWithVersion(ctx, version, json.RawMessage(line))
		if err != nil {
			logger.Warn("Agent request failed", "error", err)
			fmt.Fprintln(w, "{}")
			continue
		}
		fmt.Fprintln(w, string(resp.Raw()))
	}
	return scanner.Err()
}
