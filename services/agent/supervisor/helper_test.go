// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/neoai/services/agent/protocol"
)

const (
	helperEnv     = "NEOAI_HELPER_AGENT"
	helperModeEnv = "NEOAI_HELPER_MODE"
)

// helperLauncher re-executes the test binary as a fake agent.
func helperLauncher(mode string) Launcher {
	return func(_ string, args []string) *exec.Cmd {
		cmdArgs := append([]string{"-test.run=^TestHelperAgent$", "--"}, args...)
		cmd := exec.Command(os.Args[0], cmdArgs...)
		cmd.Env = append(os.Environ(), helperEnv+"=1", helperModeEnv+"="+mode)
		return cmd
	}
}

// TestHelperAgent is not a real test. It is the fake agent body, run in a
// child process started by helperLauncher.
//
// Modes:
//
//	echo          answer every request
//	exit-after=N  answer N requests, then exit with status 3
//	crash         exit with status 2 before reading anything
//	garbage-first answer the first request with a non-JSON line
//	slow-first    answer the first request after 500ms
//	stubborn      answer requests and ignore stdin EOF
//	skip-first    never answer the first request
//	silent        read requests and never answer
//	close-stdin   close stdin, answer the first request, then idle
func TestHelperAgent(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	os.Exit(runHelperAgent(os.Getenv(helperModeEnv), helperArgs()))
}

func helperArgs() []string {
	for i, a := range os.Args {
		if a == "--" {
			return os.Args[i+1:]
		}
	}
	return nil
}

func runHelperAgent(mode string, args []string) int {
	restartCounter := "?"
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "ide-restart-counter="); ok {
			restartCounter = v
		}
	}
	fmt.Fprintf(os.Stderr, "helper agent starting mode=%s args=%s\n", mode, strings.Join(args, " "))

	exitAfter := -1
	if v, ok := strings.CutPrefix(mode, "exit-after="); ok {
		exitAfter, _ = strconv.Atoi(v)
	}
	if mode == "crash" {
		fmt.Fprintln(os.Stderr, "fatal: crash mode")
		return 2
	}

	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for seq := 1; ; seq++ {
		line, err := in.ReadBytes('\n')
		if err != nil {
			if mode == "stubborn" {
				time.Sleep(time.Hour)
			}
			return 0
		}
		env, err := protocol.DecodeRequest(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad request: %v\n", err)
			continue
		}

		switch {
		case mode == "silent", mode == "skip-first" && seq == 1:
			continue
		case mode == "close-stdin":
			os.Stdin.Close()
			writeEcho(out, env, restartCounter, seq)
			out.Flush()
			time.Sleep(time.Hour)
			return 0
		case mode == "garbage-first" && seq == 1:
			fmt.Fprintln(out, "this is not json {")
		case mode == "slow-first" && seq == 1:
			time.Sleep(500 * time.Millisecond)
			writeEcho(out, env, restartCounter, seq)
		default:
			writeEcho(out, env, restartCounter, seq)
		}
		out.Flush()

		if exitAfter > 0 && seq >= exitAfter {
			return 3
		}
	}
}

func writeEcho(out *bufio.Writer, env protocol.Envelope, restartCounter string, seq int) {
	resp := map[string]any{
		"old_prefix": "",
		"results": []map[string]any{{
			"new_prefix": string(env.Request),
			"old_suffix": "",
			"new_suffix": "",
			"detail":     fmt.Sprintf("restart=%s seq=%d version=%s", restartCounter, seq, env.Version),
		}},
	}
	data, _ := json.Marshal(resp)
	out.Write(data)
	out.WriteByte('\n')
}
