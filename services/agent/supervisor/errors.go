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
	"errors"
	"fmt"
)

var (
	// ErrNoAgent is returned when no executable could be located. Provisioning
	// has been started if a provisioner is configured; retry later.
	ErrNoAgent = errors.New("agent executable not available")

	// ErrSpawn is returned when the executable was found but failed to start.
	ErrSpawn = errors.New("failed to start agent")

	// ErrProcessDead is returned when the agent exited while serving a request.
	ErrProcessDead = errors.New("agent process died")

	// ErrBrokenPipe is returned when the request could not be written.
	ErrBrokenPipe = errors.New("agent pipe broken")

	// ErrReadTimeout is returned when no response line arrived in time.
	// The process is left running until Config.MaxTimeouts consecutive
	// timeouts, after which it is restarted.
	ErrReadTimeout = errors.New("agent response timed out")

	// ErrRestartsExhausted is returned once the restart budget is spent.
	// It is terminal for the supervisor.
	ErrRestartsExhausted = errors.New("agent restarts exhausted")

	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("supervisor shut down")

	// errStdoutClosed reports that the reader saw EOF before a response.
	errStdoutClosed = errors.New("agent stdout closed")
)

// TerminationError reports a child that could not be stopped cleanly.
type TerminationError struct {
	PID int
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate agent pid %d: %v", e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error {
	return e.Err
}
