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
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// lineBufferSize is how many unread response lines are held before the
// reader goroutine blocks.
const lineBufferSize = 16

// process is one running agent child.
//
// It is owned by a Supervisor and only touched under the supervisor's lock,
// except for the reader and wait goroutines which communicate through
// channels.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *stderrTail

	lines chan []byte   // response lines; closed on EOF or read error
	eof   chan struct{} // closed just before lines
	done  chan struct{} // closed when the child has been reaped
	quit  chan struct{} // closed to release a blocked reader
	err   error         // exit status, valid after done

	restartCounter int

	// timeouts counts consecutive requests that got no response in time.
	timeouts int
}

// startProcess launches cmd with its stdio wired to a new process.
func startProcess(cmd *exec.Cmd, restartCounter int) (*process, error) {
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// An *os.File stdout is handed to the child directly, so Wait does not
	// close our read end while lines are still buffered in the pipe.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	cmd.Stdout = pw
	tail := newStderrTail(stderrTailLines)
	cmd.Stderr = tail
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pr.Close()
		pw.Close()
		return nil, err
	}
	pw.Close()

	p := &process{
		cmd:            cmd,
		stdin:          stdin,
		stdout:         pr,
		stderr:         tail,
		lines:          make(chan []byte, lineBufferSize),
		eof:            make(chan struct{}),
		done:           make(chan struct{}),
		quit:           make(chan struct{}),
		restartCounter: restartCounter,
	}
	go p.readLines()
	go p.wait()
	return p, nil
}

func (p *process) readLines() {
	defer close(p.lines)
	defer close(p.eof)
	r := bufio.NewReader(p.stdout)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			select {
			case p.lines <- line:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *process) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

// pid returns the OS process id.
func (p *process) pid() int {
	return p.cmd.Process.Pid
}

// exited reports whether the child has been reaped.
func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// gone reports whether the child has been reaped or closed its stdout.
// Either way it can no longer answer.
func (p *process) gone() bool {
	select {
	case <-p.done:
		return true
	case <-p.eof:
		return true
	default:
		return false
	}
}

// awaitGone waits up to d for the child to go away.
func (p *process) awaitGone(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-p.eof:
		return true
	case <-timer.C:
		return false
	}
}

// awaitExit waits up to d for the child to be reaped, so its exit code
// can be logged.
func (p *process) awaitExit(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
	}
}

// discardBuffered drops response lines that arrived after their request
// was abandoned. It never blocks.
func (p *process) discardBuffered() int {
	n := 0
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// exitCode returns the exit code, or -1 if unknown or still running.
func (p *process) exitCode() int {
	if !p.exited() {
		return -1
	}
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		return exitErr.ExitCode()
	}
	if p.err == nil {
		return 0
	}
	return -1
}

// write sends one framed request line.
func (p *process) write(line []byte) error {
	_, err := p.stdin.Write(line)
	return err
}

// terminate stops the child: close stdin and wait for a clean exit, then
// kill the process group. Resources are released on every path.
func (p *process) terminate(grace time.Duration) error {
	defer func() {
		close(p.quit)
		p.stdout.Close()
	}()

	_ = p.stdin.Close()
	if p.exited() {
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := killProcess(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return &TerminationError{PID: p.pid(), Err: err}
	}
	timer.Reset(grace)
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return &TerminationError{PID: p.pid(), Err: fmt.Errorf("process did not exit within %s of kill", grace)}
	}
}
