// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor owns the NeoAi agent child process.
//
// A Supervisor locates the agent executable, starts it on first use, sends
// one request line at a time over its stdin and reads one response line
// from its stdout. A child that dies or whose pipe breaks is restarted up
// to a fixed budget; once the budget is spent the supervisor fails every
// request without touching the OS.
//
// Lifecycle:
//
//	NoProcess -> Starting -> Running -> (Dead | Broken) -> Starting -> ...
//	                                                    -> PermanentlyFailed
//
// Shutdown moves any state to Stopped.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/neoai/services/agent/fetch"
	"github.com/AleutianAI/neoai/services/agent/protocol"
	"github.com/AleutianAI/neoai/services/agent/store"
)

// =============================================================================
// STATE
// =============================================================================

// State is the supervisor lifecycle state.
type State int

const (
	// StateNoProcess means no child is running and none has failed.
	StateNoProcess State = iota

	// StateStarting means a child is being located and spawned.
	StateStarting

	// StateRunning means a child is serving requests.
	StateRunning

	// StateDead means the child exited unexpectedly.
	StateDead

	// StateBroken means a write to the child failed.
	StateBroken

	// StatePermanentlyFailed means the restart budget is spent.
	StatePermanentlyFailed

	// StateStopped means Shutdown was called.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	names := []string{"no_process", "starting", "running", "dead", "broken", "permanently_failed", "stopped"}
	if int(s) >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultMaxRestarts is the restart budget for one supervisor.
	DefaultMaxRestarts = 10

	// DefaultReadTimeout bounds the wait for one response line.
	DefaultReadTimeout = 5 * time.Second

	// DefaultShutdownGrace is how long a child may take to exit after its
	// stdin is closed before it is killed.
	DefaultShutdownGrace = 2 * time.Second

	// DefaultMaxTimeouts is how many consecutive read timeouts mark the
	// child as unresponsive.
	DefaultMaxTimeouts = 2

	// DefaultProvisionCooldown spaces provisioning attempts after a failure.
	DefaultProvisionCooldown = 10 * time.Minute

	// exitSettle is how long a failed write waits to see whether the child
	// has exited.
	exitSettle = 250 * time.Millisecond

	// DefaultClient is the client identifier passed to the agent.
	DefaultClient = "neoai-go"
)

// Config describes how the agent is launched and supervised.
type Config struct {
	// Client is passed as --client.
	Client string

	// LogFilePath is passed as --log-file-path when set.
	LogFilePath string

	// ClientVersion and PluginVersion are passed as client metadata.
	ClientVersion string
	PluginVersion string

	// NativeAutoComplete is passed as nativeAutoComplete metadata.
	NativeAutoComplete bool

	// ExtraArgs are appended after the log file flag.
	ExtraArgs []string

	// CustomBinaryPath bypasses the version store when set.
	CustomBinaryPath string

	// ProtocolVersion is embedded in each request. Empty uses protocol.DefaultVersion.
	ProtocolVersion string

	// MaxRestarts caps restarts for the supervisor's lifetime. Zero uses
	// DefaultMaxRestarts; a negative value disables restarts.
	MaxRestarts int

	// ReadTimeout bounds the wait for one response. Zero uses DefaultReadTimeout.
	ReadTimeout time.Duration

	// ShutdownGrace is the clean-exit window before a kill. Zero uses DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// MaxTimeouts is the number of consecutive read timeouts after which
	// the child is restarted as unresponsive. Zero uses DefaultMaxTimeouts.
	MaxTimeouts int

	// ProvisionCooldown is the minimum spacing between provisioning runs
	// started by requests. Zero uses DefaultProvisionCooldown.
	ProvisionCooldown time.Duration

	// RestartBurst and RestartInterval throttle back-to-back restarts.
	// Zero values use a burst of 2 refilled every 500ms.
	RestartBurst    int
	RestartInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Client == "" {
		c.Client = DefaultClient
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = protocol.DefaultVersion
	}
	if c.MaxRestarts == 0 {
		c.MaxRestarts = DefaultMaxRestarts
	}
	if c.MaxRestarts < 0 {
		c.MaxRestarts = 0
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.MaxTimeouts <= 0 {
		c.MaxTimeouts = DefaultMaxTimeouts
	}
	if c.ProvisionCooldown <= 0 {
		c.ProvisionCooldown = DefaultProvisionCooldown
	}
	if c.RestartBurst <= 0 {
		c.RestartBurst = 2
	}
	if c.RestartInterval <= 0 {
		c.RestartInterval = 500 * time.Millisecond
	}
	return c
}

// Resolver finds the executable to launch. *store.Store implements it.
type Resolver interface {
	ResolveActivePath() (store.InstalledBinary, bool, error)
}

// Provisioner installs the agent when none is found. *fetch.Fetcher implements it.
type Provisioner interface {
	EnsureAvailable(ctx context.Context) *fetch.Future
}

// Launcher builds the command for an executable and its arguments.
type Launcher func(path string, args []string) *exec.Cmd

func defaultLauncher(path string, args []string) *exec.Cmd {
	return exec.Command(path, args...)
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithProvisioner starts provisioning when no executable is found.
func WithProvisioner(p Provisioner) Option {
	return func(s *Supervisor) { s.provisioner = p }
}

// WithLauncher replaces exec.Command for spawning the agent.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launch = l }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// =============================================================================
// SUPERVISOR
// =============================================================================

// Supervisor owns at most one agent process.
//
// Description:
//
//	Requests are serialized: a call holds the supervisor until its response
//	line is read or abandoned, so exactly one request is in flight per
//	child. The restart counter only grows and is passed to each new child
//	as ide-restart-counter metadata.
//
// Thread Safety:
//
//	Safe for concurrent use; concurrent callers are queued.
type Supervisor struct {
	cfg         Config
	resolver    Resolver
	provisioner Provisioner
	launch      Launcher
	logger      *slog.Logger
	limiter     *rate.Limiter
	provisions  *rate.Limiter

	mu       sync.Mutex
	state    State
	proc     *process
	restarts int
	spawns   int
	pending  *fetch.Future
	binary   string
}

// New creates a Supervisor. No process is started until the first request.
func New(cfg Config, resolver Resolver, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:      cfg,
		resolver: resolver,
		launch:   defaultLauncher,
		logger:   slog.Default(),
		state:    StateNoProcess,
		limiter:  rate.NewLimiter(rate.Every(cfg.RestartInterval), cfg.RestartBurst),
	}
	s.provisions = rate.NewLimiter(rate.Every(cfg.ProvisionCooldown), 1)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "supervisor"))
	return s
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State      State
	Alive      bool
	PID        int
	Restarts   int
	Spawns     int
	BinaryPath string
}

// Status returns the current state. It waits for an in-flight request.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Restarts: s.restarts, Spawns: s.spawns, BinaryPath: s.binary}
	if s.proc != nil && !s.proc.exited() {
		st.Alive = true
		st.PID = s.proc.pid()
	}
	return st
}

// Alive reports whether a child is currently running.
func (s *Supervisor) Alive() bool {
	return s.Status().Alive
}

// Request sends payload and returns the decoded response.
//
// Description:
//
//	Starts the agent if needed and restarts a dead one while the budget
//	allows. Every failure is returned as an error with a nil Response;
//	callers that only want "no result this round" can ignore the error.
//	A malformed response line leaves the child running, as does a timeout
//	until Config.MaxTimeouts of them arrive in a row. Responses that show
//	up after their request timed out are discarded before the next write.
//
// Inputs:
//
//	ctx - Bounds waiting for the response and for restart throttling.
//	      A request already written cannot be withdrawn.
//	payload - Any JSON-serializable request body.
//
// Outputs:
//
//	protocol.Response - The decoded response, nil on error.
//	error - ErrNoAgent, ErrSpawn, ErrBrokenPipe, ErrProcessDead,
//	        ErrReadTimeout, ErrRestartsExhausted, ErrShutdown,
//	        protocol.ErrMalformedResponse, or a context error.
func (s *Supervisor) Request(ctx context.Context, payload any) (protocol.Response, error) {
	return s.request(ctx, s.cfg.ProtocolVersion, payload)
}

// RequestWithVersion is Request with an explicit protocol version, for
// callers that forward envelopes built elsewhere.
func (s *Supervisor) RequestWithVersion(ctx context.Context, version string, payload any) (protocol.Response, error) {
	if version == "" {
		version = s.cfg.ProtocolVersion
	}
	return s.request(ctx, version, payload)
}

// WarmUp sends the semantic completion warm-up request. The result is
// logged only.
func (s *Supervisor) WarmUp(ctx context.Context) error {
	resp, err := s.request(ctx, protocol.WarmUpVersion, protocol.WarmUpRequest())
	if err != nil {
		return err
	}
	if c, ok := resp.(*protocol.Completions); ok && len(c.Results) > 0 {
		s.logger.Info("agent warmed up", slog.String("result", c.Results[0].Text()))
		return nil
	}
	s.logger.Warn("agent warm-up returned no results")
	return nil
}

func (s *Supervisor) request(ctx context.Context, version string, payload any) (resp protocol.Response, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Supervisor.Request")
	defer func() {
		recordRequest(ctx, outcome(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	line, err := protocol.Encode(version, payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A child that dies before answering gets the request once more after
	// its restart; any other failure is returned for this round.
	for attempt := 0; ; attempt++ {
		p, err := s.readyLocked(ctx)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(
			attribute.Int("neoai.pid", p.pid()),
			attribute.Int("neoai.restart_counter", p.restartCounter),
		)

		if n := p.discardBuffered(); n > 0 {
			s.logger.Debug("discarding late agent responses", slog.Int("count", n))
		}

		if err := p.write(line); err != nil {
			if attempt == 0 && p.awaitGone(exitSettle) {
				continue
			}
			s.state = StateBroken
			s.logger.Warn("agent pipe broken, restarting",
				slog.Int("pid", p.pid()), slog.String("error", err.Error()))
			if rerr := s.restartLocked(ctx, "broken_pipe"); rerr != nil {
				return nil, fmt.Errorf("%w: %v: %w", ErrBrokenPipe, err, rerr)
			}
			return nil, fmt.Errorf("%w: %v", ErrBrokenPipe, err)
		}

		resp, err := s.readLocked(ctx, p)
		if !errors.Is(err, errStdoutClosed) {
			return resp, err
		}
		if attempt == 0 {
			continue
		}
		return nil, s.handleEOF(ctx, p)
	}
}

// readyLocked returns a running child, restarting a dead one or starting
// the first.
func (s *Supervisor) readyLocked(ctx context.Context) (*process, error) {
	switch s.state {
	case StateStopped:
		return nil, ErrShutdown
	case StatePermanentlyFailed:
		return nil, ErrRestartsExhausted
	}

	if s.proc != nil && s.proc.gone() {
		p := s.proc
		s.state = StateDead
		p.awaitExit(s.cfg.ShutdownGrace)
		s.logExit(p)
		if err := s.restartLocked(ctx, "exited"); err != nil {
			return nil, err
		}
	}
	if s.proc == nil {
		if err := s.startLocked(ctx); err != nil {
			return nil, err
		}
	}
	return s.proc, nil
}

// readLocked waits for the response to the request just written.
//
// A timeout leaves the child running unless it is the MaxTimeouts-th in a
// row, in which case the child is restarted as unresponsive.
func (s *Supervisor) readLocked(ctx context.Context, p *process) (protocol.Response, error) {
	timer := time.NewTimer(s.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case line, ok := <-p.lines:
		if !ok {
			return nil, errStdoutClosed
		}
		p.timeouts = 0
		resp, err := protocol.Decode(line)
		if err != nil {
			s.logger.Debug("discarding corrupted agent response", slog.String("error", err.Error()))
			return nil, err
		}
		return resp, nil

	case <-timer.C:
		p.timeouts++
		s.logger.Warn("agent response timed out",
			slog.Duration("timeout", s.cfg.ReadTimeout),
			slog.Int("pid", p.pid()),
			slog.Int("consecutive", p.timeouts))
		if p.timeouts < s.cfg.MaxTimeouts {
			return nil, ErrReadTimeout
		}
		s.state = StateBroken
		if err := s.restartLocked(ctx, "unresponsive"); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadTimeout, err)
		}
		return nil, ErrReadTimeout

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleEOF runs when stdout closed mid-request: the child is going away.
func (s *Supervisor) handleEOF(ctx context.Context, p *process) error {
	s.state = StateDead
	p.awaitExit(s.cfg.ShutdownGrace)
	s.logExit(p)
	if err := s.restartLocked(ctx, "eof"); err != nil {
		return fmt.Errorf("%w: %w", ErrProcessDead, err)
	}
	return ErrProcessDead
}

// Restart terminates the current child, if any, and starts a new one with
// an incremented restart counter.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStopped:
		return ErrShutdown
	case StatePermanentlyFailed:
		return ErrRestartsExhausted
	}
	return s.restartLocked(ctx, "requested")
}

func (s *Supervisor) restartLocked(ctx context.Context, reason string) error {
	if s.restarts >= s.cfg.MaxRestarts {
		if s.proc != nil {
			s.stopLocked()
		}
		s.state = StatePermanentlyFailed
		s.logger.Error("agent restart budget exhausted, giving up",
			slog.Int("restarts", s.restarts), slog.String("reason", reason))
		recordRestart(ctx, "exhausted")
		return ErrRestartsExhausted
	}

	if s.proc != nil {
		s.stopLocked()
	}
	s.restarts++
	recordRestart(ctx, reason)
	s.logger.Info("restarting agent", slog.Int("restart", s.restarts), slog.String("reason", reason))

	if err := s.limiter.Wait(ctx); err != nil {
		s.state = StateNoProcess
		return err
	}
	return s.startLocked(ctx)
}

// stopLocked terminates the current child. Termination problems are logged.
func (s *Supervisor) stopLocked() {
	p := s.proc
	s.proc = nil
	if err := p.terminate(s.cfg.ShutdownGrace); err != nil {
		s.logger.Warn("agent did not terminate cleanly", slog.String("error", err.Error()))
	}
}

// startLocked locates and spawns the agent.
func (s *Supervisor) startLocked(ctx context.Context) error {
	s.state = StateStarting

	path, err := s.locateLocked(ctx)
	if err != nil {
		s.state = StateNoProcess
		return err
	}

	args := s.args(s.restarts)
	p, err := startProcess(s.launch(path, args), s.restarts)
	s.spawns++
	if err != nil {
		s.state = StateNoProcess
		recordSpawn(ctx, false)
		s.logger.Error("failed to start agent", slog.String("path", path), slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	recordSpawn(ctx, true)

	s.proc = p
	s.binary = path
	s.state = StateRunning
	s.logger.Info("agent started",
		slog.String("path", path),
		slog.Int("pid", p.pid()),
		slog.Int("restart_counter", s.restarts))
	return nil
}

// locateLocked returns the executable path, starting provisioning when
// nothing is installed.
func (s *Supervisor) locateLocked(ctx context.Context) (string, error) {
	if s.cfg.CustomBinaryPath != "" {
		info, err := os.Stat(s.cfg.CustomBinaryPath)
		if err != nil || info.IsDir() {
			s.logger.Error("custom agent binary not usable", slog.String("path", s.cfg.CustomBinaryPath))
			return "", fmt.Errorf("%w: custom binary %s", ErrNoAgent, s.cfg.CustomBinaryPath)
		}
		return s.cfg.CustomBinaryPath, nil
	}

	if s.resolver != nil {
		bin, found, err := s.resolver.ResolveActivePath()
		if err != nil {
			s.logger.Error("failed to resolve agent binary", slog.String("error", err.Error()))
			return "", err
		}
		if found {
			return bin.Path, nil
		}
	}

	s.provisionLocked(ctx)
	return "", ErrNoAgent
}

func (s *Supervisor) provisionLocked(ctx context.Context) {
	if s.provisioner == nil {
		s.logger.Error("agent binary not found and no provisioner configured")
		return
	}
	if s.pending != nil {
		if _, done, _ := s.pending.Result(); !done {
			return
		}
	}
	if !s.provisions.Allow() {
		s.logger.Debug("agent binary not found, provisioning cooling down",
			slog.Duration("cooldown", s.cfg.ProvisionCooldown))
		return
	}
	s.logger.Info("agent binary not found, provisioning in background")
	s.pending = s.provisioner.EnsureAvailable(ctx)
}

// args builds the agent command line for the given restart counter.
func (s *Supervisor) args(restartCounter int) []string {
	args := []string{"--client", s.cfg.Client}
	if s.cfg.LogFilePath != "" {
		args = append(args, "--log-file-path", s.cfg.LogFilePath)
	}
	args = append(args, s.cfg.ExtraArgs...)
	args = append(args, "--client-metadata")
	if s.cfg.ClientVersion != "" {
		args = append(args, "clientVersion="+s.cfg.ClientVersion)
	}
	if s.cfg.PluginVersion != "" {
		args = append(args, "pluginVersion="+s.cfg.PluginVersion)
	}
	args = append(args,
		"nativeAutoComplete="+strconv.FormatBool(s.cfg.NativeAutoComplete),
		"ide-restart-counter="+strconv.Itoa(restartCounter),
	)
	return args
}

func (s *Supervisor) logExit(p *process) {
	attrs := []any{
		slog.Int("pid", p.pid()),
		slog.Int("exit_code", p.exitCode()),
	}
	if lines := p.stderr.Lines(); len(lines) > 0 {
		attrs = append(attrs, slog.String("stderr_tail", strings.Join(lines, "\n")))
	}
	if dropped := p.stderr.lines.Dropped(); dropped > 0 {
		attrs = append(attrs, slog.Int64("stderr_dropped_lines", dropped))
	}
	s.logger.Warn("agent exited unexpectedly", attrs...)
}

// Shutdown stops the child and refuses further requests.
//
// It waits for an in-flight request to finish. The returned
// *TerminationError may be ignored; resources are released regardless.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	if s.proc == nil {
		return nil
	}
	p := s.proc
	s.proc = nil
	return p.terminate(s.cfg.ShutdownGrace)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoAgent):
		return "no_agent"
	case errors.Is(err, ErrRestartsExhausted):
		return "exhausted"
	case errors.Is(err, ErrProcessDead):
		return "dead"
	case errors.Is(err, ErrBrokenPipe):
		return "broken_pipe"
	case errors.Is(err, ErrReadTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	default:
		return "error"
	}
}
