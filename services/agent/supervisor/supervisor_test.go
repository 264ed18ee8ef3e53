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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/neoai/services/agent/fetch"
	"github.com/AleutianAI/neoai/services/agent/platform"
	"github.com/AleutianAI/neoai/services/agent/protocol"
	"github.com/AleutianAI/neoai/services/agent/store"
)

// fakeResolver returns a fixed path, or nothing.
type fakeResolver struct {
	mu    sync.Mutex
	path  string
	err   error
	calls int
}

func (r *fakeResolver) ResolveActivePath() (store.InstalledBinary, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return store.InstalledBinary{}, false, r.err
	}
	if r.path == "" {
		return store.InstalledBinary{}, false, nil
	}
	return store.InstalledBinary{Path: r.path, Executable: true}, true, nil
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls int
}

func (p *fakeProvisioner) EnsureAvailable(context.Context) *fetch.Future {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	// Never resolves: provisioning stays in progress for the test.
	return new(fetch.Future)
}

func testConfig() Config {
	return Config{
		Client:          "test",
		ClientVersion:   "1.0",
		PluginVersion:   "2.0",
		ReadTimeout:     5 * time.Second,
		ShutdownGrace:   500 * time.Millisecond,
		RestartInterval: time.Millisecond,
		RestartBurst:    100,
	}
}

func newHelperSupervisor(t *testing.T, mode string, cfg Config) *Supervisor {
	t.Helper()
	s := New(cfg, &fakeResolver{path: os.Args[0]}, WithLauncher(helperLauncher(mode)))
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func completions(t *testing.T, resp protocol.Response) *protocol.Completions {
	t.Helper()
	c, ok := resp.(*protocol.Completions)
	require.True(t, ok, "expected completions, got %T", resp)
	require.NotEmpty(t, c.Results)
	return c
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "no_process", StateNoProcess.String())
	assert.Equal(t, "permanently_failed", StatePermanentlyFailed.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestArgs(t *testing.T) {
	cfg := testConfig()
	cfg.LogFilePath = "/tmp/neoai.log"
	cfg.ExtraArgs = []string{"--debug"}
	cfg.NativeAutoComplete = true
	s := New(cfg, nil)

	assert.Equal(t, []string{
		"--client", "test",
		"--log-file-path", "/tmp/neoai.log",
		"--debug",
		"--client-metadata",
		"clientVersion=1.0",
		"pluginVersion=2.0",
		"nativeAutoComplete=true",
		"ide-restart-counter=3",
	}, s.args(3))
}

func TestRequest_RoundTrip(t *testing.T) {
	s := newHelperSupervisor(t, "echo", testConfig())
	ctx := context.Background()

	resp, err := s.Request(ctx, map[string]any{"Autocomplete": map[string]any{"before": "pri"}})
	require.NoError(t, err)
	c := completions(t, resp)
	assert.JSONEq(t, `{"Autocomplete":{"before":"pri"}}`, c.Results[0].NewPrefix)
	assert.Contains(t, c.Results[0].Detail, "restart=0 seq=1 version=2.0.2")

	resp, err = s.Request(ctx, "second")
	require.NoError(t, err)
	assert.Contains(t, completions(t, resp).Results[0].Detail, "seq=2")

	st := s.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.True(t, st.Alive)
	assert.Equal(t, 1, st.Spawns)
	assert.Equal(t, 0, st.Restarts)
}

func TestRequest_RestartsAfterExit(t *testing.T) {
	ctx := context.Background()

	// The third request follows the second at once, so the child may still
	// be exiting when it is written.
	for trial := 0; trial < 5; trial++ {
		s := newHelperSupervisor(t, "exit-after=2", testConfig())

		for i := 0; i < 2; i++ {
			resp, err := s.Request(ctx, i)
			require.NoError(t, err)
			assert.Contains(t, completions(t, resp).Results[0].Detail, "restart=0")
		}

		resp, err := s.Request(ctx, 3)
		require.NoError(t, err, "trial %d", trial)
		c := completions(t, resp)
		assert.Contains(t, c.Results[0].Detail, "restart=1 seq=1")
		assert.Equal(t, "3", c.Results[0].NewPrefix)

		st := s.Status()
		assert.Equal(t, 1, st.Restarts)
		assert.Equal(t, 2, st.Spawns)
		assert.Equal(t, StateRunning, st.State)
	}
}

func TestRequest_BrokenPipeRestartsOnce(t *testing.T) {
	s := newHelperSupervisor(t, "close-stdin", testConfig())
	ctx := context.Background()

	resp, err := s.Request(ctx, "first")
	require.NoError(t, err)
	assert.Contains(t, completions(t, resp).Results[0].Detail, "restart=0 seq=1")

	// The child closed its stdin but is still running.
	resp, err = s.Request(ctx, "second")
	assert.Nil(t, resp)
	require.ErrorIs(t, err, ErrBrokenPipe)
	st := s.Status()
	assert.Equal(t, 1, st.Restarts)
	assert.Equal(t, 2, st.Spawns)

	resp, err = s.Request(ctx, "third")
	require.NoError(t, err)
	c := completions(t, resp)
	assert.Contains(t, c.Results[0].Detail, "restart=1 seq=1")
	assert.Equal(t, `"third"`, c.Results[0].NewPrefix)
}

func TestRequest_RestartsExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRestarts = 2
	s := newHelperSupervisor(t, "crash", cfg)
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 20; i++ {
		_, lastErr = s.Request(ctx, i)
		require.Error(t, lastErr)
		if errors.Is(lastErr, ErrRestartsExhausted) {
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrRestartsExhausted)

	st := s.Status()
	assert.Equal(t, StatePermanentlyFailed, st.State)
	assert.Equal(t, cfg.MaxRestarts+1, st.Spawns)
	assert.Equal(t, cfg.MaxRestarts, st.Restarts)

	for i := 0; i < 3; i++ {
		resp, err := s.Request(ctx, "after")
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrRestartsExhausted)
	}
	assert.Equal(t, cfg.MaxRestarts+1, s.Status().Spawns, "no spawn after exhaustion")
	assert.ErrorIs(t, s.Restart(ctx), ErrRestartsExhausted)
}

func TestRequest_MalformedResponseKeepsProcess(t *testing.T) {
	s := newHelperSupervisor(t, "garbage-first", testConfig())
	ctx := context.Background()

	resp, err := s.Request(ctx, "first")
	assert.Nil(t, resp)
	require.ErrorIs(t, err, protocol.ErrMalformedResponse)
	pid := s.Status().PID

	resp, err = s.Request(ctx, "second")
	require.NoError(t, err)
	assert.Contains(t, completions(t, resp).Results[0].Detail, "seq=2")

	st := s.Status()
	assert.Equal(t, pid, st.PID)
	assert.Equal(t, 1, st.Spawns)
	assert.Equal(t, 0, st.Restarts)
}

func TestRequest_TimeoutSkipsLateResponse(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	s := newHelperSupervisor(t, "slow-first", cfg)
	ctx := context.Background()

	_, err := s.Request(ctx, "first")
	require.ErrorIs(t, err, ErrReadTimeout)
	assert.True(t, s.Alive())

	// Give the late answer to the first request time to arrive.
	time.Sleep(600 * time.Millisecond)

	resp, err := s.Request(ctx, "second")
	require.NoError(t, err)
	c := completions(t, resp)
	assert.Contains(t, c.Results[0].Detail, "seq=2")
	assert.Equal(t, `"second"`, c.Results[0].NewPrefix)
	assert.Equal(t, 1, s.Status().Spawns)
}

func TestRequest_SkippedRequestDoesNotStallLaterOnes(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 200 * time.Millisecond
	s := newHelperSupervisor(t, "skip-first", cfg)
	ctx := context.Background()

	_, err := s.Request(ctx, "first")
	require.ErrorIs(t, err, ErrReadTimeout)

	for i, payload := range []string{"second", "third", "fourth"} {
		resp, err := s.Request(ctx, payload)
		require.NoError(t, err, "request %d", i)
		assert.Equal(t, `"`+payload+`"`, completions(t, resp).Results[0].NewPrefix)
	}

	st := s.Status()
	assert.Equal(t, 1, st.Spawns)
	assert.Equal(t, 0, st.Restarts)
}

func TestRequest_UnresponsiveAgentRestarted(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.MaxTimeouts = 2
	s := newHelperSupervisor(t, "silent", cfg)
	ctx := context.Background()

	_, err := s.Request(ctx, "first")
	require.ErrorIs(t, err, ErrReadTimeout)
	st := s.Status()
	assert.True(t, st.Alive)
	assert.Equal(t, 0, st.Restarts)
	firstPID := st.PID

	_, err = s.Request(ctx, "second")
	require.ErrorIs(t, err, ErrReadTimeout)
	st = s.Status()
	assert.Equal(t, 1, st.Restarts)
	assert.Equal(t, 2, st.Spawns)
	assert.Equal(t, StateRunning, st.State)
	assert.NotEqual(t, firstPID, st.PID)
}

func TestRequest_NoAgentStartsProvisioningOnce(t *testing.T) {
	resolver := &fakeResolver{}
	prov := &fakeProvisioner{}
	s := New(testConfig(), resolver, WithProvisioner(prov), WithLauncher(helperLauncher("echo")))
	t.Cleanup(func() { _ = s.Shutdown() })

	for i := 0; i < 3; i++ {
		resp, err := s.Request(context.Background(), "x")
		assert.Nil(t, resp)
		require.ErrorIs(t, err, ErrNoAgent)
	}

	st := s.Status()
	assert.Equal(t, StateNoProcess, st.State)
	assert.Equal(t, 0, st.Spawns)
	assert.Equal(t, 0, st.Restarts)
	assert.Equal(t, 1, prov.calls)

	// Once the binary appears the next request spawns it.
	resolver.mu.Lock()
	resolver.path = os.Args[0]
	resolver.mu.Unlock()

	resp, err := s.Request(context.Background(), "x")
	require.NoError(t, err)
	completions(t, resp)
	assert.Equal(t, 0, s.Status().Restarts)
}

// failingInstall wires a real Fetcher to an update server that always
// fails and counts version queries.
func failingInstall(t *testing.T) (*store.Store, *fetch.Fetcher, *atomic.Int32) {
	t.Helper()
	target, err := platform.Host()
	if errors.Is(err, platform.ErrUnsupportedPlatform) {
		t.Skip("no published build for this host")
	}
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/version" {
			hits.Add(1)
		}
		http.Error(w, "unavailable", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	src, err := fetch.NewHTTPSource(srv.URL, srv.Client())
	require.NoError(t, err)
	st := store.New(t.TempDir(), target, "NeoAi", nil)
	return st, fetch.New(src, st, fetch.Config{}, nil), &hits
}

// awaitProvisioning waits for the install started by the last request.
func awaitProvisioning(t *testing.T, s *Supervisor) error {
	t.Helper()
	s.mu.Lock()
	fut := s.pending
	s.mu.Unlock()
	require.NotNil(t, fut)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	return err
}

func TestRequest_FailedProvisioningNotRetriedPerRequest(t *testing.T) {
	st, fetcher, hits := failingInstall(t)
	cfg := testConfig()
	cfg.ProvisionCooldown = time.Hour
	s := New(cfg, st, WithProvisioner(fetcher))
	t.Cleanup(func() { _ = s.Shutdown() })

	for i := 0; i < 5; i++ {
		_, err := s.Request(context.Background(), "x")
		require.ErrorIs(t, err, ErrNoAgent)
		require.ErrorIs(t, awaitProvisioning(t, s), fetch.ErrVersionQuery)
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestRequest_ProvisioningRetriedAfterCooldown(t *testing.T) {
	st, fetcher, hits := failingInstall(t)
	cfg := testConfig()
	cfg.ProvisionCooldown = 50 * time.Millisecond
	s := New(cfg, st, WithProvisioner(fetcher))
	t.Cleanup(func() { _ = s.Shutdown() })

	_, err := s.Request(context.Background(), "x")
	require.ErrorIs(t, err, ErrNoAgent)
	require.Error(t, awaitProvisioning(t, s))

	time.Sleep(100 * time.Millisecond)
	_, err = s.Request(context.Background(), "x")
	require.ErrorIs(t, err, ErrNoAgent)
	require.Error(t, awaitProvisioning(t, s))
	assert.EqualValues(t, 2, hits.Load())
}

func TestRequest_StoreUnavailable(t *testing.T) {
	s := New(testConfig(), &fakeResolver{err: store.ErrStoreUnavailable})

	_, err := s.Request(context.Background(), "x")
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Equal(t, StateNoProcess, s.Status().State)
}

func TestRequest_CustomBinaryPath(t *testing.T) {
	cfg := testConfig()
	cfg.CustomBinaryPath = filepath.Join(t.TempDir(), "missing")
	resolver := &fakeResolver{path: os.Args[0]}
	s := New(cfg, resolver, WithLauncher(helperLauncher("echo")))

	_, err := s.Request(context.Background(), "x")
	require.ErrorIs(t, err, ErrNoAgent)
	assert.Equal(t, 0, resolver.calls, "custom binary bypasses the store")

	cfg.CustomBinaryPath = os.Args[0]
	s = New(cfg, resolver, WithLauncher(helperLauncher("echo")))
	t.Cleanup(func() { _ = s.Shutdown() })
	_, err = s.Request(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, os.Args[0], s.Status().BinaryPath)
}

func TestRestart_IncrementsCounter(t *testing.T) {
	s := newHelperSupervisor(t, "echo", testConfig())
	ctx := context.Background()

	_, err := s.Request(ctx, "x")
	require.NoError(t, err)
	firstPID := s.Status().PID

	require.NoError(t, s.Restart(ctx))
	resp, err := s.Request(ctx, "y")
	require.NoError(t, err)
	assert.Contains(t, completions(t, resp).Results[0].Detail, "restart=1 seq=1")
	assert.NotEqual(t, firstPID, s.Status().PID)
}

func TestShutdown_KillsStubbornAgent(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownGrace = 100 * time.Millisecond
	s := New(cfg, &fakeResolver{path: os.Args[0]}, WithLauncher(helperLauncher("stubborn")))

	_, err := s.Request(context.Background(), "x")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Shutdown())
	assert.Less(t, time.Since(start), 2*time.Second)

	st := s.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.False(t, st.Alive)

	_, err = s.Request(context.Background(), "x")
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestWarmUp(t *testing.T) {
	s := newHelperSupervisor(t, "echo", testConfig())
	require.NoError(t, s.WarmUp(context.Background()))

	resp, err := s.Request(context.Background(), "after")
	require.NoError(t, err)
	assert.Contains(t, completions(t, resp).Results[0].Detail, "seq=2")
}

func TestRequest_ConcurrentCallersSerialized(t *testing.T) {
	s := newHelperSupervisor(t, "echo", testConfig())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.Request(context.Background(), i)
			if err != nil {
				errs <- err
				return
			}
			if c, ok := resp.(*protocol.Completions); !ok || len(c.Results) != 1 {
				errs <- errors.New("unexpected response")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 1, s.Status().Spawns)
}

func TestStderrTail(t *testing.T) {
	tail := newStderrTail(3)
	_, _ = tail.Write([]byte("one\ntwo\r\nthr"))
	_, _ = tail.Write([]byte("ee\nfour\nfive"))

	lines := tail.Lines()
	assert.Equal(t, []string{"two", "three", "four", "five"}, lines)
	assert.EqualValues(t, 1, tail.lines.Dropped())

	long := strings.Repeat("x", stderrMaxLineSize+10)
	_, _ = tail.Write([]byte(long))
	assert.Len(t, tail.Lines()[len(tail.Lines())-1], stderrMaxLineSize)
}
