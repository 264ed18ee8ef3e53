// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModePlain, ParseMode("plain"))
	assert.Equal(t, ModeMachine, ParseMode(" MACHINE "))
	assert.Equal(t, ModeRich, ParseMode("rich"))
	assert.Equal(t, ModeRich, ParseMode("fancy"))
}

func TestDetectMode_NonTerminal(t *testing.T) {
	assert.Equal(t, ModeMachine, DetectMode(&bytes.Buffer{}))
	assert.Equal(t, ModeMachine, NewPrinter(&bytes.Buffer{}, "").Mode())
}

func TestPrinter_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Title("NeoAi status")
	p.Success("agent running")
	p.Warning("pinned version missing")
	p.Error("install failed")
	p.Info("target x86_64-unknown-linux-musl")

	assert.Equal(t,
		"OK: agent running\nWARN: pinned version missing\nERROR: install failed\ntarget x86_64-unknown-linux-musl\n",
		buf.String())
}

func TestPrinter_PlainModeHasIconsNoEscapes(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Success("done")
	p.Error("bad")

	out := buf.String()
	assert.Contains(t, out, "✓ done")
	assert.Contains(t, out, "✗ bad")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrinter_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Fields(map[string]string{"state": "running", "pid": "42", "alive": "true"})

	assert.Equal(t, "alive\ttrue\npid\t42\nstate\trunning\n", buf.String())
}

func TestPrinter_FieldsAligned(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Fields(map[string]string{"a": "1", "long": "2"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "  a     1", lines[0])
	assert.Equal(t, "  long  2", lines[1])
}

func TestPrinter_Box(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModeMachine).Box("Installed", "1.4.0")
	assert.Equal(t, "Installed: 1.4.0\n", buf.String())
}

func TestWithSpinner(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	require.NoError(t, p.WithSpinner("Installing agent", func() error { return nil }))
	assert.Equal(t, "PROGRESS: Installing agent\nOK: Installing agent\n", buf.String())

	buf.Reset()
	boom := errors.New("boom")
	err := p.WithSpinner("Installing agent", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "ERROR: Installing agent: boom")
}

func TestSpinner_RichStartStop(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeRich)

	spin := p.NewSpinner("working")
	spin.Start()
	spin.Start()
	spin.UpdateMessage("still working")
	spin.Stop()
	spin.Stop()

	assert.True(t, strings.HasSuffix(buf.String(), "\r\033[K"))
}
