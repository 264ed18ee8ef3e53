// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the neoai CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// NeoAi color palette
var (
	ColorAccent  = lipgloss.Color("#7C5CFF") // Titles, highlights
	ColorSuccess = lipgloss.Color("#2CD7A0")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6C7A89")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAccent).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1),
}

// Icon provides status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Mode controls how much styling a Printer applies.
type Mode string

const (
	// ModeRich uses colors, icons and boxes.
	ModeRich Mode = "rich"

	// ModePlain uses icons without color.
	ModePlain Mode = "plain"

	// ModeMachine prints tab-separated, prefix-tagged lines for scripts.
	ModeMachine Mode = "machine"
)

// ParseMode converts a flag value to a Mode. Unknown values give ModeRich.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePlain:
		return ModePlain
	case ModeMachine:
		return ModeMachine
	default:
		return ModeRich
	}
}

// DetectMode returns ModeRich for a terminal and ModeMachine otherwise.
func DetectMode(w io.Writer) Mode {
	f, ok := w.(*os.File)
	if !ok {
		return ModeMachine
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeRich
	}
	return ModeMachine
}

// Printer writes styled CLI output. Safe for concurrent use.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer. An empty mode is detected from w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = DetectMode(w)
	}
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) icon(i Icon, style lipgloss.Style) string {
	if p.mode == ModeRich {
		return style.Render(string(i))
	}
	return string(i)
}

func (p *Printer) style(text string, style lipgloss.Style) string {
	if p.mode == ModeRich {
		return style.Render(text)
	}
	return text
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	p.printf("%s\n", p.style(text, Styles.Title))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		p.printf("OK: %s\n", text)
		return
	}
	p.printf("%s %s\n", p.icon(IconSuccess, Styles.Success), p.style(text, Styles.Success))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		p.printf("WARN: %s\n", text)
		return
	}
	p.printf("%s %s\n", p.icon(IconWarning, Styles.Warning), p.style(text, Styles.Warning))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		p.printf("ERROR: %s\n", text)
		return
	}
	p.printf("%s %s\n", p.icon(IconError, Styles.Error), p.style(text, Styles.Error))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		p.printf("%s\n", text)
		return
	}
	p.printf("%s %s\n", p.style("│", Styles.Muted), text)
}

// Fields prints key/value pairs sorted by key.
func (p *Printer) Fields(fields map[string]string) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if p.mode == ModeMachine {
			p.printf("%s\t%s\n", k, fields[k])
			continue
		}
		label := fmt.Sprintf("%-*s", width, k)
		p.printf("  %s  %s\n", p.style(label, Styles.Muted), fields[k])
	}
}

// Box prints content in a rounded box under a title.
func (p *Printer) Box(title, content string) {
	switch p.mode {
	case ModeMachine:
		p.printf("%s: %s\n", title, content)
	case ModePlain:
		p.printf("%s\n%s\n", title, content)
	default:
		p.printf("%s\n", Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
	}
}

// StatusIcon returns the icon for a boolean health check.
func (p *Printer) StatusIcon(ok bool) string {
	if ok {
		return p.icon(IconSuccess, Styles.Success)
	}
	return p.icon(IconError, Styles.Error)
}
