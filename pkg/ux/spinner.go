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
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows progress while an install or request runs.
type Spinner struct {
	p       *Printer
	mu      sync.Mutex
	message string
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner creates a spinner that writes through p.
func (p *Printer) NewSpinner(message string) *Spinner {
	return &Spinner{p: p, message: message}
}

// Start begins the animation. In machine mode it prints the message once.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	if s.p.mode == ModeMachine {
		s.p.printf("PROGRESS: %s\n", s.currentMessage())
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		frame := 0
		for {
			select {
			case <-s.stop:
				s.p.printf("\r\033[K")
				return
			case <-ticker.C:
				s.p.printf("\r%s %s", s.p.style(spinnerFrames[frame], Styles.Highlight), s.currentMessage())
				frame = (frame + 1) % len(spinnerFrames)
			}
		}
	}()
}

func (s *Spinner) currentMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// UpdateMessage changes the message while running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

// WithSpinner runs fn behind a spinner and reports its outcome.
func (p *Printer) WithSpinner(message string, fn func() error) error {
	spin := p.NewSpinner(message)
	spin.Start()
	err := fn()
	spin.Stop()

	if err != nil {
		p.Error(fmt.Sprintf("%s: %v", message, err))
		return err
	}
	p.Success(message)
	return nil
}
