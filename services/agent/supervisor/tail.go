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
	"bytes"
	"sync"
)

// ringBuffer keeps the most recent items up to a fixed capacity.
type ringBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	size     int
	capacity int
	dropped  int64
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}
	return &ringBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Push appends item, overwriting the oldest when full.
func (r *ringBuffer[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.size) % r.capacity
	r.items[idx] = item
	if r.size < r.capacity {
		r.size++
		return
	}
	r.head = (r.head + 1) % r.capacity
	r.dropped++
}

// Snapshot returns the items oldest first without removing them.
func (r *ringBuffer[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%r.capacity]
	}
	return out
}

// Dropped returns how many items were overwritten.
func (r *ringBuffer[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// stderrTail is an io.Writer that keeps the last lines the agent wrote to
// stderr, for logging when it dies.
type stderrTail struct {
	mu      sync.Mutex
	lines   *ringBuffer[string]
	partial []byte
}

const (
	stderrTailLines   = 64
	stderrMaxLineSize = 4 << 10
)

func newStderrTail(capacity int) *stderrTail {
	return &stderrTail{lines: newRingBuffer[string](capacity)}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data := p
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.partial = append(t.partial, data[:i]...)
		t.flushLocked()
		data = data[i+1:]
	}
	t.partial = append(t.partial, data...)
	if len(t.partial) > stderrMaxLineSize {
		t.flushLocked()
	}
	return len(p), nil
}

func (t *stderrTail) flushLocked() {
	line := bytes.TrimRight(t.partial, "\r")
	if len(line) > stderrMaxLineSize {
		line = line[:stderrMaxLineSize]
	}
	t.lines.Push(string(line))
	t.partial = t.partial[:0]
}

// Lines returns the captured lines, including an unterminated last line.
func (t *stderrTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines.Snapshot()
	if len(t.partial) > 0 {
		lines = append(lines, string(t.partial))
	}
	return lines
}
