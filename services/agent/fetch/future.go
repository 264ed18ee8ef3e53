// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import "context"

// Future is the pending result of EnsureAvailable.
type Future struct {
	done chan struct{}
	path string
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(path string, err error) {
	f.path, f.err = path, err
	close(f.done)
}

// Done is closed once provisioning has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the installed path. It reports ok=false while pending.
func (f *Future) Result() (path string, ok bool, err error) {
	select {
	case <-f.done:
		return f.path, true, f.err
	default:
		return "", false, nil
	}
}

// Wait blocks until provisioning finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.path, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
