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

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// LockFileName is the cross-process install lock under the store root.
const LockFileName = ".install.lock"

// lockPollInterval is how often a busy install lock is retried.
const lockPollInterval = 100 * time.Millisecond

// errLockBusy is returned by tryLock when another process holds the lock.
var errLockBusy = errors.New("install lock held by another process")

// installLock is an exclusive advisory lock on a file.
type installLock struct {
	file *os.File
}

// acquireInstallLock blocks until the lock at path is held or ctx is done.
func acquireInstallLock(ctx context.Context, path string) (*installLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open install lock: %w", err)
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		err := tryLock(f)
		if err == nil {
			return &installLock{file: f}, nil
		}
		if !errors.Is(err, errLockBusy) {
			f.Close()
			return nil, fmt.Errorf("acquire install lock: %w", err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("acquire install lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release unlocks and closes the lock file.
func (l *installLock) Release() error {
	unlockErr := unlock(l.file)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
