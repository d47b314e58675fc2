// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package ports

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// signalProcess is swapped out by tests.
var signalProcess = func(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Guard represents an acquired right to use the serial device. If a
// live lock holder was suspended to obtain it, Release resumes that
// holder. Release is safe to call from every exit path; it runs at
// most once and never fails the session, resuming a holder that has
// since exited is a no-op.
type Guard struct {
	holderPID int
	once      sync.Once
}

// Release resumes the suspended lock holder, if any. Best-effort.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.holderPID > 0 {
			signalProcess(g.holderPID, unix.SIGCONT)
		}
	})
}

// HolderPID returns the suspended holder's process id, or 0 when the
// device was free.
func (g *Guard) HolderPID() int {
	return g.holderPID
}

// AcquireLock inspects the UUCP advisory lock for devicePath inside
// lockDir and arbitrates with its holder:
//
//   - no lock: the device is free, returns an empty guard;
//   - stale lock (holder process gone): the lock file is removed;
//   - live lock: the holder is sent SIGSTOP so it releases its grip
//     on the device, and the returned guard resumes it on Release.
//
// The lock file itself stays in place for a live holder; the
// convention is cooperative, not enforced.
func AcquireLock(devicePath, lockDir string) (*Guard, error) {
	lockFile := filepath.Join(lockDir, "LCK.."+filepath.Base(devicePath))

	data, err := os.ReadFile(lockFile)
	if errors.Is(err, os.ErrNotExist) {
		return &Guard{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock %s: %w", lockFile, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Garbage lock content, treat as stale.
		os.Remove(lockFile)
		return &Guard{}, nil
	}

	if err := signalProcess(pid, 0); errors.Is(err, unix.ESRCH) {
		os.Remove(lockFile)
		return &Guard{}, nil
	}

	if err := signalProcess(pid, unix.SIGSTOP); err != nil {
		return nil, fmt.Errorf("suspend lock holder %d: %w", pid, err)
	}
	return &Guard{holderPID: pid}, nil
}
