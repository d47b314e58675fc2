// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package ports

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// ============================================================
// Allow-list Parsing
// ============================================================

func TestParseAllowList(t *testing.T) {
	input := strings.Join([]string{
		"",
		"# hash comment",
		"// slash comment",
		"! bang comment",
		"not-a-device-path",
		"/dev/serial/by-id/foo",
		"  /dev/serial/by-id/bar  ",
		"",
	}, "\n")

	got := ParseAllowList(strings.NewReader(input))
	want := []string{"/dev/serial/by-id/foo", "/dev/serial/by-id/bar"}

	if len(got) != len(want) {
		t.Fatalf("got %d entries %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadAllowList_MissingCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "ports")

	_, err := LoadAllowList(path)
	if !errors.Is(err, ErrAllowListEmpty) {
		t.Fatalf("expected ErrAllowListEmpty, got %v", err)
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("template was not created: %v", readErr)
	}
	if !strings.Contains(string(data), "#") {
		t.Error("template has no comment lines")
	}
}

func TestLoadAllowList_OnlyComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports")
	os.WriteFile(path, []byte("# nothing here\n"), 0o644)

	if _, err := LoadAllowList(path); !errors.Is(err, ErrAllowListEmpty) {
		t.Errorf("expected ErrAllowListEmpty, got %v", err)
	}
}

// ============================================================
// Discovery
// ============================================================

func TestDiscover_PicksFirstConnected(t *testing.T) {
	devDir := t.TempDir()
	target := filepath.Join(devDir, "real-device")
	os.WriteFile(target, nil, 0o644)
	link := filepath.Join(devDir, "usb-bridge-if00")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	allowPath := filepath.Join(t.TempDir(), "ports")
	os.WriteFile(allowPath, []byte(
		"/dev/never-connected\n"+link+"\n"), 0o644)

	got, err := Discover(allowPath, devDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(target)
	if got != resolved {
		t.Errorf("Discover = %q, want canonical %q", got, resolved)
	}
}

func TestDiscover_NoneConnected(t *testing.T) {
	allowPath := filepath.Join(t.TempDir(), "ports")
	os.WriteFile(allowPath, []byte("/dev/not-there\n"), 0o644)

	_, err := Discover(allowPath, t.TempDir())
	if !errors.Is(err, ErrNoDeviceConnected) {
		t.Errorf("expected ErrNoDeviceConnected, got %v", err)
	}
}

func TestWaitForNew(t *testing.T) {
	devDir := t.TempDir()
	os.WriteFile(filepath.Join(devDir, "existing"), nil, 0o644)
	before := SnapshotDevices(devDir)

	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(filepath.Join(devDir, "fresh"), nil, 0o644)
	}()

	got, err := WaitForNew(devDir, before, time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(got) != "fresh" {
		t.Errorf("WaitForNew = %q, want path ending in 'fresh'", got)
	}
}

func TestWaitForNew_Timeout(t *testing.T) {
	devDir := t.TempDir()
	before := SnapshotDevices(devDir)

	_, err := WaitForNew(devDir, before, 30*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestAppendAllowList_SkipsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports")

	added, err := AppendAllowList(path, "/dev/serial/by-id/foo")
	if err != nil || !added {
		t.Fatalf("first append: added=%v err=%v", added, err)
	}
	added, err = AppendAllowList(path, "/dev/serial/by-id/foo")
	if err != nil || added {
		t.Fatalf("duplicate append: added=%v err=%v", added, err)
	}

	f, _ := os.Open(path)
	defer f.Close()
	if got := ParseAllowList(f); len(got) != 1 {
		t.Errorf("allow-list has %d entries, want 1", len(got))
	}
}

// ============================================================
// Lock Arbitration
// ============================================================

type sigRecord struct {
	pid int
	sig unix.Signal
}

func recordSignals(t *testing.T, respond func(pid int, sig unix.Signal) error) *[]sigRecord {
	t.Helper()
	var sent []sigRecord
	prev := signalProcess
	signalProcess = func(pid int, sig unix.Signal) error {
		sent = append(sent, sigRecord{pid, sig})
		return respond(pid, sig)
	}
	t.Cleanup(func() { signalProcess = prev })
	return &sent
}

func TestAcquireLock_NoLockFile(t *testing.T) {
	sent := recordSignals(t, func(int, unix.Signal) error { return nil })

	g, err := AcquireLock("/dev/ttyUSB0", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.Release()
	if len(*sent) != 0 {
		t.Errorf("signals sent with no holder: %v", *sent)
	}
}

func TestAcquireLock_StaleLockRemoved(t *testing.T) {
	recordSignals(t, func(int, unix.Signal) error { return unix.ESRCH })

	lockDir := t.TempDir()
	lockFile := filepath.Join(lockDir, "LCK..ttyUSB0")
	os.WriteFile(lockFile, []byte("  4242\n"), 0o644)

	g, err := AcquireLock("/dev/ttyUSB0", lockDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.HolderPID() != 0 {
		t.Errorf("stale lock produced holder pid %d", g.HolderPID())
	}
	if _, err := os.Stat(lockFile); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale lock file was not removed")
	}
}

func TestAcquireLock_LiveHolderSuspendedAndResumedOnce(t *testing.T) {
	sent := recordSignals(t, func(int, unix.Signal) error { return nil })

	lockDir := t.TempDir()
	os.WriteFile(filepath.Join(lockDir, "LCK..ttyUSB0"), []byte("1234\n"), 0o644)

	g, err := AcquireLock("/dev/ttyUSB0", lockDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.HolderPID() != 1234 {
		t.Fatalf("holder pid = %d, want 1234", g.HolderPID())
	}

	g.Release()
	g.Release() // idempotent

	want := []sigRecord{
		{1234, 0},
		{1234, unix.SIGSTOP},
		{1234, unix.SIGCONT},
	}
	if len(*sent) != len(want) {
		t.Fatalf("signals %v, want %v", *sent, want)
	}
	for i := range want {
		if (*sent)[i] != want[i] {
			t.Errorf("signal %d = %v, want %v", i, (*sent)[i], want[i])
		}
	}
}

func TestAcquireLock_GarbageContentTreatedStale(t *testing.T) {
	recordSignals(t, func(int, unix.Signal) error { return nil })

	lockDir := t.TempDir()
	lockFile := filepath.Join(lockDir, "LCK..ttyUSB0")
	os.WriteFile(lockFile, []byte("not-a-pid"), 0o644)

	g, err := AcquireLock("/dev/ttyUSB0", lockDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.HolderPID() != 0 {
		t.Error("garbage lock produced a holder")
	}
	if _, err := os.Stat(lockFile); !errors.Is(err, os.ErrNotExist) {
		t.Error("garbage lock file was not removed")
	}
}
