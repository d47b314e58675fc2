// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

// Package ports locates the USB radio bridge among connected serial
// devices and arbitrates access to it with other processes.
//
// Discovery works from a user-editable allow-list of device paths,
// matched against the platform's stable device naming directory
// (/dev/serial/by-id). Arbitration honors the UUCP advisory lock
// convention: a live holder is suspended for the duration of the
// session and resumed on every exit path.
package ports

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Platform defaults. Tests substitute temp directories.
const (
	DeviceDir = "/dev/serial/by-id"
	LockDir   = "/var/lock"
)

var (
	// ErrAllowListEmpty is returned when the allow-list exists but
	// names no device. A fresh template has been written if the file
	// was missing entirely.
	ErrAllowListEmpty = errors.New("allow-list has no device entries")

	// ErrNoDeviceConnected is returned when no allow-listed device
	// is currently present.
	ErrNoDeviceConnected = errors.New("no allow-listed device is connected")

	// ErrWaitTimeout is returned by WaitForNew when no new device
	// appears within the bound.
	ErrWaitTimeout = errors.New("no new device appeared")
)

const allowListTemplate = `# uplink serial device allow-list
# One device path per line, e.g.:
#   /dev/serial/by-id/usb-FTDI_FT232R_USB_UART_A6009xyz-if00-port0
# Lines starting with '#', '//' or '!' are comments.
`

// DefaultAllowListPath returns the per-user allow-list location.
func DefaultAllowListPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "uplink", "ports"), nil
}

// ParseAllowList extracts device paths from an allow-list. Blank
// lines, comments ('#', '//', '!') and lines that are not absolute
// /dev paths are ignored.
func ParseAllowList(r io.Reader) []string {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	var devices []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "//"):
		case strings.HasPrefix(line, "!"):
		case !strings.HasPrefix(line, "/dev/"):
		default:
			devices = append(devices, line)
		}
	}
	return devices
}

// LoadAllowList reads the allow-list at path. A missing file is
// created from the comment template so the user has something to
// edit; that still reports ErrAllowListEmpty.
func LoadAllowList(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr == nil {
			os.WriteFile(path, []byte(allowListTemplate), 0o644)
		}
		return nil, fmt.Errorf("%w (created template at %s)", ErrAllowListEmpty, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open allow-list: %w", err)
	}
	defer f.Close()

	devices := ParseAllowList(f)
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrAllowListEmpty, path)
	}
	return devices, nil
}

// Discover selects the first allow-listed device that is currently
// connected and resolves it to its canonical path.
func Discover(allowPath, deviceDir string) (string, error) {
	devices, err := LoadAllowList(allowPath)
	if err != nil {
		return "", err
	}

	for _, dev := range devices {
		if _, err := os.Lstat(dev); err != nil {
			continue
		}
		resolved, err := filepath.EvalSymlinks(dev)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", dev, err)
		}
		return resolved, nil
	}
	return "", fmt.Errorf("%w (list: %s, connected: %s)", ErrNoDeviceConnected, allowPath, deviceDir)
}

// SnapshotDevices returns the set of device names currently present
// in deviceDir. A missing directory is an empty set: it appears only
// when at least one device is attached.
func SnapshotDevices(deviceDir string) map[string]struct{} {
	present := make(map[string]struct{})
	entries, err := os.ReadDir(deviceDir)
	if err != nil {
		return present
	}
	for _, e := range entries {
		present[e.Name()] = struct{}{}
	}
	return present
}

// WaitForNew polls deviceDir until a device absent from before
// appears, up to timeout. Returns the new device's full path.
func WaitForNew(deviceDir string, before map[string]struct{}, timeout, poll time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		for name := range SnapshotDevices(deviceDir) {
			if _, seen := before[name]; !seen {
				return filepath.Join(deviceDir, name), nil
			}
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w within %s", ErrWaitTimeout, timeout)
		}
		time.Sleep(poll)
	}
}

// AppendAllowList adds device to the allow-list unless it is already
// listed. Reports whether an entry was added.
func AppendAllowList(path, device string) (bool, error) {
	if f, err := os.Open(path); err == nil {
		listed := ParseAllowList(f)
		f.Close()
		for _, d := range listed {
			if d == device {
				return false, nil
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create allow-list dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open allow-list for append: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, device); err != nil {
		return false, fmt.Errorf("append to allow-list: %w", err)
	}
	return true, nil
}
