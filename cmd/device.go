// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/kestrel-embedded/uplink/pkg/bridge"
	"github.com/kestrel-embedded/uplink/pkg/ports"
	"golang.org/x/sys/unix"
)

// resolveDevice returns the bridge device to use: --port verbatim, or
// the first allow-listed device present under /dev/serial/by-id.
func resolveDevice() (string, error) {
	if portName != "" {
		return portName, nil
	}
	path, err := allowListFile()
	if err != nil {
		return "", err
	}
	return ports.Discover(path, ports.DeviceDir)
}

func allowListFile() (string, error) {
	if allowListPath != "" {
		return allowListPath, nil
	}
	return ports.DefaultAllowListPath()
}

// openSession resolves the device, takes the advisory lock and opens
// the serial link. The returned cleanup releases the lock and closes
// the link; it also runs if the process is interrupted, so a
// suspended lock holder is never left stopped.
func openSession() (bridge.Link, string, func(), error) {
	device, err := resolveDevice()
	if err != nil {
		return nil, "", nil, err
	}

	guard, err := ports.AcquireLock(device, ports.LockDir)
	if err != nil {
		return nil, "", nil, fmt.Errorf("lock %s: %w", device, err)
	}

	link, err := bridge.Open(device)
	if err != nil {
		guard.Release()
		return nil, "", nil, fmt.Errorf("open %s: %w", device, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, unix.SIGTERM)
	go func() {
		if _, ok := <-sig; ok {
			guard.Release()
			link.Close()
			os.Exit(1)
		}
	}()

	cleanup := func() {
		signal.Stop(sig)
		close(sig)
		link.Close()
		guard.Release()
	}
	fmt.Printf("using %s\n", device)
	return link, device, cleanup, nil
}
