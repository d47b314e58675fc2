// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package uploader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Ledger file names, relative to the upload working directory.
const (
	LedgerParamsFile = "uplink.params"
	LedgerImageFile  = "uplink.image"
)

// Ledger records the addressing of the last successfully uploaded
// application. It reflects what the device actually runs, which is
// why it outranks a freshly edited config file when sending the
// reset trigger: only the deployed application can hear it.
type Ledger struct {
	Channel byte
	Address [2]byte
	Reset   string
}

// LoadLedger reads the ledger and the last uploaded image from dir.
// A missing ledger is (nil, nil, nil): the first upload has no
// history. A present but malformed ledger is an error.
func LoadLedger(dir string) (*Ledger, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, LedgerParamsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger: %w", err)
	}

	// One value per line: channel, address byte 0, address byte 1,
	// reset string (possibly empty).
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 4 {
		return nil, nil, fmt.Errorf("ledger %s: expected 4 lines, found %d", LedgerParamsFile, len(lines))
	}

	led := &Ledger{Reset: lines[3]}

	ch, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 8)
	if err != nil || ch > 127 {
		return nil, nil, fmt.Errorf("ledger %s: bad channel %q", LedgerParamsFile, lines[0])
	}
	led.Channel = byte(ch)

	for i := 0; i < 2; i++ {
		v, err := strconv.ParseUint(strings.TrimSpace(lines[1+i]), 10, 8)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger %s: bad address byte %q", LedgerParamsFile, lines[1+i])
		}
		led.Address[i] = byte(v)
	}

	image, err := os.ReadFile(filepath.Join(dir, LedgerImageFile))
	if errors.Is(err, os.ErrNotExist) {
		// Params without an image copy: idempotence check simply
		// cannot match.
		return led, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger image: %w", err)
	}
	return led, image, nil
}

// SaveLedger persists the ledger and a byte-identical copy of the
// uploaded image into dir.
func SaveLedger(dir string, led Ledger, image []byte) error {
	params := fmt.Sprintf("%d\n%d\n%d\n%s\n",
		led.Channel, led.Address[0], led.Address[1], led.Reset)
	if err := os.WriteFile(filepath.Join(dir, LedgerParamsFile), []byte(params), 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, LedgerImageFile), image, 0o644); err != nil {
		return fmt.Errorf("write ledger image: %w", err)
	}
	return nil
}
