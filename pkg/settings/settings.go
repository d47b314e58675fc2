// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

// Package settings parses the two project configuration files an
// upload session needs: radio.cfg (bootloader channel, address and
// cipher key) and app.cfg (application channel, address and reset
// trigger string).
//
// The files are small and their shape is fixed by the rest of the
// toolchain, so malformed input is a fatal configuration error, not
// something to repair. Every failure is reported as a FieldError
// naming the file, the field and the violated constraint.
package settings

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kestrel-embedded/uplink/pkg/xtea"
)

// Canonical file names inside a project directory.
const (
	RadioFile = "radio.cfg"
	AppFile   = "app.cfg"
)

// RadioConfig holds the bootloader-side parameters. The key never
// leaves this struct and is never transmitted.
type RadioConfig struct {
	Channel byte
	Address [2]byte
	Key     xtea.Key
}

// AppConfig holds the running application's parameters. Reset may be
// empty, meaning the application has no soft-reset trigger.
type AppConfig struct {
	Channel byte
	Address [2]byte
	Reset   string
}

// FieldError reports exactly which field of which file violated
// which constraint.
type FieldError struct {
	File       string
	Field      string
	Constraint string
	Line       string
}

func (e *FieldError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("%s: field %q: %s (line: %q)", e.File, e.Field, e.Constraint, e.Line)
	}
	return fmt.Sprintf("%s: field %q: %s", e.File, e.Field, e.Constraint)
}

// LoadRadio reads and validates a radio.cfg file.
func LoadRadio(path string) (*RadioConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open radio config: %w", err)
	}
	defer f.Close()
	return ParseRadio(f, path)
}

// LoadApp reads and validates an app.cfg file.
func LoadApp(path string) (*AppConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open app config: %w", err)
	}
	defer f.Close()
	return ParseApp(f, path)
}

// ParseRadio parses radio configuration from r. name is used in
// error reports.
func ParseRadio(r io.Reader, name string) (*RadioConfig, error) {
	fields, err := scanFields(r, name)
	if err != nil {
		return nil, err
	}

	cfg := &RadioConfig{}

	ch, err := parseChannel(fields, name)
	if err != nil {
		return nil, err
	}
	cfg.Channel = ch

	addr, err := parseAddress(fields, name)
	if err != nil {
		return nil, err
	}
	cfg.Address = addr

	raw, ok := fields["key"]
	if !ok {
		return nil, &FieldError{File: name, Field: "key", Constraint: "missing"}
	}
	words := strings.Fields(raw.value)
	if len(words) != 4 {
		return nil, &FieldError{File: name, Field: "key", Constraint: "must be exactly 4 words", Line: raw.line}
	}
	for i, w := range words {
		v, err := strconv.ParseUint(w, 0, 32)
		if err != nil {
			return nil, &FieldError{File: name, Field: "key", Constraint: "word is not a 32-bit integer", Line: raw.line}
		}
		cfg.Key[i] = uint32(v)
	}

	if err := rejectUnknown(fields, name, "channel", "address", "key"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseApp parses application configuration from r.
func ParseApp(r io.Reader, name string) (*AppConfig, error) {
	fields, err := scanFields(r, name)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{}

	ch, err := parseChannel(fields, name)
	if err != nil {
		return nil, err
	}
	cfg.Channel = ch

	addr, err := parseAddress(fields, name)
	if err != nil {
		return nil, err
	}
	cfg.Address = addr

	raw, ok := fields["reset"]
	if !ok {
		return nil, &FieldError{File: name, Field: "reset", Constraint: "missing"}
	}
	// The reset trigger is a quoted string: opening and closing
	// quote and no other quote characters anywhere on the line.
	v := raw.value
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' || strings.Count(v, `"`) != 2 {
		return nil, &FieldError{File: name, Field: "reset", Constraint: "must be a double-quoted string", Line: raw.line}
	}
	cfg.Reset = v[1 : len(v)-1]

	if err := rejectUnknown(fields, name, "channel", "address", "reset"); err != nil {
		return nil, err
	}
	return cfg, nil
}

type rawField struct {
	value string
	line  string
}

// scanFields reads "name = value" lines, skipping blank lines and
// '#' comments. Duplicate fields and lines without '=' are errors.
func scanFields(r io.Reader, name string) (map[string]rawField, error) {
	fields := make(map[string]rawField)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			return nil, &FieldError{File: name, Field: strings.Fields(line)[0], Constraint: "line is not 'name = value'", Line: line}
		}
		key := strings.TrimSpace(k)
		if _, dup := fields[key]; dup {
			return nil, &FieldError{File: name, Field: key, Constraint: "duplicated", Line: line}
		}
		fields[key] = rawField{value: strings.TrimSpace(v), line: line}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return fields, nil
}

func parseChannel(fields map[string]rawField, name string) (byte, error) {
	raw, ok := fields["channel"]
	if !ok {
		return 0, &FieldError{File: name, Field: "channel", Constraint: "missing"}
	}
	v, err := strconv.ParseUint(raw.value, 0, 8)
	if err != nil || v > 127 {
		return 0, &FieldError{File: name, Field: "channel", Constraint: "must be an integer in 0..127", Line: raw.line}
	}
	return byte(v), nil
}

func parseAddress(fields map[string]rawField, name string) ([2]byte, error) {
	var addr [2]byte
	raw, ok := fields["address"]
	if !ok {
		return addr, &FieldError{File: name, Field: "address", Constraint: "missing"}
	}
	parts := strings.Fields(raw.value)
	if len(parts) != 2 {
		return addr, &FieldError{File: name, Field: "address", Constraint: "must be exactly 2 bytes", Line: raw.line}
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 0, 8)
		if err != nil {
			return addr, &FieldError{File: name, Field: "address", Constraint: "byte is not in 0..255", Line: raw.line}
		}
		addr[i] = byte(v)
	}
	return addr, nil
}

func rejectUnknown(fields map[string]rawField, name string, known ...string) error {
	for k, raw := range fields {
		recognized := false
		for _, want := range known {
			if k == want {
				recognized = true
				break
			}
		}
		if !recognized {
			return &FieldError{File: name, Field: k, Constraint: "unknown field", Line: raw.line}
		}
	}
	return nil
}
