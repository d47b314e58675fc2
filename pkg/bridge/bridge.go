// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

// Package bridge speaks the command protocol of the USB radio bridge
// module. The bridge relays raw bytes between host and remote device
// unless it sees the 5-byte command-mode prefix, which makes it
// interpret the next byte as a command addressed to the bridge
// itself.
package bridge

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/kestrel-embedded/uplink/pkg/wire"
)

// BaudRate is fixed by the bridge firmware.
const BaudRate = 57600

// Ident is the identification string the bridge prints after a fast
// reset. Contact fails without it.
const Ident = "RFB-USB2RF"

// cmdPrefix switches the bridge from relay to command mode for one
// command byte.
var cmdPrefix = []byte{0xFD, 0x00, 0xFA, 0x05, 0xAF}

// Bridge command letters.
const (
	cmdChannel   = 'C'
	cmdAddress   = 'A'
	cmdFastReset = 'Z'
	cmdTransfer  = 'U'
	cmdReset     = 'R'
)

// ErrNoData is returned by ReadByte when nothing arrived within the
// timeout. It is normal control flow, not a failure.
var ErrNoData = errors.New("no data")

// ErrBridgeSilent is returned by Contact when the bridge does not
// identify itself.
var ErrBridgeSilent = errors.New("bridge did not identify itself")

// Link is the raw serial primitive the protocol engine is built on.
// Implementations outside tests wrap a real serial port.
type Link interface {
	// ReadByte returns the next byte from the link, waiting at most
	// timeout. Returns ErrNoData when nothing arrived in time.
	ReadByte(timeout time.Duration) (byte, error)
	Write(p []byte) error
	Close() error
}

type serialLink struct {
	port serial.Port
}

// Open opens the serial device at path with the bridge's fixed
// parameters.
func Open(path string) (Link, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return &serialLink{port: port}, nil
}

func (s *serialLink) ReadByte(timeout time.Duration) (byte, error) {
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	n, err := s.port.Read(buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoData
	}
	return buf[0], nil
}

func (s *serialLink) Write(p []byte) error {
	_, err := s.port.Write(p)
	return err
}

func (s *serialLink) Close() error {
	return s.port.Close()
}

// Bridge drives the command protocol over a Link.
type Bridge struct {
	link Link
}

func New(link Link) *Bridge {
	return &Bridge{link: link}
}

// Link exposes the underlying link for raw relay traffic.
func (b *Bridge) Link() Link {
	return b.link
}

func (b *Bridge) command(letter byte, payload ...byte) error {
	frame := make([]byte, 0, len(cmdPrefix)+1+len(payload))
	frame = append(frame, cmdPrefix...)
	frame = append(frame, letter)
	frame = append(frame, payload...)
	return b.link.Write(frame)
}

// SetChannel switches the bridge's logical RF channel (0-127).
func (b *Bridge) SetChannel(ch byte) error {
	return b.command(cmdChannel, ch)
}

// SetAddress sets the 2-byte RF address the bridge talks to.
func (b *Bridge) SetAddress(addr [2]byte) error {
	return b.command(cmdAddress, addr[0], addr[1])
}

// FastReset restarts the bridge firmware quickly; the bridge prints
// its identification string afterwards.
func (b *Bridge) FastReset() error {
	return b.command(cmdFastReset)
}

// BeginTransfer arms the bridge's flow-controlled transfer mode for
// n payload bytes.
func (b *Bridge) BeginTransfer(n uint16) error {
	return b.command(cmdTransfer, wire.PackUint16(n)...)
}

// Reset performs a full bridge reset.
func (b *Bridge) Reset() error {
	return b.command(cmdReset)
}

// Drain discards buffered bytes until the link stays quiet for one
// byteTimeout.
func (b *Bridge) Drain(byteTimeout time.Duration) {
	for {
		if _, err := b.link.ReadByte(byteTimeout); err != nil {
			return
		}
	}
}

// Contact verifies a live bridge is on the other end of the link:
// drain stale bytes, fast-reset, and expect Ident within deadline.
func (b *Bridge) Contact(deadline time.Duration) error {
	b.Drain(50 * time.Millisecond)
	if err := b.FastReset(); err != nil {
		return fmt.Errorf("fast reset: %w", err)
	}

	want := []byte(Ident)
	got := make([]byte, 0, len(want))
	end := time.Now().Add(deadline)

	for len(got) < len(want) {
		remaining := time.Until(end)
		if remaining <= 0 {
			return fmt.Errorf("%w: got %q", ErrBridgeSilent, got)
		}
		c, err := b.link.ReadByte(remaining)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read ident: %w", err)
		}
		got = append(got, c)
		if got[len(got)-1] != want[len(got)-1] {
			return fmt.Errorf("%w: got %q", ErrBridgeSilent, got)
		}
	}
	return nil
}
