// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

// Package uploader drives the multi-phase upload conversation with
// the radio bridge and the remote bootloader: contact, optional
// application reset, bootloader addressing, cryptographic handshake,
// encrypted image transfer with flow control, and finalization.
//
// The engine owns all session state and is the only component that
// performs link I/O. The conversation is strictly sequential; every
// wait is a bounded read with a per-call timeout.
package uploader

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-embedded/uplink/pkg/bridge"
	"github.com/kestrel-embedded/uplink/pkg/settings"
	"github.com/kestrel-embedded/uplink/pkg/wire"
	"github.com/kestrel-embedded/uplink/pkg/xtea"
)

// Header reply status codes from the bootloader.
const (
	statusSignatureRejected = 0x01
	statusSizeInvalid       = 0x02
	statusSendPacket        = 0x04
)

// Transfer control bytes from the bootloader. 0x03 and 0x08 belong
// to the retired round-robin transfer variant and are rejected.
const (
	ctlAck       = 0x02
	ctlLegacyGo  = 0x03
	ctlReady     = 0x05
	ctlResend    = 0x06
	ctlDone      = 0x07
	ctlLegacyCRC = 0x08
)

// timeouts holds the phase deadlines and per-read timeouts. One
// instance per engine so tests can shrink them.
type timeouts struct {
	contact   time.Duration // bridge ident deadline
	echo      time.Duration // reset trigger echo deadline
	handshake time.Duration // bootloader hello deadline
	header    time.Duration // header reply deadline
	reply     time.Duration // first byte of any reply
	tail      time.Duration // subsequent bytes of a reply
	transfer  time.Duration // per control byte during transfer
	quiet     time.Duration // drain settle time
}

func defaultTimeouts() timeouts {
	return timeouts{
		contact:   2 * time.Second,
		echo:      2 * time.Second,
		handshake: 10 * time.Second,
		header:    5 * time.Second,
		reply:     250 * time.Millisecond,
		tail:      100 * time.Millisecond,
		transfer:  3 * time.Second,
		quiet:     50 * time.Millisecond,
	}
}

// Engine is a single-session upload driver.
type Engine struct {
	br    *bridge.Bridge
	radio settings.RadioConfig
	app   settings.AppConfig
	dir   string
	logf  func(format string, args ...interface{})
	tm    timeouts
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkDir sets the directory holding the upload ledger. Default
// is the current directory.
func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.dir = dir }
}

// WithLogf sets the progress/warning sink. Default discards.
func WithLogf(fn func(format string, args ...interface{})) Option {
	return func(e *Engine) { e.logf = fn }
}

// New builds an Engine over link with the given session parameters.
func New(link bridge.Link, radio settings.RadioConfig, app settings.AppConfig, opts ...Option) *Engine {
	e := &Engine{
		br:    bridge.New(link),
		radio: radio,
		app:   app,
		dir:   ".",
		logf:  func(string, ...interface{}) {},
		tm:    defaultTimeouts(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upload runs the whole protocol for img. If the ledger shows a
// byte-identical image was already uploaded, the protocol is skipped
// entirely and Upload succeeds without touching the link.
func (e *Engine) Upload(img *Image) error {
	led, prev, err := LoadLedger(e.dir)
	if err != nil {
		return err
	}
	if prev != nil && bytes.Equal(prev, img.Raw()) {
		e.logf("firmware identical to the last upload, nothing to do")
		return nil
	}

	if err := e.br.Contact(e.tm.contact); err != nil {
		return fmt.Errorf("contact bridge: %w", err)
	}
	e.logf("bridge responding")

	if err := e.resetRunningApp(led); err != nil {
		return err
	}

	// Address the bootloader and clear whatever the application was
	// still saying.
	if err := e.address(e.radio.Channel, e.radio.Address); err != nil {
		return fmt.Errorf("address bootloader: %w", err)
	}
	e.br.Drain(e.tm.quiet)

	iv, err := e.handshake()
	if err != nil {
		return err
	}
	e.logf("bootloader handshake complete")

	startOffset, err := e.sendHeader(img, &iv)
	if err != nil {
		return err
	}

	if err := e.transfer(img, &iv, startOffset); err != nil {
		return err
	}

	// Hand the link back to the application and remember what was
	// deployed.
	if err := e.address(e.app.Channel, e.app.Address); err != nil {
		return fmt.Errorf("restore application addressing: %w", err)
	}
	newLedger := Ledger{
		Channel: e.app.Channel,
		Address: e.app.Address,
		Reset:   e.app.Reset,
	}
	if err := SaveLedger(e.dir, newLedger, img.Raw()); err != nil {
		return err
	}
	e.logf("upload complete: %d bytes (%d blocks)", len(img.Raw()), img.Blocks())
	return nil
}

func (e *Engine) link() bridge.Link {
	return e.br.Link()
}

func (e *Engine) address(ch byte, addr [2]byte) error {
	if err := e.br.SetChannel(ch); err != nil {
		return err
	}
	return e.br.SetAddress(addr)
}

// resetRunningApp asks the currently running application to restart
// into the bootloader. The ledger's addressing wins over the config
// file because only the deployed application can hear the trigger.
// Failure here is a warning: the bootloader may already be
// listening.
func (e *Engine) resetRunningApp(led *Ledger) error {
	ch, addr, reset := e.app.Channel, e.app.Address, e.app.Reset
	if led != nil {
		if led.Channel != ch || led.Address != addr || led.Reset != reset {
			e.logf("WARNING: configured application parameters differ from the deployed ones; using the deployed parameters for reset")
		}
		ch, addr, reset = led.Channel, led.Address, led.Reset
	}
	if reset == "" {
		return nil
	}

	if err := e.address(ch, addr); err != nil {
		return fmt.Errorf("address application: %w", err)
	}
	e.br.Drain(e.tm.quiet)

	if err := e.link().Write([]byte(reset)); err != nil {
		return fmt.Errorf("send reset trigger: %w", err)
	}

	echo := make([]byte, 0, len(reset))
	err := retryUntil(e.tm.echo, func() (bool, error) {
		c, err := e.link().ReadByte(e.tm.reply)
		if errors.Is(err, bridge.ErrNoData) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		echo = append(echo, c)
		return len(echo) == len(reset), nil
	})
	switch {
	case errors.Is(err, ErrDeadline):
		e.logf("WARNING: application did not echo the reset trigger; proceeding, the bootloader may already be listening")
	case err != nil:
		return fmt.Errorf("wait for reset echo: %w", err)
	case string(echo) != reset:
		e.logf("WARNING: reset echo mismatch (% X); proceeding", echo)
	}
	return nil
}

// handshake transmits the host signature until the bootloader
// answers with the 8-byte session IV or the deadline passes. On
// timeout the link is restored to the application's addressing so a
// silent bootloader does not strand the deployed application.
func (e *Engine) handshake() (xtea.IV, error) {
	var reply []byte
	err := retryUntil(e.tm.handshake, func() (bool, error) {
		if err := e.link().Write(helloPacket()); err != nil {
			return false, err
		}
		reply = e.collect(8)
		return len(reply) > 0, nil
	})
	if errors.Is(err, ErrDeadline) {
		if restoreErr := e.address(e.app.Channel, e.app.Address); restoreErr != nil {
			e.logf("WARNING: could not restore application addressing: %v", restoreErr)
		}
		return xtea.IV{}, fmt.Errorf("bootloader handshake: %w", ErrDeadline)
	}
	if err != nil {
		return xtea.IV{}, fmt.Errorf("bootloader handshake: %w", err)
	}
	if len(reply) != 8 {
		return xtea.IV{}, &ProtocolError{
			Phase:  "handshake",
			Detail: fmt.Sprintf("wrong IV length: got %d bytes, want 8", len(reply)),
		}
	}
	return xtea.IV{
		V0: wire.Uint32(reply[0:4]),
		V1: wire.Uint32(reply[4:8]),
	}, nil
}

// sendHeader encrypts and transmits the upload header, returning the
// transfer start offset the remote asked for. The header's four
// 8-byte blocks are chained front to back, advancing iv.
func (e *Engine) sendHeader(img *Image, iv *xtea.IV) (int, error) {
	plain, err := newHeader(img.Padded())
	if err != nil {
		return 0, err
	}
	enc := xtea.EncryptBufferCBC(plain, e.radio.Key, iv)

	var reply []byte
	err = retryUntil(e.tm.header, func() (bool, error) {
		if err := e.link().Write(enc); err != nil {
			return false, err
		}
		reply = e.collect(3)
		return len(reply) > 0, nil
	})
	if errors.Is(err, ErrDeadline) {
		return 0, fmt.Errorf("upload header: no reply: %w", ErrDeadline)
	}
	if err != nil {
		return 0, fmt.Errorf("upload header: %w", err)
	}
	if len(reply) != 3 {
		return 0, &ProtocolError{
			Phase:  "header",
			Detail: fmt.Sprintf("wrong reply length: got %d bytes, want 3", len(reply)),
		}
	}

	switch reply[0] {
	case statusSendPacket:
		offset := int(wire.Uint16(reply[1:3]))
		if offset == 0 || offset%PayloadSize != 0 || offset > len(img.Padded()) {
			return 0, &ProtocolError{
				Phase:  "header",
				Detail: fmt.Sprintf("unusable start offset %d for a %d byte image", offset, len(img.Padded())),
			}
		}
		return offset, nil
	case statusSignatureRejected:
		return 0, ErrSignatureRejected
	case statusSizeInvalid:
		return 0, fmt.Errorf("%w (%d bytes)", ErrSizeRejected, len(img.Padded()))
	default:
		return 0, &ProtocolError{
			Phase:  "header",
			Detail: fmt.Sprintf("unknown status code 0x%02X", reply[0]),
		}
	}
}

// transfer streams the encrypted image under the remote's flow
// control. Blocks pass through the cipher from the highest address
// to the lowest, continuing the header's chain, because the remote
// writes flash from the top of its region downward and decrypts in
// arrival order.
func (e *Engine) transfer(img *Image, iv *xtea.IV, startOffset int) error {
	padded := img.Padded()
	blocks := startOffset / PayloadSize

	cipherBlocks := make([][]byte, blocks)
	for i := blocks - 1; i >= 0; i-- {
		cipherBlocks[i] = xtea.EncryptBufferCBC(
			padded[i*PayloadSize:(i+1)*PayloadSize], e.radio.Key, iv)
	}

	if err := e.br.BeginTransfer(uint16(startOffset)); err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}

	offset := startOffset
	var lastSent []byte
	for {
		c, err := e.link().ReadByte(e.tm.transfer)
		if errors.Is(err, bridge.ErrNoData) {
			return fmt.Errorf("transfer stalled at offset %d: %w", offset, ErrDeadline)
		}
		if err != nil {
			return fmt.Errorf("transfer read: %w", err)
		}

		switch c {
		case ctlReady:
			if offset == 0 {
				// Known remote firmware anomaly: the reported
				// offset stops decrementing by one packet. Abort
				// with enough state to diagnose; no recovery
				// policy exists.
				return &ProtocolError{
					Phase: "transfer",
					Detail: fmt.Sprintf(
						"remote requested a packet past the final block (start=%d, last sent % X)",
						startOffset, lastSent),
				}
			}
			blk := cipherBlocks[offset/PayloadSize-1]
			if err := e.link().Write(blk); err != nil {
				return fmt.Errorf("send block at offset %d: %w", offset, err)
			}
			lastSent = blk
			offset -= PayloadSize
			e.logf("sent %d/%d blocks", blocks-offset/PayloadSize, blocks)
		case ctlAck:
			// Informational only.
		case ctlResend:
			if lastSent == nil {
				return &ProtocolError{Phase: "transfer", Detail: "resend requested before any block was sent"}
			}
			if err := e.link().Write(lastSent); err != nil {
				return fmt.Errorf("resend block: %w", err)
			}
		case ctlDone:
			if offset != 0 {
				return &ProtocolError{
					Phase:  "transfer",
					Detail: fmt.Sprintf("remote ended the transfer with %d bytes outstanding", offset),
				}
			}
			return nil
		case ctlLegacyGo, ctlLegacyCRC:
			return &ProtocolError{
				Phase:  "transfer",
				Detail: fmt.Sprintf("legacy transfer control byte 0x%02X is not supported", c),
			}
		default:
			return &ProtocolError{
				Phase:  "transfer",
				Detail: fmt.Sprintf("unknown control byte 0x%02X", c),
			}
		}
	}
}

// collect reads up to n bytes: the first within e.tm.reply, the
// rest within e.tm.tail each. Returns whatever arrived; the caller
// decides whether a short read is fatal.
func (e *Engine) collect(n int) []byte {
	got := make([]byte, 0, n)
	for len(got) < n {
		timeout := e.tm.reply
		if len(got) > 0 {
			timeout = e.tm.tail
		}
		c, err := e.link().ReadByte(timeout)
		if err != nil {
			break
		}
		got = append(got, c)
	}
	return got
}
