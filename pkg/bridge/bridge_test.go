// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package bridge

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// memLink is an in-memory Link: writes accumulate, reads pop from a
// preloaded queue. onWrite, when set, lets a test push reply bytes
// in reaction to what the host sends.
type memLink struct {
	written bytes.Buffer
	pending []byte
	onWrite func(m *memLink, p []byte)
}

func (m *memLink) ReadByte(timeout time.Duration) (byte, error) {
	if len(m.pending) == 0 {
		return 0, ErrNoData
	}
	b := m.pending[0]
	m.pending = m.pending[1:]
	return b, nil
}

func (m *memLink) Write(p []byte) error {
	m.written.Write(p)
	if m.onWrite != nil {
		m.onWrite(m, p)
	}
	return nil
}

func (m *memLink) Close() error { return nil }

// ============================================================
// Command Encoding
// ============================================================

func TestCommandEncodings(t *testing.T) {
	prefix := []byte{0xFD, 0x00, 0xFA, 0x05, 0xAF}

	tests := []struct {
		name     string
		send     func(b *Bridge) error
		expected []byte
	}{
		{
			name:     "set channel",
			send:     func(b *Bridge) error { return b.SetChannel(51) },
			expected: append(append([]byte{}, prefix...), 'C', 51),
		},
		{
			name:     "set address",
			send:     func(b *Bridge) error { return b.SetAddress([2]byte{0x2B, 0xC4}) },
			expected: append(append([]byte{}, prefix...), 'A', 0x2B, 0xC4),
		},
		{
			name:     "fast reset",
			send:     func(b *Bridge) error { return b.FastReset() },
			expected: append(append([]byte{}, prefix...), 'Z'),
		},
		{
			name: "begin transfer packs length little-endian",
			send: func(b *Bridge) error { return b.BeginTransfer(0x0180) },
			// 0x0180 = 384 bytes
			expected: append(append([]byte{}, prefix...), 'U', 0x80, 0x01),
		},
		{
			name:     "bridge reset",
			send:     func(b *Bridge) error { return b.Reset() },
			expected: append(append([]byte{}, prefix...), 'R'),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &memLink{}
			if err := tt.send(New(link)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(link.written.Bytes(), tt.expected) {
				t.Errorf("wire bytes % X, want % X", link.written.Bytes(), tt.expected)
			}
		})
	}
}

// ============================================================
// Drain / Contact
// ============================================================

func TestDrain_ConsumesPendingBytes(t *testing.T) {
	link := &memLink{pending: []byte{1, 2, 3}}
	New(link).Drain(time.Millisecond)
	if len(link.pending) != 0 {
		t.Errorf("%d bytes left after drain", len(link.pending))
	}
}

// identOnReset queues reply after any write, so the ident arrives
// only once the fast-reset command went out (stale bytes before it
// are drained).
func identOnReset(reply string) func(m *memLink, p []byte) {
	return func(m *memLink, p []byte) {
		m.pending = append(m.pending, reply...)
	}
}

func TestContact_AcceptsIdent(t *testing.T) {
	link := &memLink{
		pending: []byte("stale noise"),
		onWrite: identOnReset(Ident),
	}
	if err := New(link).Contact(100 * time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestContact_RejectsWrongIdent(t *testing.T) {
	link := &memLink{onWrite: identOnReset("GARBAGE-MODULE")}
	err := New(link).Contact(50 * time.Millisecond)
	if !errors.Is(err, ErrBridgeSilent) {
		t.Errorf("expected ErrBridgeSilent, got %v", err)
	}
}

func TestContact_TimesOutOnSilence(t *testing.T) {
	link := &memLink{}
	err := New(link).Contact(30 * time.Millisecond)
	if !errors.Is(err, ErrBridgeSilent) {
		t.Errorf("expected ErrBridgeSilent, got %v", err)
	}
}
