// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package uploader

import (
	"crypto/rand"
	"fmt"

	"github.com/kestrel-embedded/uplink/pkg/wire"
)

// Magic identifies an uplink host to the resident bootloader. The
// 4-byte handshake packet is this value packed little-endian, and
// the upload header carries it twice.
const Magic uint32 = 0xD4E7A2C1

// HeaderSize is the fixed upload header length: exactly one cipher
// payload unit.
const HeaderSize = 32

// newHeader builds the 32-byte plaintext upload header for a padded
// image:
//
//	magic(4) length(2) crc(2) crcRev(2) reserved(2) magic(4) nonce(16)
//
// The length and both CRCs describe the padded buffer, the nonce is
// fresh per session.
func newHeader(padded []byte) ([]byte, error) {
	h := make([]byte, 0, HeaderSize)
	h = append(h, wire.PackUint32(Magic)...)
	h = append(h, wire.PackUint16(uint16(len(padded)))...)
	h = append(h, wire.PackUint16(wire.Checksum(padded))...)
	h = append(h, wire.PackUint16(wire.ChecksumReversed(padded))...)
	h = append(h, wire.PackUint16(0)...)
	h = append(h, wire.PackUint32(Magic)...)

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate header nonce: %w", err)
	}
	return append(h, nonce...), nil
}

// helloPacket is the 4-byte "I am host" signature sent during the
// bootloader handshake.
func helloPacket() []byte {
	return wire.PackUint32(Magic)
}
