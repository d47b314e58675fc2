// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

// Package wire provides the byte-level primitives shared by the
// uplink protocol: little-endian integer packing and the paired
// CRC-16 used to checksum firmware images.
//
// The remote bootloader verifies two checksums over the same padded
// image, one computed front-to-back and one computed back-to-front.
// Both travel in the upload header so a corrupted frame that happens
// to satisfy one checksum is still rejected by the other.
package wire

import "encoding/binary"

// crcPoly is the reflected CRC-16 polynomial (0xA001), seed 0.
const crcPoly = 0xA001

// PackUint16 returns v as 2 bytes, least-significant byte first.
func PackUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// PackUint32 returns v as 4 bytes, least-significant byte first.
func PackUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// Uint16 decodes 2 little-endian bytes.
func Uint16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// Uint32 decodes 4 little-endian bytes.
func Uint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Checksum computes the CRC-16 of data, LSB-first with polynomial
// 0xA001 and initial value 0. This matches the loop the remote
// bootloader runs, bit for bit.
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// ChecksumReversed computes the same CRC-16 over data taken in
// reverse byte order. It is an independent checksum, not the
// complement of Checksum.
func ChecksumReversed(data []byte) uint16 {
	var crc uint16
	for i := len(data) - 1; i >= 0; i-- {
		crc ^= uint16(data[i])
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
