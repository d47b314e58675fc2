// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

// Package xtea implements the 64-bit block cipher used to encrypt
// firmware images in transit, together with the chained (CBC) mode
// the remote bootloader expects.
//
// The standard library's x/crypto XTEA is not usable here: the wire
// format fixes little-endian word packing and an initialization
// vector that is owned by the upload session and advances with every
// block, in the exact order the session presents blocks. Block
// traversal order is a protocol decision made by the caller, not by
// this package.
package xtea

import "github.com/kestrel-embedded/uplink/pkg/wire"

const (
	delta  = 0x9E3779B9
	rounds = 32

	// BlockSize is the cipher block size in bytes.
	BlockSize = 8
)

// Key is the 128-bit cipher key as four 32-bit words. It is parsed
// from project configuration and never transmitted.
type Key [4]uint32

// IV is the evolving chaining state. Both words mutate on every
// block encrypted; the remote decoder replays the same chain, so the
// order blocks pass through the cipher must match on both ends.
type IV struct {
	V0 uint32
	V1 uint32
}

// EncryptBlock encrypts one 64-bit block. All arithmetic is unsigned
// 32-bit wraparound.
func EncryptBlock(v0, v1 uint32, key Key) (uint32, uint32) {
	var sum uint32
	for i := 0; i < rounds; i++ {
		v0 += (((v1 << 4) ^ (v1 >> 5)) + v1) ^ (sum + key[sum&3])
		sum += delta
		v1 += (((v0 << 4) ^ (v0 >> 5)) + v0) ^ (sum + key[(sum>>11)&3])
	}
	return v0, v1
}

// DecryptBlock inverts EncryptBlock.
func DecryptBlock(v0, v1 uint32, key Key) (uint32, uint32) {
	sum := uint32(delta * rounds & 0xFFFFFFFF)
	for i := 0; i < rounds; i++ {
		v1 -= (((v0 << 4) ^ (v0 >> 5)) + v0) ^ (sum + key[(sum>>11)&3])
		sum -= delta
		v0 -= (((v1 << 4) ^ (v1 >> 5)) + v1) ^ (sum + key[sum&3])
	}
	return v0, v1
}

// EncryptBlockCBC XORs the block with the chaining state, encrypts
// it, and stores the ciphertext back into iv.
func EncryptBlockCBC(v0, v1 uint32, key Key, iv *IV) (uint32, uint32) {
	v0 ^= iv.V0
	v1 ^= iv.V1
	v0, v1 = EncryptBlock(v0, v1, key)
	iv.V0 = v0
	iv.V1 = v1
	return v0, v1
}

// DecryptBlockCBC inverts EncryptBlockCBC given the same chain.
func DecryptBlockCBC(v0, v1 uint32, key Key, iv *IV) (uint32, uint32) {
	c0, c1 := v0, v1
	v0, v1 = DecryptBlock(v0, v1, key)
	v0 ^= iv.V0
	v1 ^= iv.V1
	iv.V0 = c0
	iv.V1 = c1
	return v0, v1
}

// EncryptBufferCBC returns a new slice with each 8-byte block of buf
// encrypted in the order presented.
// Bytes 0-3 of a block are the first little-endian word, bytes 4-7
// the second. The caller decides traversal order by the order of
// bytes in buf. Panics if len(buf) is not a multiple of 8; that is a
// programming error, not a runtime condition.
func EncryptBufferCBC(buf []byte, key Key, iv *IV) []byte {
	if len(buf)%BlockSize != 0 {
		panic("xtea: buffer length not a multiple of block size")
	}
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i += BlockSize {
		v0 := wire.Uint32(buf[i : i+4])
		v1 := wire.Uint32(buf[i+4 : i+8])
		v0, v1 = EncryptBlockCBC(v0, v1, key, iv)
		out = append(out, wire.PackUint32(v0)...)
		out = append(out, wire.PackUint32(v1)...)
	}
	return out
}

// DecryptBufferCBC inverts EncryptBufferCBC over blocks in the same
// presentation order, with iv holding the same chain start.
func DecryptBufferCBC(buf []byte, key Key, iv *IV) []byte {
	if len(buf)%BlockSize != 0 {
		panic("xtea: buffer length not a multiple of block size")
	}
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i += BlockSize {
		v0 := wire.Uint32(buf[i : i+4])
		v1 := wire.Uint32(buf[i+4 : i+8])
		v0, v1 = DecryptBlockCBC(v0, v1, key, iv)
		out = append(out, wire.PackUint32(v0)...)
		out = append(out, wire.PackUint32(v1)...)
	}
	return out
}
