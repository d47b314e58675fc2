// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package uploader

import (
	"fmt"
	"os"
)

const (
	// PayloadSize is the fixed framing unit for the header and
	// every image block.
	PayloadSize = 32

	flashSize    = 32 * 1024
	bootReserved = 2 * 1024

	// MaxImageSize is the application flash region: total flash
	// minus the bootloader reservation.
	MaxImageSize = flashSize - bootReserved
)

// Image is a validated firmware image. The raw bytes belong to the
// upload session for its duration; Padded returns them extended with
// 0xFF to a multiple of PayloadSize.
type Image struct {
	raw    []byte
	padded []byte
}

// LoadImage reads and validates a firmware file.
func LoadImage(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware file: %w", err)
	}
	img, err := NewImage(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// NewImage validates raw firmware bytes and pads them for transfer.
func NewImage(raw []byte) (*Image, error) {
	if len(raw) < 2 {
		return nil, ErrImageTooShort
	}
	if len(raw) > MaxImageSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrImageTooLarge, len(raw), MaxImageSize)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageOddLength, len(raw))
	}
	// Erased flash reads back as all 0xFF; a file starting that way
	// is not code.
	if raw[0] == 0xFF && raw[1] == 0xFF {
		return nil, ErrImageBlank
	}

	padded := make([]byte, paddedLength(len(raw)))
	copy(padded, raw)
	for i := len(raw); i < len(padded); i++ {
		padded[i] = 0xFF
	}
	return &Image{raw: raw, padded: padded}, nil
}

// paddedLength is the smallest multiple of PayloadSize >= n.
func paddedLength(n int) int {
	return (n + PayloadSize - 1) / PayloadSize * PayloadSize
}

// Raw returns the bytes as read from the file.
func (im *Image) Raw() []byte { return im.raw }

// Padded returns the transfer buffer, 0xFF-padded to a PayloadSize
// multiple.
func (im *Image) Padded() []byte { return im.padded }

// Blocks returns the number of PayloadSize blocks in the padded
// image.
func (im *Image) Blocks() int { return len(im.padded) / PayloadSize }
