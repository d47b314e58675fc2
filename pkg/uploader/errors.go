// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package uploader

import (
	"errors"
	"fmt"
)

// Remote rejections. These are fatal: retrying past a rejected
// signature or size risks corrupting the remote's flash.
var (
	ErrSignatureRejected = errors.New("remote rejected the upload signature: its stored key or address does not match")
	ErrSizeRejected      = errors.New("remote rejected the image size: too large for its configured space")
)

// ErrDeadline is returned when a protocol phase exhausts its
// deadline without an answer from the remote.
var ErrDeadline = errors.New("deadline elapsed")

// Firmware image validation failures.
var (
	ErrImageTooShort  = errors.New("image is shorter than 2 bytes")
	ErrImageTooLarge  = errors.New("image does not fit the application flash region")
	ErrImageOddLength = errors.New("image length is odd")
	ErrImageBlank     = errors.New("image starts with 0xFF 0xFF, not a firmware file")
)

// ProtocolError reports a wire-level violation by the remote. The
// engine never recovers from one automatically.
type ProtocolError struct {
	Phase  string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation during %s: %s", e.Phase, e.Detail)
}
