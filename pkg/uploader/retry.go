// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded

package uploader

import "time"

// retryUntil runs attempt repeatedly until it reports done, returns
// an error, or the deadline passes (ErrDeadline). Every waiting
// protocol phase goes through this; there are no unbounded loops in
// the engine.
func retryUntil(timeout time.Duration, attempt func() (done bool, err error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := attempt()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrDeadline
		}
	}
}
