// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kestrel Embedded
//
// Uplink - encrypted firmware uploader for USB2RF-bridged devices.

package main

import (
	"fmt"
	"os"

	"github.com/kestrel-embedded/uplink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
