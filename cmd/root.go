// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Device selection flags
	portName      string
	allowListPath string

	// Project directory (configs + upload ledger)
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "uplink",
	Short: "Encrypted firmware uploader for USB2RF-bridged devices",
	Long: `Uplink - uploads encrypted firmware images to remote devices over a
USB2RF radio bridge.

The project directory must contain radio.cfg (bootloader channel, address
and cipher key) and app.cfg (the deployed application's channel, address
and reset trigger). After a successful upload the deployed parameters and
a copy of the image are remembered there, so re-running with an unchanged
image is a no-op.

The bridge device is found by scanning /dev/serial/by-id against the
allow-list (see "uplink getport"); --port overrides discovery. A UUCP
lock under /var/lock arbitrates access: a live holder is suspended for
the duration of the session and resumed afterwards.`,
	Version:       "1.2.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Bridge serial device (skips discovery)")
	rootCmd.PersistentFlags().StringVar(&allowListPath, "ports-file", "", "Allow-list file (default ~/.config/uplink/ports)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", ".", "Project directory with radio.cfg and app.cfg")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
