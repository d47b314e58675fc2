// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"fmt"

	"github.com/kestrel-embedded/uplink/pkg/ports"
	"github.com/spf13/cobra"
)

var getportCmd = &cobra.Command{
	Use:   "getport",
	Short: "Print the bridge device that would be used",
	Long: `Getport scans /dev/serial/by-id for the first connected device on the
allow-list and prints its canonical path.

The allow-list lives at ~/.config/uplink/ports (one device path per
line, # comments). A missing allow-list is created empty with an
explanatory template. Use "uplink addport" to populate it.`,
	Args: cobra.NoArgs,
	RunE: runGetport,
}

func init() {
	rootCmd.AddCommand(getportCmd)
}

func runGetport(cmd *cobra.Command, args []string) error {
	path, err := allowListFile()
	if err != nil {
		return err
	}
	device, err := ports.Discover(path, ports.DeviceDir)
	if err != nil {
		return err
	}
	fmt.Println(device)
	return nil
}
