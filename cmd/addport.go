// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"fmt"
	"time"

	"github.com/kestrel-embedded/uplink/pkg/ports"
	"github.com/spf13/cobra"
)

var addportTimeout time.Duration

var addportCmd = &cobra.Command{
	Use:   "addport",
	Short: "Add a newly plugged-in bridge to the allow-list",
	Long: `Addport watches /dev/serial/by-id for a device that appears after the
command starts, then appends it to the allow-list.

Unplug the bridge first, run addport, then plug it back in. Devices
already connected when the command starts are ignored, so the right one
is picked even with several serial adapters present.`,
	Args: cobra.NoArgs,
	RunE: runAddport,
}

func init() {
	addportCmd.Flags().DurationVar(&addportTimeout, "timeout", 30*time.Second, "How long to wait for a new device")
	rootCmd.AddCommand(addportCmd)
}

func runAddport(cmd *cobra.Command, args []string) error {
	path, err := allowListFile()
	if err != nil {
		return err
	}

	before := ports.SnapshotDevices(ports.DeviceDir)
	fmt.Printf("waiting %s for a new device under %s (plug the bridge in now)\n",
		addportTimeout, ports.DeviceDir)

	device, err := ports.WaitForNew(ports.DeviceDir, before, addportTimeout, 250*time.Millisecond)
	if err != nil {
		return err
	}

	added, err := ports.AppendAllowList(path, device)
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("%s is already on the allow-list\n", device)
		return nil
	}
	fmt.Printf("added %s to %s\n", device, path)
	return nil
}
