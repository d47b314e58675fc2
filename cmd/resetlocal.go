// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"fmt"

	"github.com/kestrel-embedded/uplink/pkg/bridge"
	"github.com/spf13/cobra"
)

var resetlocalCmd = &cobra.Command{
	Use:   "resetlocal",
	Short: "Restart the local bridge module",
	Long: `Resetlocal restarts the USB2RF bridge itself (not the remote device).

Useful when the bridge stops responding to command mode; its USB serial
port re-enumerates after the restart.`,
	Args: cobra.NoArgs,
	RunE: runResetlocal,
}

func init() {
	rootCmd.AddCommand(resetlocalCmd)
}

func runResetlocal(cmd *cobra.Command, args []string) error {
	link, _, cleanup, err := openSession()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := bridge.New(link).Reset(); err != nil {
		return fmt.Errorf("reset bridge: %w", err)
	}
	fmt.Println("bridge restart requested")
	return nil
}
