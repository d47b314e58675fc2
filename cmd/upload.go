// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/kestrel-embedded/uplink/pkg/settings"
	"github.com/kestrel-embedded/uplink/pkg/uploader"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:     "upload <firmware.bin>",
	Aliases: []string{"send"},
	Short:   "Upload a firmware image to the remote device",
	Long: `Upload encrypts a firmware image with the project's cipher key and
streams it to the remote bootloader over the radio bridge.

The session resets the running application (using the trigger string
remembered from the previous upload, falling back to app.cfg), addresses
the bootloader, performs the IV handshake and transfers the image under
the bootloader's flow control. Afterwards the bridge is re-addressed to
the application and the deployed parameters are recorded.

If the image is byte-identical to the previously uploaded one, nothing
is transmitted.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	stepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func runUpload(cmd *cobra.Command, args []string) error {
	radio, err := settings.LoadRadio(filepath.Join(workDir, settings.RadioFile))
	if err != nil {
		return err
	}
	app, err := settings.LoadApp(filepath.Join(workDir, settings.AppFile))
	if err != nil {
		return err
	}

	img, err := uploader.LoadImage(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes (%d blocks)\n", args[0], len(img.Raw()), img.Blocks())

	link, _, cleanup, err := openSession()
	if err != nil {
		return err
	}
	defer cleanup()

	engine := uploader.New(link, *radio, *app,
		uploader.WithWorkDir(workDir),
		uploader.WithLogf(printStep))

	if err := engine.Upload(img); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("upload complete"))
	return nil
}

// printStep renders engine progress, dimmed, with warnings called out.
func printStep(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if len(line) >= 8 && line[:8] == "WARNING:" {
		fmt.Println(warnStyle.Render(line))
		return
	}
	fmt.Println(stepStyle.Render(line))
}
