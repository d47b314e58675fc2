// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrel-embedded/uplink/pkg/settings"
	"github.com/kestrel-embedded/uplink/pkg/wire"
	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Scaffold a new firmware project directory",
	Long: `Create makes a project directory with freshly generated radio.cfg and
app.cfg files and a stub firmware source.

The cipher key and the radio addresses are drawn from the system's
random source; the bootloader and the application get distinct
addresses on distinct channels. Flash the generated key and bootloader
parameters into the remote device before the first upload.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)
}

const stubSource = `/* Firmware entry point. Replace with the real application.
 *
 * The reset trigger in app.cfg must be recognized by this program: on
 * receiving it over the radio, jump to the bootloader so the next
 * upload can proceed.
 */

int main(void)
{
	for (;;)
		;
}
`

func runCreate(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}

	rnd := make([]byte, 16+2+2+2)
	if _, err := rand.Read(rnd); err != nil {
		return fmt.Errorf("generate parameters: %w", err)
	}
	key := rnd[0:16]
	bootAddr := rnd[16:18]
	appAddr := rnd[18:20]
	bootCh := rnd[20] & 0x7F
	appCh := rnd[21] & 0x7F
	if appCh == bootCh {
		appCh = (appCh + 1) & 0x7F
	}

	radio := fmt.Sprintf(`# Bootloader radio parameters. Must match the values compiled into
# the remote bootloader.
channel = %d
address = 0x%02X 0x%02X
key = 0x%08X 0x%08X 0x%08X 0x%08X
`,
		bootCh, bootAddr[0], bootAddr[1],
		wire.Uint32(key[0:4]), wire.Uint32(key[4:8]),
		wire.Uint32(key[8:12]), wire.Uint32(key[12:16]))

	app := fmt.Sprintf(`# Deployed application parameters. The reset string is sent to the
# running application to make it restart into the bootloader.
channel = %d
address = 0x%02X 0x%02X
reset = "RST"
`,
		appCh, appAddr[0], appAddr[1])

	files := []struct {
		name, content string
	}{
		{settings.RadioFile, radio},
		{settings.AppFile, app},
		{"main.c", stubSource},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		fmt.Printf("wrote %s\n", filepath.Join(dir, f.name))
	}
	return nil
}
