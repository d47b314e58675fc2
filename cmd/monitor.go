// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kestrel Embedded

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kestrel-embedded/uplink/pkg/bridge"
	"github.com/kestrel-embedded/uplink/pkg/settings"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive terminal to the deployed application",
	Long: `Monitor addresses the bridge to the deployed application and relays
bytes both ways in an interactive terminal.

Received bytes appear in the scrollback; the input line is transmitted
on Enter with a trailing newline. Ctrl+C or Esc exits.

Requires a terminal; refuses to run with redirected stdin.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

const maxScrollback = 500

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorDataMsg []byte

type monitorReadErrMsg struct{ err error }

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type monitorModel struct {
	link   bridge.Link
	device string

	lines   []string
	partial string

	input textinput.Model

	width  int
	height int

	err      error
	quitting bool
}

var (
	monTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	monPromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))
	monErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)

func initialMonitorModel(link bridge.Link, device string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "type and press Enter to send"
	ti.Prompt = "> "
	ti.Focus()

	return monitorModel{
		link:   link,
		device: device,
		input:  ti,
		width:  80,
		height: 24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			if err := m.link.Write([]byte(line + "\n")); err != nil {
				m.err = fmt.Errorf("send: %w", err)
				return m, tea.Quit
			}
			m.appendLine(monPromptStyle.Render("> " + line))
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4

	case monitorDataMsg:
		m.ingest([]byte(msg))

	case monitorReadErrMsg:
		m.err = msg.err
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ingest splits incoming bytes into scrollback lines, keeping an
// unterminated tail as the partial line.
func (m *monitorModel) ingest(data []byte) {
	text := m.partial + strings.ReplaceAll(string(data), "\r", "")
	parts := strings.Split(text, "\n")
	m.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		m.appendLine(line)
	}
}

func (m *monitorModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(monTitleStyle.Render("uplink monitor - " + m.device))
	b.WriteString("\n")

	// Scrollback fills everything between the title and the input
	// line, newest at the bottom.
	visible := m.height - 3
	if visible < 1 {
		visible = 1
	}
	shown := m.lines
	if m.partial != "" {
		shown = append(append([]string{}, shown...), m.partial)
	}
	if len(shown) > visible {
		shown = shown[len(shown)-visible:]
	}
	for i := 0; i < visible; i++ {
		if i < len(shown) {
			b.WriteString(shown[i])
		}
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(monErrStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}

//////////////////////////////////////////////////////////////
// Command
//////////////////////////////////////////////////////////////

func runMonitor(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("monitor needs an interactive terminal")
	}

	app, err := settings.LoadApp(filepath.Join(workDir, settings.AppFile))
	if err != nil {
		return err
	}

	link, device, cleanup, err := openSession()
	if err != nil {
		return err
	}
	defer cleanup()

	br := bridge.New(link)
	if err := br.Contact(2 * time.Second); err != nil {
		return fmt.Errorf("contact bridge: %w", err)
	}
	if err := br.SetChannel(app.Channel); err != nil {
		return err
	}
	if err := br.SetAddress(app.Address); err != nil {
		return err
	}

	m := initialMonitorModel(link, device)
	p := tea.NewProgram(m, tea.WithAltScreen())

	done := make(chan struct{})
	go readerLoop(p, link, done)

	_, runErr := p.Run()
	close(done)
	return runErr
}

// readerLoop pumps received bytes into the TUI, batching whatever is
// immediately available into one message.
func readerLoop(p *tea.Program, link bridge.Link, done chan struct{}) {
	var batch []byte
	for {
		select {
		case <-done:
			return
		default:
		}

		c, err := link.ReadByte(100 * time.Millisecond)
		switch {
		case errors.Is(err, bridge.ErrNoData):
			if len(batch) > 0 {
				p.Send(monitorDataMsg(batch))
				batch = nil
			}
		case err != nil:
			select {
			case <-done:
			default:
				p.Send(monitorReadErrMsg{err: err})
			}
			return
		default:
			batch = append(batch, c)
			if len(batch) >= 256 {
				p.Send(monitorDataMsg(batch))
				batch = nil
			}
		}
	}
}
