// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"strobe/internal/pitch"
	"strobe/internal/strobe"
	"strobe/internal/tuner"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controls are the tuner operations bound to keys. *tuner.Tuner implements
// them.
type Controls interface {
	ToggleFreeze() (bool, error)
	BufferIncrease() (int, error)
	BufferDecrease() (int, error)
	Transpose(semitones int) (float64, error)
	AutoTargetAll()
}

// FrameMsg delivers a published tuner frame to the program.
type FrameMsg tuner.Frame

// actionMsg reports the outcome of a control operation.
type actionMsg struct {
	text string
	err  error
}

// KeyMap binds the strobe view keys.
type KeyMap struct {
	Freeze     key.Binding
	BufferUp   key.Binding
	BufferDown key.Binding
	NoteUp     key.Binding
	NoteDown   key.Binding
	OctaveUp   key.Binding
	OctaveDown key.Binding
	Auto       key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Freeze:     key.NewBinding(key.WithKeys("f", " ", "space"), key.WithHelp("f", "freeze")),
		BufferUp:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+/-", "buffer")),
		BufferDown: key.NewBinding(key.WithKeys("-", "_")),
		NoteUp:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("←/→", "semitone")),
		NoteDown:   key.NewBinding(key.WithKeys("left", "h")),
		OctaveUp:   key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/↓", "octave")),
		OctaveDown: key.NewBinding(key.WithKeys("down", "j")),
		Auto:       key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Freeze, k.BufferUp, k.NoteUp, k.OctaveUp, k.Auto, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var (
	lightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F5D76E"))
	darkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B3B3B"))
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	labelStyle  = lipgloss.NewStyle().Width(34)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75"))
)

const (
	defaultStripColumns = 60
	minStripColumns     = 8
)

// StrobeModel renders one strip per strobe channel from the frames the tuner
// publishes.
type StrobeModel struct {
	controls Controls
	keys     KeyMap
	help     help.Model
	columns  int
	frame    tuner.Frame
	status   string
	err      error
}

// NewStrobeModel returns a view bound to controls.
func NewStrobeModel(controls Controls) StrobeModel {
	return StrobeModel{
		controls: controls,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		columns:  defaultStripColumns,
	}
}

// Init implements tea.Model.
func (m StrobeModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model. Control operations run as commands so a slow
// reconfigure never stalls rendering.
func (m StrobeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.columns = max(msg.Width-lipgloss.Width(labelStyle.Render(""))-2, minStripColumns)
		m.help.Width = msg.Width

	case FrameMsg:
		m.frame = tuner.Frame(msg)

	case actionMsg:
		m.status, m.err = msg.text, msg.err

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m StrobeModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	c := m.controls
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Freeze):
		return action(func() (string, error) {
			frozen, err := c.ToggleFreeze()
			if frozen {
				return "frozen", err
			}
			return "running", err
		})
	case key.Matches(msg, m.keys.BufferUp):
		return action(func() (string, error) {
			n, err := c.BufferIncrease()
			return fmt.Sprintf("buffer %d", n), err
		})
	case key.Matches(msg, m.keys.BufferDown):
		return action(func() (string, error) {
			n, err := c.BufferDecrease()
			return fmt.Sprintf("buffer %d", n), err
		})
	case key.Matches(msg, m.keys.NoteUp):
		return transpose(c, 1)
	case key.Matches(msg, m.keys.NoteDown):
		return transpose(c, -1)
	case key.Matches(msg, m.keys.OctaveUp):
		return transpose(c, 12)
	case key.Matches(msg, m.keys.OctaveDown):
		return transpose(c, -12)
	case key.Matches(msg, m.keys.Auto):
		return action(func() (string, error) {
			c.AutoTargetAll()
			return "auto targets", nil
		})
	}
	return nil
}

func action(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := fn()
		return actionMsg{text: text, err: err}
	}
}

func transpose(c Controls, semitones int) tea.Cmd {
	return action(func() (string, error) {
		midi, err := c.Transpose(semitones)
		return "target " + pitch.MidiToNoteName(pitch.Midi(midi)), err
	})
}

// View implements tea.Model.
func (m StrobeModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Strobe Tuner"))
	sb.WriteString("\n\n")

	if len(m.frame.Readings) == 0 {
		sb.WriteString(idleStyle.Render("Waiting for audio..."))
		sb.WriteString("\n")
	}
	for _, r := range m.frame.Readings {
		sb.WriteString(labelStyle.Render(ReadingLabel(r)))
		sb.WriteString(m.renderStrip(r))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render(m.statusLine()))
	sb.WriteString("\n")
	if m.err != nil {
		sb.WriteString(errorStyle.Render("error: " + m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m StrobeModel) statusLine() string {
	f := m.frame
	state := f.State
	if state == "" {
		state = "-"
	}
	if f.Frozen {
		state += " (frozen)"
	}
	line := fmt.Sprintf("%s | %.0f Hz | buffer %d | wheel %s",
		state, f.SampleRate, f.BufferSize, pitch.MidiToNoteName(pitch.Midi(f.TargetMidi)))
	if m.status != "" {
		line += " | " + m.status
	}
	return line
}

func (m StrobeModel) renderStrip(r strobe.Reading) string {
	pattern := StripPattern(r, m.columns)
	if !r.Active {
		return idleStyle.Render(pattern)
	}
	var sb strings.Builder
	for _, cell := range pattern {
		if cell == lightCell {
			sb.WriteString(lightStyle.Render(string(cell)))
		} else {
			sb.WriteString(darkStyle.Render(string(cell)))
		}
	}
	return sb.String()
}

const (
	lightCell = '█'
	darkCell  = '░'
)

// StripPattern samples a channel's light/dark pattern at columns evenly
// spaced positions across the strip. A segment pair spans SegmentWidth phase
// units and the pattern is shifted by Phase.
func StripPattern(r strobe.Reading, columns int) string {
	if columns <= 0 || !(r.SegmentWidth > 0) {
		return ""
	}
	stripWidth := r.SegmentWidth * float64(2*(r.Order+1))
	half := r.SegmentWidth / 2

	cells := make([]rune, columns)
	for i := range cells {
		x := float64(i) * stripWidth / float64(columns)
		pos := math.Mod(x-r.Phase, r.SegmentWidth)
		if pos < 0 {
			pos += r.SegmentWidth
		}
		if pos < half {
			cells[i] = lightCell
		} else {
			cells[i] = darkCell
		}
	}
	return string(cells)
}

// ReadingLabel names a channel's note, deviation and frequency.
func ReadingLabel(r strobe.Reading) string {
	cents, ok := r.Cents()
	if !r.Active || !ok {
		return fmt.Sprintf("%d  --", r.Channel+1)
	}
	label := fmt.Sprintf("%d  %-4s %+6.1fc %7.1f Hz", r.Channel+1, r.Note, cents, r.Frequency)
	if r.Manual {
		label += " ->" + r.TargetNote
	}
	return label
}

// ProgramSink forwards tuner frames into a running program.
type ProgramSink struct {
	Program *tea.Program
}

// Send implements tuner.Sink.
func (s ProgramSink) Send(data any) error {
	f, ok := data.(tuner.Frame)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", data)
	}
	s.Program.Send(FrameMsg(f))
	return nil
}

// RunStrobeUI shows the strobe view until the user quits or ctx is
// cancelled. Frames published by t are forwarded to the view.
func RunStrobeUI(ctx context.Context, t *tuner.Tuner) error {
	p := tea.NewProgram(NewStrobeModel(t), tea.WithAltScreen(), tea.WithContext(ctx))
	t.AddSink(ProgramSink{Program: p})
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
