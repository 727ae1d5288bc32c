// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"beatflux/internal/analysis"
	"beatflux/internal/log"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	historyLen  = 48 // Flux values kept for the sparkline.
	flashTicks  = 4  // Ticks a peak stays highlighted.
	barWidth    = 40
	sparkLevels = "▁▂▃▄▅▆▇█"
)

var (
	peakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("#E0475B")).Bold(true).Padding(0, 1)
	idleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Padding(0, 1)
	fluxStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	limitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F2C14E"))
)

// Resetter is implemented by sources that can discard their history.
type Resetter interface {
	Reset()
}

// GateControl switches the capture noise gate.
type GateControl interface {
	ToggleGate() bool
	GateEnabled() bool
}

type monitorKeys struct {
	Quit  key.Binding
	Reset key.Binding
	Gate  key.Binding
}

var defaultMonitorKeys = monitorKeys{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Gate:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "gate"), key.WithDisabled()),
}

type tickMsg time.Time

// MonitorModel polls a Snapshotter and draws the onset state.
type MonitorModel struct {
	source   analysis.Snapshotter
	gate     GateControl
	interval time.Duration
	keys     monitorKeys

	snap      analysis.Snapshot
	lastIndex int
	history   []float64
	flash     int
}

// MonitorOption configures optional monitor controls.
type MonitorOption func(*MonitorModel)

// WithGate binds the g key to gate.
func WithGate(gate GateControl) MonitorOption {
	return func(m *MonitorModel) {
		m.gate = gate
		m.keys.Gate.SetEnabled(gate != nil)
	}
}

// NewMonitorModel returns a model polling source every interval.
func NewMonitorModel(source analysis.Snapshotter, interval time.Duration, opts ...MonitorOption) MonitorModel {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	m := MonitorModel{
		source:    source,
		interval:  interval,
		keys:      defaultMonitorKeys,
		lastIndex: -1,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m MonitorModel) Init() tea.Cmd {
	return m.tick()
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m = m.poll()
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Gate):
			m.gate.ToggleGate()
		case key.Matches(msg, m.keys.Reset):
			if r, ok := m.source.(Resetter); ok {
				r.Reset()
			}
			m.snap = analysis.Snapshot{}
			m.history = nil
			m.lastIndex = -1
			m.flash = 0
		}
	}
	return m, nil
}

// poll takes a snapshot and records a sample the model has not seen yet.
func (m MonitorModel) poll() MonitorModel {
	m.snap = m.source.Snapshot()
	if m.flash > 0 {
		m.flash--
	}
	if !m.snap.Valid || m.snap.Latest.Index == m.lastIndex {
		return m
	}
	m.lastIndex = m.snap.Latest.Index
	m.history = append(m.history, m.snap.Latest.SpectralFlux)
	if len(m.history) > historyLen {
		m.history = m.history[len(m.history)-historyLen:]
	}
	if m.snap.Latest.Peak() {
		m.flash = flashTicks
	}
	return m
}

func (m MonitorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Onset Monitor"))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "input     %s %8.3f\n", bar(m.snap.Amplitude, 1, barWidth), m.snap.Amplitude)
	fmt.Fprintf(&b, "level     %s %8.1f\n", bar(m.snap.Level, 255, barWidth), m.snap.Level)
	if m.gate != nil {
		state := "off"
		if m.gate.GateEnabled() {
			state = "on"
		}
		fmt.Fprintf(&b, "gate      %s\n", state)
	}
	b.WriteString("\n")

	if !m.snap.Valid {
		b.WriteString(infoStyle.Render("Waiting for the detector to warm up..."))
		b.WriteString("\n\n")
		b.WriteString(m.help())
		return b.String()
	}

	s := m.snap.Latest
	indicator := idleStyle.Render("  ·  ")
	if m.flash > 0 {
		indicator = peakStyle.Render("ONSET")
	}
	tempo := "tempo: --"
	if m.snap.Tempo > 0 {
		tempo = fmt.Sprintf("tempo: %.1f/min", m.snap.Tempo)
	}
	fmt.Fprintf(&b, "%s  %s  sample %d  t=%.2fs  peaks %d\n\n", indicator, highlightStyle.Render(tempo), s.Index, s.Time, m.snap.Peaks)

	threshold, _ := s.Threshold.Get()
	scale := math.Max(threshold, maxOf(m.history))
	fmt.Fprintf(&b, "flux      %s %8.1f\n", fluxStyle.Render(bar(s.SpectralFlux, scale, barWidth)), s.SpectralFlux)
	fmt.Fprintf(&b, "threshold %s %8.1f\n", limitStyle.Render(bar(threshold, scale, barWidth)), threshold)
	fmt.Fprintf(&b, "history   %s\n\n", fluxStyle.Render(sparkline(m.history)))

	bandScale := maxOf(s.SubBandFlux)
	for i, v := range s.SubBandFlux {
		fmt.Fprintf(&b, "band %-4d %s %8.1f\n", i, bar(v, bandScale, barWidth), v)
	}
	b.WriteString("\n")
	b.WriteString(m.help())
	return b.String()
}

func (m MonitorModel) help() string {
	var parts []string
	for _, k := range []key.Binding{m.keys.Quit, m.keys.Reset, m.keys.Gate} {
		if k.Enabled() {
			parts = append(parts, k.Help().Key+": "+k.Help().Desc)
		}
	}
	return infoStyle.Render(strings.Join(parts, " • "))
}

// bar renders v as a horizontal bar of width cells relative to scale.
func bar(v, scale float64, width int) string {
	n := 0
	if scale > 0 {
		n = int(math.Round(v / scale * float64(width)))
	}
	n = max(0, min(n, width))
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

func sparkline(values []float64) string {
	levels := []rune(sparkLevels)
	top := maxOf(values)
	var b strings.Builder
	for _, v := range values {
		i := 0
		if top > 0 {
			i = int(v / top * float64(len(levels)-1))
		}
		b.WriteRune(levels[max(0, min(i, len(levels)-1))])
	}
	return b.String()
}

func maxOf(values []float64) float64 {
	var top float64
	for _, v := range values {
		top = math.Max(top, v)
	}
	return top
}

// logBackend lets tea.LogToFileWith redirect the application logger.
type logBackend struct{}

func (logBackend) SetOutput(w io.Writer)   { log.SetOutput(w) }
func (logBackend) SetPrefix(prefix string) { log.SetPrefix(prefix) }

// redirectLogs sends log output to path, or discards it when path is empty,
// so log lines do not draw over the alternate screen. restore puts the
// previous output back.
func redirectLogs(path string) (restore func(), err error) {
	prev := log.Writer()
	if path == "" {
		log.SetOutput(io.Discard)
		return func() { log.SetOutput(prev) }, nil
	}
	f, err := tea.LogToFileWith(path, "", logBackend{})
	if err != nil {
		return nil, fmt.Errorf("failed to open monitor log: %w", err)
	}
	return func() {
		log.SetOutput(prev)
		log.SetPrefix("")
		f.Close()
	}, nil
}

// RunMonitor shows the monitor until the user quits or ctx is done. Log
// output goes to logPath while the monitor owns the terminal.
func RunMonitor(ctx context.Context, source analysis.Snapshotter, interval time.Duration, logPath string, opts ...MonitorOption) error {
	restore, err := redirectLogs(logPath)
	if err != nil {
		return err
	}
	defer restore()

	p := tea.NewProgram(
		NewMonitorModel(source, interval, opts...),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
