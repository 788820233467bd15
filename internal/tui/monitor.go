// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"instrument/internal/host"
	"instrument/internal/params"
)

const (
	paramSteps  = 50
	meterWidth  = 40
	sectionGap  = "\n\n"
	defaultTick = 100 * time.Millisecond
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0A0A0")).Width(14)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F25D94")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

type monitorKeys struct {
	Quit   key.Binding
	Up     key.Binding
	Down   key.Binding
	Inc    key.Binding
	Dec    key.Binding
	Reset  key.Binding
	Reload key.Binding
}

var keys = monitorKeys{
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Inc:    key.NewBinding(key.WithKeys("right", "l", "+")),
	Dec:    key.NewBinding(key.WithKeys("left", "h", "-")),
	Reset:  key.NewBinding(key.WithKeys("r")),
	Reload: key.NewBinding(key.WithKeys("L")),
}

// Controls are the actions the monitor can trigger. Nil fields disable the
// matching key.
type Controls struct {
	Surface    *params.Surface
	ResetStats func()
	Reload     func() error
}

type tickMsg time.Time

type reloadMsg struct{ err error }

// MonitorModel is the live view of a running instrument.
type MonitorModel struct {
	report   func() host.Report
	controls Controls
	interval time.Duration

	last     host.Report
	params   []string
	selected int
	status   string

	cpuBar  progress.Model
	peakBar progress.Model
}

// NewMonitorModel creates a monitor polling report every interval.
func NewMonitorModel(report func() host.Report, controls Controls, interval time.Duration) MonitorModel {
	if interval <= 0 {
		interval = defaultTick
	}
	m := MonitorModel{
		report:   report,
		controls: controls,
		interval: interval,
		cpuBar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(meterWidth)),
		peakBar:  progress.New(progress.WithSolidFill("#25A065"), progress.WithWidth(meterWidth)),
	}
	if controls.Surface != nil {
		m.params = controls.Surface.Names()
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
		m.last = m.report()
		return m, m.tick()

	case reloadMsg:
		if msg.err != nil {
			m.status = "reload failed: " + msg.err.Error()
		} else {
			m.status = "reloading instrument"
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, keys.Down):
			if m.selected < len(m.params)-1 {
				m.selected++
			}
		case key.Matches(msg, keys.Inc):
			m.nudge(1)
		case key.Matches(msg, keys.Dec):
			m.nudge(-1)
		case key.Matches(msg, keys.Reset):
			if m.controls.ResetStats != nil {
				m.controls.ResetStats()
				m.status = "statistics reset"
			}
		case key.Matches(msg, keys.Reload):
			if reload := m.controls.Reload; reload != nil {
				return m, func() tea.Msg { return reloadMsg{err: reload()} }
			}
		}
	}
	return m, nil
}

// nudge moves the selected parameter by one step of its range.
func (m *MonitorModel) nudge(dir float32) {
	if len(m.params) == 0 {
		return
	}
	name := m.params[m.selected]
	cell := m.controls.Surface.Cell(name)
	lo, hi := cell.Range()
	v := cell.Load() + dir*(hi-lo)/paramSteps
	if err := m.controls.Surface.Set(name, v); err != nil {
		m.status = err.Error()
		return
	}
	m.status = fmt.Sprintf("%s = %.3f", name, m.controls.Surface.Cell(name).Load())
}

func (m MonitorModel) View() string {
	r := m.last
	var sb strings.Builder

	instrument := r.Instrument
	if instrument == "" {
		instrument = "(none)"
	}
	sb.WriteString(titleStyle.Render("Instrument Monitor"))
	sb.WriteString(sectionGap)

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	row("Instrument", highlightStyle.Render(instrument)+dimStyle.Render(fmt.Sprintf("  gen %d", r.Generation)))
	loader := r.LoaderState
	if r.LoaderError != "" {
		loader += "  " + warnStyle.Render(r.LoaderError)
	}
	row("Loader", loader)
	row("Voices", fmt.Sprintf("%d", r.ActiveVoices))
	sb.WriteString("\n")

	cpu := fmt.Sprintf("%5.1f%%", r.Metrics.CPU*100)
	if r.Metrics.Stressed {
		cpu = warnStyle.Render(cpu + " stressed")
	}
	row("CPU", m.cpuBar.ViewAs(min(r.Metrics.CPU, 1))+" "+cpu)
	row("Block time", fmt.Sprintf("avg %.3f ms  jitter %.3f ms  max %.3f ms  of %.3f ms",
		r.Metrics.AverageMs, r.Metrics.JitterMs, r.Metrics.MaxMs, r.Metrics.AvailableMs))
	row("Peak L", m.peakBar.ViewAs(min(float64(r.PeakLeft), 1)))
	row("Peak R", m.peakBar.ViewAs(min(float64(r.PeakRight), 1)))
	sb.WriteString("\n")

	s := r.Stats
	row("Blocks", fmt.Sprintf("%d  (%d skipped, %d silent)", s.Blocks, s.SkippedBlocks, s.SilentBlocks))
	row("MIDI", fmt.Sprintf("%d events  %d on  %d off  %d cc", s.MIDIEvents, s.NotesOn, s.NotesOff, s.ControlChanges))
	errs := fmt.Sprintf("%d malformed  %d param  %d render  %d dropouts",
		s.MalformedEvents, s.ParamErrors, s.RenderErrors, r.Metrics.Dropouts)
	if s.Errors() > 0 || r.Metrics.Dropouts > 0 {
		errs = warnStyle.Render(errs)
	}
	row("Errors", errs)

	if len(m.params) > 0 {
		sb.WriteString("\n")
		for i, name := range m.params {
			cell := m.controls.Surface.Cell(name)
			line := fmt.Sprintf("  %-14s %7.3f", name, cell.Load())
			if i == m.selected {
				line = highlightStyle.Render("▶" + line[1:])
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	if m.status != "" {
		sb.WriteString("\n")
		sb.WriteString(infoStyle.Render(m.status))
	}
	sb.WriteString(sectionGap)
	sb.WriteString(dimStyle.Render("↑/↓: Select • ←/→: Adjust • r: Reset stats • L: Reload • q: Quit"))
	return sb.String()
}

// RunMonitor shows the monitor until the user quits.
func RunMonitor(report func() host.Report, controls Controls, interval time.Duration) error {
	p := tea.NewProgram(NewMonitorModel(report, controls, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
