// SPDX-License-Identifier: MIT
/*
Package tui holds the terminal screens: a device picker used by the list
command and the live monitor shown while playing. Both are bubbletea models
that can be driven directly with messages in tests.
*/
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"instrument/internal/audio"
	"instrument/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// Selection is the device and rate chosen in the picker.
type Selection struct {
	DeviceID   int
	DeviceName string
	SampleRate float64
}

// DeviceListModel lists output devices and lets the user pick a sample rate
// for one of them.
type DeviceListModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	sampleRates     []float64
	sampleRateIndex int

	chosen *Selection
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a picker that loads devices with fetch.
func NewDeviceListModel(fetch func() ([]audio.Device, error)) DeviceListModel {
	return DeviceListModel{
		fetch:        fetch,
		activeScreen: ListScreen,
		sampleRates:  config.SupportedSampleRates[:],
	}
}

func (m DeviceListModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c"))) {
			return m, tea.Quit
		}

		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, keys.Up):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, keys.Down):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
				if len(m.devices) > 0 {
					m.activeScreen = ConfigScreen
					m.sampleRateIndex = 0
					for i, rate := range m.sampleRates {
						if rate == m.devices[m.selectedIndex].DefaultSampleRate {
							m.sampleRateIndex = i
							break
						}
					}
				}
			}
		case ConfigScreen:
			switch {
			case key.Matches(msg, key.NewBinding(key.WithKeys("esc"))):
				m.activeScreen = ListScreen
			case key.Matches(msg, keys.Up):
				if m.sampleRateIndex > 0 {
					m.sampleRateIndex--
				}
			case key.Matches(msg, keys.Down):
				if m.sampleRateIndex < len(m.sampleRates)-1 {
					m.sampleRateIndex++
				}
			case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
				d := m.devices[m.selectedIndex]
				m.chosen = &Selection{
					DeviceID:   d.ID,
					DeviceName: d.Name,
					SampleRate: m.sampleRates[m.sampleRateIndex],
				}
				return m, tea.Quit
			}
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
	} else {
		m.viewport.SetContent(m.renderDevices())
	}
}

// Selection returns the confirmed choice, if any.
func (m DeviceListModel) Selection() (Selection, bool) {
	if m.chosen == nil {
		return Selection{}, false
	}
	return *m.chosen, true
}

func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Output Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Device Configuration")
		help = infoStyle.Render("↑/↓: Change Value • Enter: Use • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No output devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		marker := ""
		if device.IsDefault {
			marker = " (default)"
		}
		info := fmt.Sprintf("[%d] %s%s\n", device.ID, device.Name, marker)
		if device.HostAPI != "" {
			info += fmt.Sprintf("    Host API: %s\n", device.HostAPI)
		}
		info += fmt.Sprintf("    Output channels: %d, default %.0f Hz, latency %.1f-%.1f ms\n",
			device.MaxOutputChannels, device.DefaultSampleRate,
			device.LowLatency.Seconds()*1000, device.HighLatency.Seconds()*1000)

		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	device := m.devices[m.selectedIndex]

	sb.WriteString(fmt.Sprintf("Configure Device: %s\n\n", device.Name))
	sb.WriteString("Sample Rate:\n")

	for i, rate := range m.sampleRates {
		cursor := " "
		if i == m.sampleRateIndex {
			cursor = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", cursor, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// RunDevicePicker runs the picker over PortAudio's output devices and returns
// the confirmed selection. PortAudio must be initialized.
func RunDevicePicker() (Selection, bool, error) {
	p := tea.NewProgram(NewDeviceListModel(audio.OutputDevices), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, false, err
	}
	sel, ok := final.(DeviceListModel).Selection()
	return sel, ok, nil
}
