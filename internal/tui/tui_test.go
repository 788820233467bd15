// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"instrument/internal/audio"
	"instrument/internal/engine"
	"instrument/internal/host"
	"instrument/internal/monitor"
	"instrument/internal/params"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testDevices() []audio.Device {
	return []audio.Device{
		{ID: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000, IsDefault: true},
		{ID: 3, Name: "Interface", MaxOutputChannels: 8, DefaultSampleRate: 96000, HostAPI: "CoreAudio"},
	}
}

func updateDevices(t *testing.T, m DeviceListModel, msgs ...tea.Msg) DeviceListModel {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(DeviceListModel)
	}
	return m
}

func TestDevicePickerSelectsDeviceAndRate(t *testing.T) {
	m := NewDeviceListModel(func() ([]audio.Device, error) { return testDevices(), nil })
	loaded := m.Init()()
	m = updateDevices(t, m, tea.WindowSizeMsg{Width: 100, Height: 40}, loaded)

	if !strings.Contains(m.View(), "Speakers (default)") {
		t.Errorf("device list missing default marker:\n%s", m.View())
	}

	m = updateDevices(t, m, keyMsg("down"), keyMsg("enter"))
	if m.activeScreen != ConfigScreen {
		t.Fatal("enter did not open the configuration screen")
	}
	if got := m.sampleRates[m.sampleRateIndex]; got != 96000 {
		t.Errorf("initial rate = %.0f, want device default 96000", got)
	}
	if !strings.Contains(m.View(), "Configure Device: Interface") {
		t.Errorf("config view:\n%s", m.View())
	}

	m = updateDevices(t, m, keyMsg("up"))
	next, cmd := m.Update(keyMsg("enter"))
	m = next.(DeviceListModel)
	if cmd == nil {
		t.Fatal("confirming did not quit")
	}
	sel, ok := m.Selection()
	if !ok || sel.DeviceID != 3 || sel.SampleRate != 88200 {
		t.Errorf("selection = %+v, %v", sel, ok)
	}
}

func TestDevicePickerEscapeAndError(t *testing.T) {
	m := NewDeviceListModel(func() ([]audio.Device, error) { return nil, errors.New("no portaudio") })
	m = updateDevices(t, m, tea.WindowSizeMsg{Width: 80, Height: 20}, m.Init()())
	if !strings.Contains(m.View(), "no portaudio") {
		t.Errorf("view = %q", m.View())
	}

	m = NewDeviceListModel(func() ([]audio.Device, error) { return testDevices(), nil })
	m = updateDevices(t, m, tea.WindowSizeMsg{Width: 80, Height: 20}, m.Init()(), keyMsg("enter"), keyMsg("esc"))
	if m.activeScreen != ListScreen {
		t.Error("esc did not return to the list")
	}
	if _, ok := m.Selection(); ok {
		t.Error("selection without confirmation")
	}
}

func testReport() host.Report {
	return host.Report{
		Instrument:   "Grand Piano",
		LoaderState:  "idle",
		Generation:   2,
		ActiveVoices: 3,
		Stats:        engine.Stats{Blocks: 1234, RenderErrors: 1},
		Metrics:      monitor.Metrics{CPU: 0.9, Stressed: true, AverageMs: 1.25},
		PeakLeft:     0.5,
		PeakRight:    1.5,
	}
}

func updateMonitor(t *testing.T, m MonitorModel, msgs ...tea.Msg) MonitorModel {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(MonitorModel)
	}
	return m
}

func TestMonitorRendersReport(t *testing.T) {
	m := NewMonitorModel(testReport, Controls{}, time.Second)
	m = updateMonitor(t, m, tickMsg(time.Now()))

	view := m.View()
	for _, want := range []string{"Grand Piano", "gen 2", "1234", "stressed", "1 render"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestMonitorAdjustsParameters(t *testing.T) {
	surface := params.NewSurface()
	var resets int
	m := NewMonitorModel(testReport, Controls{
		Surface:    surface,
		ResetStats: func() { resets++ },
	}, time.Second)

	before, _ := surface.Get(params.MasterGain)
	m = updateMonitor(t, m, keyMsg("right"))
	after, _ := surface.Get(params.MasterGain)
	if after <= before {
		t.Errorf("master gain %v -> %v, want an increase", before, after)
	}

	// Clamped at the top of the range.
	for range paramSteps * 2 {
		m = updateMonitor(t, m, keyMsg("right"))
	}
	if v, _ := surface.Get(params.MasterGain); v != 1 {
		t.Errorf("master gain = %v, want clamped to 1", v)
	}

	m = updateMonitor(t, m, keyMsg("down"), keyMsg("left"))
	if v, _ := surface.Get(params.MasterPan); v >= 0 {
		t.Errorf("master pan = %v, want below centre", v)
	}

	m = updateMonitor(t, m, keyMsg("r"))
	if resets != 1 || m.status != "statistics reset" {
		t.Errorf("resets = %d, status %q", resets, m.status)
	}
}

func TestMonitorReloadAndQuit(t *testing.T) {
	reloadErr := errors.New("missing samples")
	m := NewMonitorModel(testReport, Controls{Reload: func() error { return reloadErr }}, time.Second)

	_, cmd := m.Update(keyMsg("L"))
	if cmd == nil {
		t.Fatal("reload key produced no command")
	}
	m = updateMonitor(t, m, cmd())
	if !strings.Contains(m.status, "missing samples") {
		t.Errorf("status = %q", m.status)
	}

	if _, cmd := m.Update(keyMsg("q")); cmd == nil {
		t.Error("q did not quit")
	}
}
