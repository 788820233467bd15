// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/gordonklaus/portaudio"
)

func mockDevices(t *testing.T, infos []*portaudio.DeviceInfo, err error) {
	t.Helper()
	orig := paDevicesFunc
	t.Cleanup(func() { paDevicesFunc = orig })
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return infos, err
	}
}

func testDeviceInfos() []*portaudio.DeviceInfo {
	return []*portaudio.DeviceInfo{
		{Name: "Mic", MaxInputChannels: 2},
		{Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000, HostApi: &portaudio.HostApiInfo{Name: "ALSA"}},
		{Name: "Mono Out", MaxOutputChannels: 1, DefaultSampleRate: 44100},
	}
}

func TestOutputDevicesFiltersInputs(t *testing.T) {
	mockDevices(t, testDeviceInfos(), nil)

	devices, err := OutputDevices()
	if err != nil {
		t.Fatalf("OutputDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	if devices[0].ID != 1 || devices[0].Name != "Speakers" || devices[0].HostAPI != "ALSA" {
		t.Errorf("first device = %+v", devices[0])
	}
	if devices[1].ID != 2 || devices[1].HostAPI != "" {
		t.Errorf("second device = %+v", devices[1])
	}
}

func TestOutputDevicesError(t *testing.T) {
	mockDevices(t, nil, fmt.Errorf("mock error"))

	if _, err := OutputDevices(); err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestOutputDevice(t *testing.T) {
	mockDevices(t, testDeviceInfos(), nil)

	if dev, err := OutputDevice(1); err != nil || dev.Name != "Speakers" {
		t.Errorf("OutputDevice(1) = %v, %v", dev, err)
	}

	tests := []struct {
		name   string
		id     int
		substr string
	}{
		{"Negative ID", -2, "invalid device ID"},
		{"Too high ID", 10, "invalid device ID"},
		{"Input only", 0, "no stereo output"},
		{"Mono output", 2, "no stereo output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OutputDevice(tt.id)
			if err == nil {
				t.Fatalf("expected error for ID %d", tt.id)
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.substr)
			}
		})
	}
}

func TestOutputDeviceError(t *testing.T) {
	mockDevices(t, nil, fmt.Errorf("mock error"))

	if _, err := OutputDevice(0); err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestListDevices(t *testing.T) {
	mockDevices(t, testDeviceInfos(), nil)

	var buf bytes.Buffer
	if err := ListDevices(&buf); err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[1] Speakers", "Host API: ALSA", "[2] Mono Out", "48000 Hz"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Mic") {
		t.Errorf("input device listed:\n%s", out)
	}
}

func TestHostDevices(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Skipf("PortAudio unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := Terminate(); err != nil {
			t.Errorf("Terminate: %v", err)
		}
	})

	devices, err := OutputDevices()
	if err != nil {
		t.Fatalf("OutputDevices: %v", err)
	}
	if len(devices) == 0 {
		t.Skip("No output devices found on system")
	}
	for _, d := range devices {
		if d.Name == "" {
			t.Errorf("device %d has empty name", d.ID)
		}
		if d.MaxOutputChannels <= 0 {
			t.Errorf("device %d has no output channels", d.ID)
		}
	}
}
