// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"io"
	"time"

	"github.com/gordonklaus/portaudio"

	"instrument/internal/config"
)

// Device describes a PortAudio device.
type Device struct {
	ID                int
	Name              string
	HostAPI           string
	MaxOutputChannels int
	DefaultSampleRate float64
	LowLatency        time.Duration
	HighLatency       time.Duration
	IsDefault         bool
}

// paDevicesFunc is replaced in tests.
var paDevicesFunc = portaudio.Devices

// Initialize sets up the PortAudio subsystem.
// This must be called before any audio operations and paired with a Terminate() call.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return nil
}

// Terminate cleanly shuts down the PortAudio subsystem.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// OutputDevices returns every device with at least one output channel.
// PortAudio must be initialized.
func OutputDevices() ([]Device, error) {
	infos, err := paDevicesFunc()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultOutputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var out []Device
	for i, info := range infos {
		if info.MaxOutputChannels <= 0 {
			continue
		}
		d := Device{
			ID:                i,
			Name:              info.Name,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			LowLatency:        info.DefaultLowOutputLatency,
			HighLatency:       info.DefaultHighOutputLatency,
			IsDefault:         info.Name == defaultName,
		}
		if info.HostApi != nil {
			d.HostAPI = info.HostApi.Name
		}
		out = append(out, d)
	}
	return out, nil
}

// OutputDevice resolves a device ID. MinDeviceID selects the system default
// output device.
func OutputDevice(deviceID int) (*portaudio.DeviceInfo, error) {
	if deviceID == config.MinDeviceID {
		return portaudio.DefaultOutputDevice()
	}

	infos, err := paDevicesFunc()
	if err != nil {
		return nil, err
	}
	if deviceID < 0 || deviceID >= len(infos) {
		return nil, fmt.Errorf("invalid device ID: %d", deviceID)
	}
	if infos[deviceID].MaxOutputChannels < 2 {
		return nil, fmt.Errorf("device %d (%s) has no stereo output", deviceID, infos[deviceID].Name)
	}
	return infos[deviceID], nil
}

// ListDevices writes a table of output devices to w.
func ListDevices(w io.Writer) error {
	devices, err := OutputDevices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nAvailable Output Devices\n\n")
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " (default)"
		}
		fmt.Fprintf(w, "[%d] %s%s\n", d.ID, d.Name, marker)
		if d.HostAPI != "" {
			fmt.Fprintf(w, "    Host API: %s\n", d.HostAPI)
		}
		fmt.Fprintf(w, "    Output channels: %d\n", d.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz\n", d.DefaultSampleRate)
		fmt.Fprintf(w, "    Latency: Low=%.2fms, High=%.2fms\n\n",
			d.LowLatency.Seconds()*1000, d.HighLatency.Seconds()*1000)
	}
	return nil
}
