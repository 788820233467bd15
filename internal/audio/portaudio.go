// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"

	"instrument/internal/config"
	applog "instrument/internal/log"
)

// Stream is an output backend.
type Stream interface {
	Start() error
	Stop() error
	Close() error
	Latency() time.Duration
}

// PortAudioStream plays the driver's output on a PortAudio device using a
// non-interleaved stereo callback.
type PortAudioStream struct {
	driver  *Driver
	device  *portaudio.DeviceInfo
	latency time.Duration
	stream  *portaudio.Stream
}

// NewPortAudioStream opens the configured output device. PortAudio must be
// initialized.
func NewPortAudioStream(cfg config.AudioConfig, d *Driver) (*PortAudioStream, error) {
	device, err := OutputDevice(cfg.OutputDevice)
	if err != nil {
		return nil, fmt.Errorf("output device: %w", err)
	}

	s := &PortAudioStream{driver: d, device: device}
	if cfg.LowLatency {
		s.latency = device.DefaultLowOutputLatency
	} else {
		s.latency = device.DefaultHighOutputLatency
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 2,
			Latency:  s.latency,
		},
		FramesPerBuffer: cfg.BlockSize,
		SampleRate:      cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.process)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	s.stream = stream
	applog.Infof("Audio: Opened %s at %.0f Hz, %d frames, latency %s",
		device.Name, cfg.SampleRate, cfg.BlockSize, s.latency)
	return s, nil
}

// process is the PortAudio callback.
func (s *PortAudioStream) process(out [][]float32) {
	s.driver.Process(out[0], out[1])
}

func (s *PortAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	return nil
}

func (s *PortAudioStream) Stop() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Stop()
}

// Close stops and closes the stream. Safe to call more than once.
func (s *PortAudioStream) Close() error {
	if s.stream == nil {
		return nil
	}
	stream := s.stream
	s.stream = nil
	if err := stream.Stop(); err != nil {
		applog.Debugf("Audio: Stop before close: %v", err)
	}
	return stream.Close()
}

// Latency returns the requested output latency.
func (s *PortAudioStream) Latency() time.Duration {
	return s.latency
}

// DeviceName returns the name of the output device.
func (s *PortAudioStream) DeviceName() string {
	return s.device.Name
}
