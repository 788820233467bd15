// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	applog "instrument/internal/log"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug      bool             `yaml:"debug"`     // Enable debug mode (verbose logging).
	LogLevel   string           `yaml:"log_level"` // Logging level (e.g., "debug", "info", "warn", "error").
	Audio      AudioConfig      `yaml:"audio"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Mixer      MixerConfig      `yaml:"mixer"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	MIDI       MIDIConfig       `yaml:"midi"`
	Transport  TransportConfig  `yaml:"transport"`
}

// AudioConfig holds settings related to the host audio stream.
type AudioConfig struct {
	Backend      string  `yaml:"backend"`       // "portaudio" or "oto".
	OutputDevice int     `yaml:"output_device"` // PortAudio device index (-1 for default).
	SampleRate   float64 `yaml:"sample_rate"`   // One of 44100, 48000, 88200, 96000.
	BlockSize    int     `yaml:"block_size"`    // Frames per audio callback.
	LowLatency   bool    `yaml:"low_latency"`   // Request low latency settings from the device.
}

// InstrumentConfig selects the sample set and voice pool.
type InstrumentConfig struct {
	SampleDir string `yaml:"sample_dir"`
	MaxVoices int    `yaml:"max_voices"`
}

// MixerConfig tunes the adaptive gain and saturation stage.
type MixerConfig struct {
	LowEnergyThreshold  float64 `yaml:"low_energy_threshold"`
	Strength            float64 `yaml:"strength"`
	SaturationThreshold float64 `yaml:"saturation_threshold"`
}

// MonitorConfig tunes the performance monitor.
type MonitorConfig struct {
	StressThreshold float64 `yaml:"stress_threshold"` // Fraction of the block budget.
}

// MIDIConfig holds live MIDI input settings.
type MIDIConfig struct {
	Port          string `yaml:"port"`           // Input port name substring; empty disables live input.
	QueueCapacity int    `yaml:"queue_capacity"` // Events buffered between the MIDI listener and the audio callback.
	EventCapacity int    `yaml:"event_capacity"` // Events accepted per block.
}

// TransportConfig holds settings related to publishing engine reports.
type TransportConfig struct {
	ReportInterval   time.Duration `yaml:"report_interval"`
	WSEnabled        bool          `yaml:"ws_enabled"`
	WSAddress        string        `yaml:"ws_address"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090".
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Debug:    false,
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			Backend:      DefaultBackend,
			OutputDevice: DefaultDeviceID,
			SampleRate:   DefaultSampleRate,
			BlockSize:    DefaultBlockSize,
		},
		Instrument: InstrumentConfig{
			SampleDir: DefaultSampleDir,
			MaxVoices: DefaultMaxVoices,
		},
		Mixer: MixerConfig{
			LowEnergyThreshold:  DefaultLowEnergyThreshold,
			Strength:            DefaultMixerStrength,
			SaturationThreshold: DefaultSaturationThreshold,
		},
		Monitor: MonitorConfig{
			StressThreshold: DefaultStressThreshold,
		},
		MIDI: MIDIConfig{
			QueueCapacity: DefaultQueueCapacity,
			EventCapacity: DefaultEventCapacity,
		},
		Transport: TransportConfig{
			ReportInterval:   DefaultReportInterval,
			WSAddress:        DefaultWSAddress,
			UDPTargetAddress: DefaultUDPAddress,
			UDPSendInterval:  DefaultUDPSendInterval,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is
// empty, it looks for "config.yaml" in the working directory and falls back to
// built-in defaults when there is none. Environment overrides are applied after
// loading and the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if !IsSupportedSampleRate(c.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f is not one of %v", c.Audio.SampleRate, SupportedSampleRates))
	}
	if c.Audio.BlockSize <= 0 || c.Audio.BlockSize > MaxBlockSize {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be in (0, %d]", c.Audio.BlockSize, MaxBlockSize))
	}
	switch strings.ToLower(c.Audio.Backend) {
	case BackendPortAudio, BackendOto:
	default:
		errs = append(errs, fmt.Errorf("audio.backend %q must be %q or %q", c.Audio.Backend, BackendPortAudio, BackendOto))
	}

	if c.Instrument.MaxVoices <= 0 || c.Instrument.MaxVoices > MaxVoices {
		errs = append(errs, fmt.Errorf("instrument.max_voices %d must be in (0, %d]", c.Instrument.MaxVoices, MaxVoices))
	}

	if c.Mixer.LowEnergyThreshold <= 0 {
		errs = append(errs, errors.New("mixer.low_energy_threshold must be positive"))
	}
	if c.Mixer.Strength < 0 || c.Mixer.Strength > 1 {
		errs = append(errs, fmt.Errorf("mixer.strength %v must be in [0, 1]", c.Mixer.Strength))
	}
	if c.Mixer.SaturationThreshold <= 0 {
		errs = append(errs, errors.New("mixer.saturation_threshold must be positive"))
	}
	if c.Monitor.StressThreshold <= 0 {
		errs = append(errs, errors.New("monitor.stress_threshold must be positive"))
	}

	if c.MIDI.QueueCapacity <= 0 || c.MIDI.EventCapacity <= 0 {
		errs = append(errs, errors.New("midi.queue_capacity and midi.event_capacity must be positive"))
	}

	if c.Transport.WSEnabled && c.Transport.WSAddress == "" {
		errs = append(errs, errors.New("transport.ws_address must be set when the WebSocket transport is enabled"))
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			errs = append(errs, errors.New("transport.udp_target_address must be set when UDP is enabled"))
		} else if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			errs = append(errs, fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress))
		}
		if c.Transport.UDPSendInterval <= 0 {
			errs = append(errs, errors.New("transport.udp_send_interval must be positive when UDP is enabled"))
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides replaces fields from ENV_* variables. Unparseable values
// are ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
			applog.Debugf("configuration: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Debugf("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_SAMPLE_{...}
	// These select the instrument and the host rate.

	// ENV_SAMPLE_DIR
	if val, ok := os.LookupEnv("ENV_SAMPLE_DIR"); ok {
		c.Instrument.SampleDir = val
		applog.Debugf("configuration: Overriding instrument.sample_dir from env: %s", val)
	}
	// ENV_SAMPLE_RATE
	if val, ok := os.LookupEnv("ENV_SAMPLE_RATE"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			c.Audio.SampleRate = fVal
			applog.Debugf("configuration: Overriding audio.sample_rate from env: %.0f", fVal)
		}
	}

	// ENV_WS_{...}

	// ENV_WS_ENABLED
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.WSEnabled = bVal
			applog.Debugf("configuration: Overriding transport.ws_enabled from env: %v", bVal)
		}
	}
	// ENV_WS_ADDRESS
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		c.Transport.WSAddress = val
		applog.Debugf("configuration: Overriding transport.ws_address from env: %s", val)
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
			applog.Debugf("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		applog.Debugf("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			applog.Debugf("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
