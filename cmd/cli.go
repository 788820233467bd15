// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"instrument/internal/config"
	applog "instrument/internal/log"
	"instrument/pkg/build"
)

// flagOverrides are the persistent flags that take precedence over the
// configuration file and the environment.
type flagOverrides struct {
	configPath string
	backend    string
	deviceID   int
	sampleRate float64
	blockSize  int
	lowLatency bool
	sampleDir  string
	maxVoices  int
	midiPort   string
	verbose    bool
}

// Execute parses the command line and runs the selected command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	buildInfo := build.GetBuildFlags()
	var flags flagOverrides
	var noTUI bool

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			return runPlay(cmd.Context(), cfg, !noTUI)
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.Flags().BoolVar(&noTUI, "no-tui", false, "Log to the terminal instead of showing the live monitor")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to the YAML configuration file (default ./config.yaml when present)")
	pf.StringVar(&flags.backend, "backend", config.DefaultBackend, "Audio output backend: portaudio or oto")
	pf.IntVarP(&flags.deviceID, "device", "d", config.DefaultDeviceID,
		"Output device ID. Use 'list' command to see available devices.")
	pf.Float64VarP(&flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&flags.blockSize, "block-size", "b", config.DefaultBlockSize,
		"The number of frames per block (affects latency)")
	pf.BoolVarP(&flags.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
	pf.StringVar(&flags.sampleDir, "samples", config.DefaultSampleDir, "Instrument sample directory")
	pf.IntVar(&flags.maxVoices, "voices", config.DefaultMaxVoices, "Polyphony of the sampler")
	pf.StringVar(&flags.midiPort, "midi", "", "MIDI input port name (substring) or index")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.AddCommand(
		newListCmd(&flags),
		newRenderCmd(&flags),
		newBenchCmd(&flags),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies explicitly set flags.
func loadConfig(cmd *cobra.Command, flags *flagOverrides) (*config.Config, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Audio.Backend = flags.backend
	}
	if changed("device") {
		cfg.Audio.OutputDevice = flags.deviceID
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = flags.sampleRate
	}
	if changed("block-size") {
		cfg.Audio.BlockSize = flags.blockSize
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = flags.lowLatency
	}
	if changed("samples") {
		cfg.Instrument.SampleDir = flags.sampleDir
	}
	if changed("voices") {
		cfg.Instrument.MaxVoices = flags.maxVoices
	}
	if changed("midi") {
		cfg.MIDI.Port = flags.midiPort
	}
	if flags.verbose {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	applog.Configure(cfg.LogLevel, cfg.Debug)
	return cfg, nil
}
