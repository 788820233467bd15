// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"instrument/internal/audio"
	"instrument/internal/config"
	"instrument/internal/events"
	applog "instrument/internal/log"
	"instrument/internal/sampler"
	"instrument/internal/tui"
	"instrument/pkg/build"
)

// openStream opens the configured backend. The returned cleanup closes the
// stream and releases the backend.
func openStream(cfg config.AudioConfig, d *audio.Driver) (audio.Stream, func(), error) {
	if strings.EqualFold(cfg.Backend, config.BackendOto) {
		s, err := audio.NewOtoStream(cfg, d)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}

	if err := audio.Initialize(); err != nil {
		return nil, nil, err
	}
	s, err := audio.NewPortAudioStream(cfg, d)
	if err != nil {
		audio.Terminate()
		return nil, nil, err
	}
	applog.Infof("Audio: Output on %s", s.DeviceName())
	return s, func() {
		if err := s.Close(); err != nil {
			applog.Warnf("Audio: %v", err)
		}
		audio.Terminate()
	}, nil
}

// runPlay runs the instrument live until the monitor quits or a signal
// arrives.
func runPlay(parent context.Context, cfg *config.Config, showTUI bool) error {
	if parent == nil {
		parent = context.Background()
	}

	// One thread for the audio callback, one for everything else.
	runtime.GOMAXPROCS(2)

	if showTUI {
		// The monitor owns the terminal.
		closeLog, err := redirectLog(cfg.Debug)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	in, err := newInstrument(cfg, sampler.NewBuilder(cfg.Instrument.MaxVoices))
	if err != nil {
		return err
	}
	defer in.Close()

	queue := events.NewQueue(cfg.MIDI.QueueCapacity)
	driver := audio.NewDriver(in.proc, queue, cfg.Audio.BlockSize, cfg.MIDI.EventCapacity)
	in.coord.SetLevelSource(driver.Meter())

	stream, closeStream, err := openStream(cfg.Audio, driver)
	if err != nil {
		return err
	}
	defer closeStream()

	if cfg.MIDI.Port != "" {
		stopMIDI, err := listenMIDI(cfg.MIDI.Port, queue)
		if err != nil {
			return err
		}
		defer stopMIDI()
	}

	pubs, err := startPublishers(cfg.Transport, in.coord, cfg.Debug)
	if err != nil {
		return err
	}
	defer closePublishers(pubs)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go in.coord.Run(ctx, pollInterval)
	if err := in.coord.Load(cfg.Instrument.SampleDir); err != nil {
		return err
	}

	if err := stream.Start(); err != nil {
		return err
	}
	applog.Infof("Audio: Stream running at %.0f Hz, %d frames, latency %s",
		cfg.Audio.SampleRate, cfg.Audio.BlockSize, stream.Latency())

	if showTUI {
		controls := tui.Controls{
			Surface:    in.coord.Surface(),
			ResetStats: in.proc.ResetStats,
			Reload:     func() error { return in.coord.Load(cfg.Instrument.SampleDir) },
		}
		if err := tui.RunMonitor(in.coord.Report, controls, 0); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
	} else {
		fmt.Printf("%s running, press Ctrl+C to stop.\n", build.GetBuildFlags().Name)
		<-ctx.Done()
	}

	if err := stream.Stop(); err != nil {
		applog.Warnf("Audio: %v", err)
	}
	stats := in.proc.GetStats()
	applog.Infof("Audio: Stopped after %d blocks (%d errors)", stats.Blocks, stats.Errors())
	return nil
}

// redirectLog keeps log output off the terminal while the monitor runs. Debug
// output goes to a file next to the working directory.
func redirectLog(debug bool) (func(), error) {
	if !debug {
		applog.SetOutput(io.Discard)
		return func() { applog.SetOutput(os.Stderr) }, nil
	}
	f, err := os.Create(build.GetBuildFlags().Name + ".log")
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	applog.SetOutput(f)
	return func() {
		applog.SetOutput(os.Stderr)
		f.Close()
	}, nil
}
