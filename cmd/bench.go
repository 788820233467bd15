// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"

	"instrument/internal/config"
	"instrument/internal/engine"
	"instrument/internal/events"
	"instrument/internal/monitor"
	"instrument/internal/sampler"
	"instrument/pkg/utils"
)

type benchOptions struct {
	blocks    int
	noteEvery int
	synthetic bool
}

func newBenchCmd(flags *flagOverrides) *cobra.Command {
	var opts benchOptions
	c := &cobra.Command{
		Use:   "bench",
		Short: "Run the block processor as fast as possible and report timings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runBench(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}
	f := c.Flags()
	f.IntVarP(&opts.blocks, "blocks", "n", 10000, "Number of blocks to process")
	f.IntVar(&opts.noteEvery, "note-every", 8, "Blocks between note events")
	f.BoolVar(&opts.synthetic, "synthetic", false, "Use a synthetic engine instead of loading samples")
	return c
}

func runBench(ctx context.Context, cfg *config.Config, opts benchOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.blocks <= 0 {
		return fmt.Errorf("blocks %d must be positive", opts.blocks)
	}
	if opts.noteEvery <= 0 {
		opts.noteEvery = 1
	}

	in, err := newInstrument(cfg, sampler.NewBuilder(cfg.Instrument.MaxVoices))
	if err != nil {
		return err
	}
	defer in.Close()

	if opts.synthetic {
		in.proc.Slot().Publish(utils.NewFakeEngine(cfg.Instrument.MaxVoices, cfg.Audio.BlockSize))
	} else if err := in.coord.LoadAndWait(ctx, cfg.Instrument.SampleDir); err != nil {
		return err
	}

	block := engine.NewBlock(cfg.Audio.BlockSize)
	ev := events.NewBuffer(cfg.MIDI.EventCapacity)
	in.proc.ResetStats()

	start := time.Now()
	var note uint8 = 36
	for i := range opts.blocks {
		if i%opts.noteEvery == 0 {
			if i%(opts.noteEvery*2) == 0 {
				ev.Add(0, midi.NoteOn(0, note, 96))
			} else {
				ev.Add(block.NumSamples/2, midi.NoteOff(0, note))
				note = 36 + (note-36+7)%48
			}
		}
		in.proc.ProcessBlock(block, ev)
		ev.Clear()

		if i%1024 == 0 && ctx.Err() != nil {
			break
		}
	}
	elapsed := time.Since(start)

	stats := in.proc.GetStats()
	m := in.proc.Metrics()
	audioTime := time.Duration(float64(stats.Samples) / cfg.Audio.SampleRate * float64(time.Second))

	fmt.Fprintf(w, "Processed %d blocks of %d frames in %s (%.1fx real time)\n",
		stats.Blocks, cfg.Audio.BlockSize, elapsed.Round(time.Millisecond),
		audioTime.Seconds()/elapsed.Seconds())
	fmt.Fprintf(w, "Block time: mean %.4f ms  last %d avg %.4f ms  min %.4f ms  max %.4f ms  jitter %.4f ms  budget %.4f ms\n",
		m.MeanMs, monitor.HistorySize, m.AverageMs, m.MinMs, m.MaxMs, m.JitterMs, m.AvailableMs)
	fmt.Fprintf(w, "CPU: %.1f%%  peak %.1f%%  dropouts %d\n", m.CPU*100, m.PeakCPU*100, m.Dropouts)
	fmt.Fprintf(w, "Events: %d on  %d off  errors %d\n", stats.NotesOn, stats.NotesOff, stats.Errors())
	return nil
}
