// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"

	"instrument/internal/analysis"
	"instrument/internal/audio"
	"instrument/internal/config"
	applog "instrument/internal/log"
	"instrument/internal/sampler"
)

const analysisSize = 4096

type renderOptions struct {
	output   string
	notes    string
	velocity uint8
	hold     time.Duration
	arpeggio time.Duration
	duration time.Duration
	jsonOut  bool
}

func newRenderCmd(flags *flagOverrides) *cobra.Command {
	var opts renderOptions
	c := &cobra.Command{
		Use:   "render",
		Short: "Render a chord or arpeggio offline to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runRender(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}
	f := c.Flags()
	f.StringVarP(&opts.output, "output", "o", "render.wav", "Output WAV file")
	f.StringVar(&opts.notes, "notes", "60,64,67", "Comma separated MIDI note numbers")
	f.Uint8Var(&opts.velocity, "velocity", 100, "Note velocity (1-127)")
	f.DurationVar(&opts.hold, "hold", 1500*time.Millisecond, "How long each note is held")
	f.DurationVar(&opts.arpeggio, "arpeggio", 0, "Delay between successive note starts")
	f.DurationVar(&opts.duration, "duration", 3*time.Second, "Total render length")
	f.BoolVar(&opts.jsonOut, "json", false, "Print the summary as JSON")
	return c
}

// parseNotes parses "60,64,67" into MIDI note numbers.
func parseNotes(s string) ([]uint8, error) {
	var notes []uint8
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseUint(field, 10, 8)
		if err != nil || n > 127 {
			return nil, fmt.Errorf("invalid MIDI note %q", field)
		}
		notes = append(notes, uint8(n))
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("no notes in %q", s)
	}
	return notes, nil
}

func toFrames(d time.Duration, sampleRate float64) int64 {
	return int64(d.Seconds() * sampleRate)
}

// buildSchedule starts note i at i*arpeggio and releases it hold later, on
// channel 0.
func buildSchedule(notes []uint8, velocity uint8, hold, arpeggio time.Duration, sampleRate float64) []audio.Scheduled {
	sched := make([]audio.Scheduled, 0, len(notes)*2)
	for i, n := range notes {
		on := toFrames(time.Duration(i)*arpeggio, sampleRate)
		sched = append(sched,
			audio.Scheduled{Frame: on, Msg: midi.NoteOn(0, n, velocity)},
			audio.Scheduled{Frame: on + toFrames(hold, sampleRate), Msg: midi.NoteOff(0, n)},
		)
	}
	sort.SliceStable(sched, func(a, b int) bool { return sched[a].Frame < sched[b].Frame })
	return sched
}

type renderReport struct {
	Output   string           `json:"output"`
	Frames   int64            `json:"frames"`
	PeakL    float32          `json:"peak_left"`
	PeakR    float32          `json:"peak_right"`
	Clips    uint64           `json:"clips"`
	Spectrum analysis.Summary `json:"spectrum"`
}

func runRender(ctx context.Context, cfg *config.Config, opts renderOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	notes, err := parseNotes(opts.notes)
	if err != nil {
		return err
	}
	if opts.velocity == 0 || opts.velocity > 127 {
		return fmt.Errorf("velocity %d must be in [1, 127]", opts.velocity)
	}
	rate := cfg.Audio.SampleRate
	frames := toFrames(opts.duration, rate)
	if frames <= 0 {
		return fmt.Errorf("duration %s is too short", opts.duration)
	}

	in, err := newInstrument(cfg, sampler.NewBuilder(cfg.Instrument.MaxVoices))
	if err != nil {
		return err
	}
	defer in.Close()

	if err := in.coord.LoadAndWait(ctx, cfg.Instrument.SampleDir); err != nil {
		return err
	}

	r, err := audio.NewRenderer(in.proc, cfg.MIDI.EventCapacity, true)
	if err != nil {
		return err
	}
	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	start := time.Now()
	res, err := r.Render(ctx, f, buildSchedule(notes, opts.velocity, opts.hold, opts.arpeggio, rate), frames)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	applog.Infof("Render: %d frames of %q in %s", res.Frames, in.coord.Instrument(), time.Since(start).Round(time.Millisecond))

	spectrum, err := analysis.NewSpectrum(analysisSize, rate, analysis.Hann)
	if err != nil {
		return err
	}
	report := renderReport{
		Output:   opts.output,
		Frames:   res.Frames,
		PeakL:    res.PeakL,
		PeakR:    res.PeakR,
		Clips:    res.Clips,
		Spectrum: spectrum.Summarize(res.Capture),
	}

	if opts.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printRenderReport(w, report, in.proc.GetStats().Errors())
	return nil
}

func printRenderReport(w io.Writer, r renderReport, errs uint64) {
	fmt.Fprintf(w, "Wrote %s (%d frames)\n", r.Output, r.Frames)
	fmt.Fprintf(w, "Peak: L %.3f  R %.3f  clips %d  errors %d\n", r.PeakL, r.PeakR, r.Clips, errs)
	fmt.Fprintf(w, "RMS: %.4f  dominant %.1f Hz\n", r.Spectrum.RMS, r.Spectrum.DominantFrequency)
	for _, b := range r.Spectrum.Bands {
		fmt.Fprintf(w, "  %-9s %6.0f-%-6.0f Hz  %.4f\n", b.Name, b.LowHz, b.HighHz, b.Level)
	}
}
