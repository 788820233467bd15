// SPDX-License-Identifier: MIT
/*
Package host runs the control side of the instrument.

A Coordinator owns the processor, the engine slot, the loader and the control
surface. It starts loads, swaps finished engines into the slot, closes engines
the audio callback has moved past, and builds the reports shown by the
monitor and sent by the transports. Nothing here runs on the audio thread.
*/
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"instrument/internal/engine"
	"instrument/internal/loader"
	applog "instrument/internal/log"
	"instrument/internal/monitor"
	"instrument/internal/params"
	"instrument/internal/voice"
)

// ErrNotPrepared is returned by Load before the processor is prepared.
var ErrNotPrepared = errors.New("processor is not prepared")

// LevelSource reports output peaks since the previous call.
type LevelSource interface {
	TakePeak() (left, right float32)
}

// Report is a point-in-time view of the instrument.
type Report struct {
	Time         time.Time       `json:"time"`
	Stats        engine.Stats    `json:"stats"`
	Metrics      monitor.Metrics `json:"metrics"`
	LoaderState  string          `json:"loader_state"`
	LoaderError  string          `json:"loader_error,omitempty"`
	Instrument   string          `json:"instrument,omitempty"`
	Generation   uint64          `json:"generation"`
	ActiveVoices int             `json:"active_voices"`
	PeakLeft     float32         `json:"peak_left"`
	PeakRight    float32         `json:"peak_right"`
}

// Coordinator drives loading and hot swapping for one processor.
type Coordinator struct {
	proc    *engine.Processor
	slot    *engine.Slot
	loader  *loader.Loader
	surface *params.Surface

	mu         sync.Mutex
	instrument string
	loggedErr  string
	levels     LevelSource
}

// New creates a coordinator. The processor must have been created on the
// slot it publishes to.
func New(proc *engine.Processor, l *loader.Loader, surface *params.Surface) *Coordinator {
	return &Coordinator{
		proc:    proc,
		slot:    proc.Slot(),
		loader:  l,
		surface: surface,
	}
}

// SetLevelSource attaches the output meter included in reports.
func (c *Coordinator) SetLevelSource(src LevelSource) {
	c.mu.Lock()
	c.levels = src
	c.mu.Unlock()
}

// Load starts loading dir at the processor's prepared rate and block size.
// A load already running is interrupted.
func (c *Coordinator) Load(dir string) error {
	if !c.proc.Enabled() {
		return ErrNotPrepared
	}
	req := loader.Request{
		SampleDir:  dir,
		SampleRate: c.proc.SampleRate(),
		BlockSize:  c.proc.MaxBlockSize(),
	}

	c.mu.Lock()
	c.loggedErr = ""
	c.mu.Unlock()

	if err := c.loader.Start(req); err != nil {
		return fmt.Errorf("start load: %w", err)
	}
	return nil
}

// Poll publishes a completed load and reclaims retired engines. It reports
// whether a new engine was published.
func (c *Coordinator) Poll() bool {
	swapped := false

	switch c.loader.State() {
	case loader.Completed:
		if loaded, ok := c.loader.Take(); ok {
			gen := c.slot.Publish(loaded.Engine)
			c.mu.Lock()
			c.instrument = loaded.Instrument
			c.mu.Unlock()
			applog.Infof("Host: Instrument %q live as generation %d (loaded in %s)",
				loaded.Instrument, gen, loaded.Elapsed.Round(time.Millisecond))
			swapped = true
		}
	case loader.Error:
		msg := c.loader.ErrorMessage()
		c.mu.Lock()
		first := msg != c.loggedErr
		c.loggedErr = msg
		c.mu.Unlock()
		if first {
			applog.Errorf("Host: Load failed: %s", msg)
		}
	}

	c.reclaim(c.slot.Collect())
	return swapped
}

// LoadAndWait loads dir and blocks until the engine is live or the load fails.
func (c *Coordinator) LoadAndWait(ctx context.Context, dir string) error {
	if err := c.Load(dir); err != nil {
		return err
	}
	switch st := c.loader.Wait(ctx); st {
	case loader.Completed:
		c.Poll()
		return nil
	case loader.Error:
		msg := c.loader.ErrorMessage()
		c.Poll()
		return fmt.Errorf("load %s: %s", dir, msg)
	default:
		if err := ctx.Err(); err != nil {
			c.loader.Stop()
			return err
		}
		return fmt.Errorf("load %s ended in state %s", dir, st)
	}
}

// Run polls every interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Poll()
		}
	}
}

// Report builds a snapshot for display and transports.
func (c *Coordinator) Report() Report {
	c.mu.Lock()
	r := Report{
		Instrument: c.instrument,
	}
	levels := c.levels
	c.mu.Unlock()

	r.Time = time.Now()
	r.Stats = c.proc.GetStats()
	r.Metrics = c.proc.Metrics()
	r.LoaderState = c.loader.State().String()
	r.LoaderError = c.loader.ErrorMessage()
	r.Generation = c.slot.Current().Generation()
	r.ActiveVoices = c.proc.Mixer().ActiveVoices()
	if levels != nil {
		r.PeakLeft, r.PeakRight = levels.TakePeak()
	}
	return r
}

// Instrument returns the name of the live instrument.
func (c *Coordinator) Instrument() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instrument
}

// Surface returns the control surface read by the processor.
func (c *Coordinator) Surface() *params.Surface { return c.surface }

// Processor returns the coordinated processor.
func (c *Coordinator) Processor() *engine.Processor { return c.proc }

// Loader returns the background loader.
func (c *Coordinator) Loader() *loader.Loader { return c.loader }

// Close stops any load, releases the processor and closes every engine.
func (c *Coordinator) Close() {
	c.loader.Stop()
	c.proc.Release()
	// Release skips an unprepared processor; no block runs either way.
	c.slot.Quiesce()
	c.slot.Publish(nil)
	c.reclaim(c.slot.Collect())

	c.mu.Lock()
	c.instrument = ""
	c.mu.Unlock()
}

func (c *Coordinator) reclaim(engines []voice.Engine) {
	for _, e := range engines {
		closer, ok := e.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			applog.Warnf("Host: Closing retired engine: %v", err)
		}
	}
	if len(engines) > 0 {
		applog.Debugf("Host: Reclaimed %d retired engine(s)", len(engines))
	}
}
