// SPDX-License-Identifier: MIT
/*
Package engine runs one audio block at a time for the instrument.

ProcessBlock is called from the host's audio callback. Per block it:

 1. checks that processing is enabled and the block is usable,
 2. clears the output,
 3. dispatches the block's MIDI events to the voice engine,
 4. pushes changed control values into the voice engine,
 5. renders the voices and mixes them into the output,
 6. records the elapsed time with the performance monitor.

It never allocates, locks, logs or blocks. Problems on that path are counted
in Stats and the block continues with whatever output it has; a panic from
the voice engine is recovered and leaves the block silent.

Configuration is published as one immutable value. Prepare stores it last and
Release removes it first, so the audio callback sees either a complete
configuration or none.

Thread Safety:
  - ProcessBlock: audio callback only, one call at a time
  - Prepare, Release: control thread
  - GetStats, ResetStats, Metrics, LastError: any goroutine
*/
package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"instrument/internal/config"
	"instrument/internal/events"
	applog "instrument/internal/log"
	"instrument/internal/mixer"
	"instrument/internal/monitor"
	"instrument/internal/params"
	"instrument/internal/voice"
)

const (
	ccAllSoundOff = 120
	ccAllNotesOff = 123
)

// Block is one host buffer. Left and Right must hold at least NumSamples
// frames.
type Block struct {
	Left, Right []float32
	NumSamples  int
}

// NewBlock allocates a block of size frames.
func NewBlock(size int) *Block {
	return &Block{
		Left:       make([]float32, size),
		Right:      make([]float32, size),
		NumSamples: size,
	}
}

func (b *Block) usable(maxBlock int) bool {
	return b.NumSamples > 0 &&
		b.NumSamples <= maxBlock &&
		len(b.Left) >= b.NumSamples &&
		len(b.Right) >= b.NumSamples
}

func (b *Block) silence() {
	clear(b.Left)
	clear(b.Right)
}

// publishedConfig is swapped as a whole; nil means disabled.
type publishedConfig struct {
	sampleRate   float64
	maxBlockSize int
}

// Options tunes a Processor.
type Options struct {
	Mixer           mixer.Settings
	StressThreshold float64
}

// DefaultOptions returns the standard mixer and monitor tuning.
func DefaultOptions() Options {
	return Options{
		Mixer:           mixer.DefaultSettings(),
		StressThreshold: monitor.DefaultStressThreshold,
	}
}

// Processor is the real-time block processor. It owns its parameter bridge,
// mixer and monitor, and reads the voice engine from a Slot it does not own.
type Processor struct {
	cfg      atomic.Pointer[publishedConfig]
	inFlight atomic.Int32

	slot    *Slot
	bridge  *params.Bridge
	mixer   *mixer.Mixer
	monitor *monitor.Monitor

	// Audio callback only.
	lastGen uint64

	stats counters

	errMu   sync.Mutex
	lastErr error
}

// NewProcessor creates a disabled processor reading engines from slot and
// control values from surface. Every control cell must be present.
func NewProcessor(slot *Slot, surface params.ControlSurface, opts Options) (*Processor, error) {
	if surface == nil {
		return nil, ErrNoSurface
	}
	bridge := params.NewBridge()
	if err := bridge.Register(surface); err != nil {
		return nil, fmt.Errorf("register control surface: %w", err)
	}
	return &Processor{
		slot:    slot,
		bridge:  bridge,
		mixer:   mixer.New(opts.Mixer),
		monitor: monitor.New(opts.StressThreshold),
	}, nil
}

// Prepare validates the host configuration and enables processing. On error
// the processor stays disabled and the error is also kept for LastError.
func (p *Processor) Prepare(sampleRate float64, maxBlockSize int) error {
	p.disable()

	var err error
	switch {
	case !config.IsSupportedSampleRate(sampleRate):
		err = fmt.Errorf("%w: %.0f Hz", ErrInvalidSampleRate, sampleRate)
	case maxBlockSize <= 0 || maxBlockSize > config.MaxBlockSize:
		err = fmt.Errorf("%w: %d (limit %d)", ErrInvalidBlockSize, maxBlockSize, config.MaxBlockSize)
	}
	p.setLastError(err)
	if err != nil {
		applog.Errorf("Processor: Prepare failed: %v", err)
		return err
	}

	// The audio callback cannot be in the enabled path here, so the
	// RT-owned state may be reset directly.
	p.monitor.Prepare(sampleRate)
	p.bridge.Invalidate()
	p.lastGen = 0
	p.slot.Resume()

	p.cfg.Store(&publishedConfig{sampleRate: sampleRate, maxBlockSize: maxBlockSize})
	applog.Infof("Processor: Prepared at %.0f Hz, max block %d", sampleRate, maxBlockSize)
	return nil
}

// Release disables processing, waits for an in-flight block to finish and
// stops every voice. Safe to call when not prepared.
func (p *Processor) Release() {
	if !p.disable() {
		return
	}
	if e := p.slot.Current().Engine(); e != nil {
		e.StopAllVoices()
	}
	p.slot.Quiesce()

	s := p.GetStats()
	m := p.monitor.Metrics()
	applog.Infof("Processor: Released after %d blocks (avg %.3f ms, max %.3f ms, peak cpu %.1f%%, %d dropouts, %d errors)",
		s.Blocks, m.MeanMs, m.MaxMs, m.PeakCPU*100, m.Dropouts, s.Errors())
}

// disable clears the published configuration and waits until no block is
// running. It reports whether the processor was enabled.
func (p *Processor) disable() bool {
	was := p.cfg.Swap(nil) != nil
	for p.inFlight.Load() > 0 {
		runtime.Gosched()
	}
	return was
}

// Enabled reports whether Prepare has succeeded and Release has not been
// called since.
func (p *Processor) Enabled() bool {
	return p.cfg.Load() != nil
}

// SampleRate returns the prepared sample rate, or 0 when disabled.
func (p *Processor) SampleRate() float64 {
	if c := p.cfg.Load(); c != nil {
		return c.sampleRate
	}
	return 0
}

// MaxBlockSize returns the prepared block limit, or 0 when disabled.
func (p *Processor) MaxBlockSize() int {
	if c := p.cfg.Load(); c != nil {
		return c.maxBlockSize
	}
	return 0
}

// ProcessBlock renders one block into b, applying the MIDI events in ev
// first. ev may be nil. Audio callback only.
func (p *Processor) ProcessBlock(b *Block, ev *events.Buffer) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	cfg := p.cfg.Load()
	if cfg == nil || b == nil || !b.usable(cfg.maxBlockSize) {
		if b != nil {
			b.silence()
		}
		p.stats.skippedBlocks.Add(1)
		return
	}

	b.silence()
	n := b.NumSamples
	p.monitor.StartMeasurement()

	h := p.slot.Acquire()
	e := h.Engine()
	if h != nil && h.gen != p.lastGen {
		// A different engine knows none of the cached values.
		p.bridge.Invalidate()
		if p.lastGen != 0 {
			p.stats.engineSwaps.Add(1)
		}
		p.lastGen = h.gen
	}

	if !p.run(e, b, ev, n) {
		b.silence()
	}

	p.slot.Release(h)
	p.monitor.EndMeasurement(n)
	p.stats.blocks.Add(1)
	p.stats.samples.Add(uint64(n))
}

// run performs the engine-facing steps of a block. It returns false when the
// engine panicked.
func (p *Processor) run(e voice.Engine, b *Block, ev *events.Buffer, n int) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.renderErrors.Add(1)
			ok = false
		}
	}()

	p.dispatch(e, ev, n)

	applied, err := p.bridge.UpdateEngine(e)
	if err != nil {
		p.stats.paramErrors.Add(1)
	}
	p.stats.paramUpdates.Add(uint64(applied))

	if e == nil || !e.Ready() {
		p.stats.silentBlocks.Add(1)
		return true
	}
	if !p.mixer.Mix(e.Render(n), b.Left, b.Right, n) {
		p.stats.silentBlocks.Add(1)
	}
	return true
}

func (p *Processor) dispatch(e voice.Engine, ev *events.Buffer, n int) {
	count := ev.Len()
	if count == 0 {
		return
	}
	p.stats.midiEvents.Add(uint64(count))

	for i := 0; i < count; i++ {
		evt := ev.At(i)
		if evt.Offset < 0 || evt.Offset >= n {
			p.stats.malformedEvents.Add(1)
			continue
		}

		kind, a, v := evt.Decode()
		switch kind {
		case events.Malformed:
			p.stats.malformedEvents.Add(1)
			continue
		case events.Other:
			p.stats.ignoredEvents.Add(1)
			continue
		}
		if e == nil {
			p.stats.unroutedEvents.Add(1)
			continue
		}

		switch kind {
		case events.NoteOn:
			e.NoteOn(a, v)
			p.stats.notesOn.Add(1)
		case events.NoteOff:
			e.NoteOff(a)
			p.stats.notesOff.Add(1)
		case events.ControlChange:
			p.stats.controlChanges.Add(1)
			if a == ccAllSoundOff || a == ccAllNotesOff {
				e.StopAllVoices()
			} else if cc, ok := e.(voice.ControlChanger); ok {
				cc.ControlChange(a, v)
			}
		}
	}
}

// GetStats returns the processing counters with the monitor's timing
// summary.
func (p *Processor) GetStats() Stats {
	s := p.stats.snapshot()
	m := p.monitor.Metrics()
	s.MinMs = m.MinMs
	s.AvgMs = m.MeanMs
	s.MaxMs = m.MaxMs
	s.CPU = m.CPU
	return s
}

// ResetStats zeroes the counters and the monitor. Counters are reset one by
// one; a block running concurrently may land on either side of the reset.
func (p *Processor) ResetStats() {
	p.stats.reset()
	p.monitor.Reset()
}

// Metrics returns the performance monitor snapshot.
func (p *Processor) Metrics() monitor.Metrics {
	return p.monitor.Metrics()
}

// Mixer exposes the mixer's monitoring fields.
func (p *Processor) Mixer() *mixer.Mixer {
	return p.mixer
}

// Slot returns the engine slot the processor reads from.
func (p *Processor) Slot() *Slot {
	return p.slot
}

// LastError returns the error of the last Prepare, or nil if it succeeded.
func (p *Processor) LastError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

func (p *Processor) setLastError(err error) {
	p.errMu.Lock()
	p.lastErr = err
	p.errMu.Unlock()
}
