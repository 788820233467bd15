// SPDX-License-Identifier: MIT
package engine

import "sync/atomic"

// Stats is a snapshot of processing counters plus the timing summary from the
// performance monitor. Fields are read independently, so a snapshot taken
// while blocks are running may be off by one block between fields.
type Stats struct {
	Blocks          uint64 `json:"blocks"`
	Samples         uint64 `json:"samples"`
	SkippedBlocks   uint64 `json:"skipped_blocks"`
	SilentBlocks    uint64 `json:"silent_blocks"`
	MIDIEvents      uint64 `json:"midi_events"`
	NotesOn         uint64 `json:"notes_on"`
	NotesOff        uint64 `json:"notes_off"`
	ControlChanges  uint64 `json:"control_changes"`
	IgnoredEvents   uint64 `json:"ignored_events"`
	MalformedEvents uint64 `json:"malformed_events"`
	UnroutedEvents  uint64 `json:"unrouted_events"`
	ParamUpdates    uint64 `json:"param_updates"`
	ParamErrors     uint64 `json:"param_errors"`
	RenderErrors    uint64 `json:"render_errors"`
	EngineSwaps     uint64 `json:"engine_swaps"`

	MinMs float64 `json:"min_ms"`
	AvgMs float64 `json:"avg_ms"` // running mean since reset
	MaxMs float64 `json:"max_ms"`
	CPU   float64 `json:"cpu"`
}

// Errors returns the sum of the soft error counters.
func (s Stats) Errors() uint64 {
	return s.MalformedEvents + s.ParamErrors + s.RenderErrors
}

type counters struct {
	blocks          atomic.Uint64
	samples         atomic.Uint64
	skippedBlocks   atomic.Uint64
	silentBlocks    atomic.Uint64
	midiEvents      atomic.Uint64
	notesOn         atomic.Uint64
	notesOff        atomic.Uint64
	controlChanges  atomic.Uint64
	ignoredEvents   atomic.Uint64
	malformedEvents atomic.Uint64
	unroutedEvents  atomic.Uint64
	paramUpdates    atomic.Uint64
	paramErrors     atomic.Uint64
	renderErrors    atomic.Uint64
	engineSwaps     atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Blocks:          c.blocks.Load(),
		Samples:         c.samples.Load(),
		SkippedBlocks:   c.skippedBlocks.Load(),
		SilentBlocks:    c.silentBlocks.Load(),
		MIDIEvents:      c.midiEvents.Load(),
		NotesOn:         c.notesOn.Load(),
		NotesOff:        c.notesOff.Load(),
		ControlChanges:  c.controlChanges.Load(),
		IgnoredEvents:   c.ignoredEvents.Load(),
		MalformedEvents: c.malformedEvents.Load(),
		UnroutedEvents:  c.unroutedEvents.Load(),
		ParamUpdates:    c.paramUpdates.Load(),
		ParamErrors:     c.paramErrors.Load(),
		RenderErrors:    c.renderErrors.Load(),
		EngineSwaps:     c.engineSwaps.Load(),
	}
}

func (c *counters) reset() {
	for _, v := range []*atomic.Uint64{
		&c.blocks, &c.samples, &c.skippedBlocks, &c.silentBlocks,
		&c.midiEvents, &c.notesOn, &c.notesOff, &c.controlChanges,
		&c.ignoredEvents, &c.malformedEvents, &c.unroutedEvents,
		&c.paramUpdates, &c.paramErrors, &c.renderErrors, &c.engineSwaps,
	} {
		v.Store(0)
	}
}
