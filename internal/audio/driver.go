// SPDX-License-Identifier: MIT
/*
Package audio connects the block processor to the host.

A Driver turns host buffers into processor blocks: it drains live MIDI from
the input queue, splits oversized buffers into blocks the processor accepts
and meters the output. PortAudioStream and OtoStream are the two output
backends built on it; Renderer drives the processor offline into a WAV file.

Performance Critical:
  - Driver.Process runs on the backend's audio thread
  - Uses pre-allocated buffers only
  - No allocations, locks or logging in the callback
*/
package audio

import (
	"instrument/internal/config"
	"instrument/internal/engine"
	"instrument/internal/events"
)

// Driver adapts host buffers to Processor.ProcessBlock.
type Driver struct {
	proc     *engine.Processor
	queue    *events.Queue
	ev       *events.Buffer
	block    engine.Block
	maxBlock int
	meter    *Meter
}

// NewDriver creates a driver feeding proc in blocks of at most maxBlock
// frames. queue may be nil when there is no live MIDI input.
func NewDriver(proc *engine.Processor, queue *events.Queue, maxBlock, eventCapacity int) *Driver {
	if maxBlock <= 0 {
		maxBlock = config.MaxBlockSize
	}
	return &Driver{
		proc:     proc,
		queue:    queue,
		ev:       events.NewBuffer(eventCapacity),
		maxBlock: maxBlock,
		meter:    NewMeter(),
	}
}

// Process renders len(left) frames into left and right. Queued MIDI events
// are applied at the start of the first block. Audio thread only.
func (d *Driver) Process(left, right []float32) {
	n := min(len(left), len(right))

	d.ev.Clear()
	if d.queue != nil {
		d.queue.DrainInto(d.ev)
	}

	for start := 0; start < n; {
		size := min(n-start, d.maxBlock)
		d.block.Left = left[start : start+size]
		d.block.Right = right[start : start+size]
		d.block.NumSamples = size
		d.proc.ProcessBlock(&d.block, d.ev)

		d.ev.Clear()
		start += size
	}
	d.meter.Update(left[:n], right[:n])
}

// Meter returns the output level meter.
func (d *Driver) Meter() *Meter {
	return d.meter
}

// Processor returns the driven processor.
func (d *Driver) Processor() *engine.Processor {
	return d.proc
}
