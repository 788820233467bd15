// SPDX-License-Identifier: MIT
/*
Package voice defines the contract between the real-time core and the voice
engine that renders individual notes.

The core never allocates voices or decodes samples itself. It asks an Engine
to render one block, borrows the per-voice buffers the engine hands back and
mixes them. Everything in this package that is called from the audio callback
must be real-time safe on the implementation side: no allocation, no locks,
no logging.
*/
package voice

// Contribution is one voice's output for a single render call. The slices are
// owned by the engine and are only valid until the next Render call.
//
// If Active is true, Left, Right and Energy hold at least numSamples values.
type Contribution struct {
	Left   []float32
	Right  []float32
	Energy []float32 // envelope gain x velocity gain, per sample
	Active bool
}

// Valid reports whether an active contribution can be read for n samples.
// Inactive contributions are always valid and are simply skipped.
func (c *Contribution) Valid(n int) bool {
	if !c.Active {
		return true
	}
	return len(c.Left) >= n && len(c.Right) >= n && len(c.Energy) >= n
}

// Engine is the voice engine consumed by the processor. Byte-domain setters
// take values in [0,127].
type Engine interface {
	// Render produces numSamples of every voice. The returned slice is owned by
	// the engine.
	Render(numSamples int) []Contribution

	NoteOn(pitch, velocity uint8)
	NoteOff(pitch uint8)

	SetGain(v uint8)
	SetPan(v uint8)
	SetAttack(v uint8)
	SetRelease(v uint8)
	SetSustain(v uint8)
	SetLFOPanSpeed(v uint8)
	SetLFOPanDepth(v uint8)

	StopAllVoices()
	Ready() bool
}

// ControlChanger is implemented by engines that want raw MIDI control
// changes forwarded to them.
type ControlChanger interface {
	ControlChange(controller, value uint8)
}
