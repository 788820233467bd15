// SPDX-License-Identifier: MIT
/*
Package params carries control-surface values into the voice engine.

A Bridge resolves every cell it needs once, at registration time. On the
audio callback it reads each cell atomically, converts it to the 0-127 byte
domain and calls the engine setter only when the byte differs from the one
applied last time. Conversion and comparison are integer work on a fixed
array; nothing allocates.
*/
package params

import (
	"errors"
	"fmt"
	"math"

	"instrument/internal/voice"
)

var (
	// ErrMissingCell is wrapped by Register when a surface lacks a cell.
	ErrMissingCell = errors.New("parameter cell missing")

	// ErrEngineNotReady is returned by UpdateEngine when the engine exists
	// but cannot yet accept values.
	ErrEngineNotReady = errors.New("voice engine not ready")

	// ErrNotRegistered is returned by UpdateEngine before a successful Register.
	ErrNotRegistered = errors.New("parameter bridge not registered")
)

type conversion uint8

const (
	linear conversion = iota
	panOffset
)

type binding struct {
	name  string
	conv  conversion
	apply func(e voice.Engine, v uint8)
}

// bindings is the fixed list of cells the bridge drives, in update order.
var bindings = [...]binding{
	{MasterGain, linear, voice.Engine.SetGain},
	{MasterPan, panOffset, voice.Engine.SetPan},
	{Attack, linear, voice.Engine.SetAttack},
	{Release, linear, voice.Engine.SetRelease},
	{SustainLevel, linear, voice.Engine.SetSustain},
	{LFOPanSpeed, linear, voice.Engine.SetLFOPanSpeed},
	{LFOPanDepth, linear, voice.Engine.SetLFOPanDepth},
}

const numBindings = len(bindings)

// unset marks a cache slot that has never been applied.
const unset = -1

// Bridge pushes control values into a voice engine.
type Bridge struct {
	cells      [numBindings]*Cell
	last       [numBindings]int16
	registered bool
}

// NewBridge returns an unregistered bridge.
func NewBridge() *Bridge {
	b := &Bridge{}
	b.Invalidate()
	return b
}

// Register resolves and caches a handle for every cell. If any cell is
// missing it returns an error wrapping ErrMissingCell and the bridge stays
// unregistered.
func (b *Bridge) Register(s ControlSurface) error {
	b.registered = false
	if s == nil {
		return fmt.Errorf("control surface is nil: %w", ErrMissingCell)
	}

	var cells [numBindings]*Cell
	for i, bind := range bindings {
		c := s.Cell(bind.name)
		if c == nil {
			return fmt.Errorf("%q: %w", bind.name, ErrMissingCell)
		}
		cells[i] = c
	}

	b.cells = cells
	b.Invalidate()
	b.registered = true
	return nil
}

// Registered reports whether Register succeeded.
func (b *Bridge) Registered() bool {
	return b.registered
}

// Invalidate forgets every cached value so the next update pushes all of
// them. Call it after the engine instance changes. Not safe to call
// concurrently with UpdateEngine.
func (b *Bridge) Invalidate() {
	for i := range b.last {
		b.last[i] = unset
	}
}

// UpdateEngine pushes changed values into e and returns the number of setter
// calls made. A nil engine is a silent no-op. Real-time safe.
func (b *Bridge) UpdateEngine(e voice.Engine) (int, error) {
	if e == nil {
		return 0, nil
	}
	if !b.registered {
		return 0, ErrNotRegistered
	}
	if !e.Ready() {
		return 0, ErrEngineNotReady
	}

	applied := 0
	for i := range bindings {
		c := b.cells[i]
		lo, hi := c.Range()

		var v uint8
		switch bindings[i].conv {
		case panOffset:
			v = PanToByte(c.Load())
		default:
			v = ToByte(c.Load(), lo, hi)
		}

		if int16(v) == b.last[i] {
			continue
		}
		bindings[i].apply(e, v)
		b.last[i] = int16(v)
		applied++
	}
	return applied, nil
}

// ToByte maps v from [min, max] onto [0, 127], rounding to nearest.
// min maps to 0, max to 127. A degenerate range maps everything to 0.
func ToByte(v, min, max float32) uint8 {
	if !(max > min) || v != v {
		return 0
	}
	v = clamp(v, min, max)
	norm := float64(v-min) / float64(max-min)
	scaled := math.Round(norm * 127)
	return uint8(clampFloat(scaled, 0, 127))
}

// PanToByte converts a pan position in [-64, 63] to bytes with center 64.
func PanToByte(v float32) uint8 {
	if v != v {
		return 64
	}
	r := math.Round(float64(clamp(v, -64, 63))) + 64
	return uint8(clampFloat(r, 0, 127))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
