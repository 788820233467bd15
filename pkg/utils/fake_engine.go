// SPDX-License-Identifier: MIT
package utils

import (
	"sync/atomic"

	"instrument/internal/voice"
)

// Setter indexes for FakeEngine.Param and FakeEngine.ParamCalls.
const (
	ParamGain = iota
	ParamPan
	ParamAttack
	ParamRelease
	ParamSustain
	ParamLFOSpeed
	ParamLFODepth
	numParams
)

type fakeVoice struct {
	pitch    uint8
	velocity uint8
}

// FakeEngine is a deterministic voice engine for tests. Each held note is a
// voice emitting a constant level of Level*velocity/127 on both channels with
// energy velocity/127. Render never allocates.
type FakeEngine struct {
	Level         float32
	PanicOnRender atomic.Bool

	contribs []voice.Contribution
	held     []fakeVoice

	ready atomic.Bool

	noteOns   atomic.Int64
	noteOffs  atomic.Int64
	stops     atomic.Int64
	renders   atomic.Int64
	ccs       atomic.Int64
	closed    atomic.Bool
	params    [numParams]atomic.Int32
	paramCall [numParams]atomic.Int64
}

var (
	_ voice.Engine         = (*FakeEngine)(nil)
	_ voice.ControlChanger = (*FakeEngine)(nil)
)

// NewFakeEngine creates a ready engine with the given voice count and maximum
// block size.
func NewFakeEngine(voices, blockSize int) *FakeEngine {
	e := &FakeEngine{
		Level:    0.5,
		contribs: make([]voice.Contribution, voices),
		held:     make([]fakeVoice, voices),
	}
	for i := range e.contribs {
		e.contribs[i] = voice.Contribution{
			Left:   make([]float32, blockSize),
			Right:  make([]float32, blockSize),
			Energy: make([]float32, blockSize),
		}
	}
	for i := range e.params {
		e.params[i].Store(-1)
	}
	e.ready.Store(true)
	return e
}

// SetReady toggles the readiness reported to the processor.
func (e *FakeEngine) SetReady(ready bool) { e.ready.Store(ready) }

func (e *FakeEngine) Render(numSamples int) []voice.Contribution {
	if e.PanicOnRender.Load() {
		panic("fake engine render failure")
	}
	e.renders.Add(1)
	for i := range e.contribs {
		c := &e.contribs[i]
		if !c.Active {
			continue
		}
		vel := float32(e.held[i].velocity) / 127
		n := min(numSamples, len(c.Left))
		for s := 0; s < n; s++ {
			c.Left[s] = e.Level * vel
			c.Right[s] = e.Level * vel
			c.Energy[s] = vel
		}
	}
	return e.contribs
}

func (e *FakeEngine) NoteOn(pitch, velocity uint8) {
	e.noteOns.Add(1)
	for i := range e.contribs {
		if !e.contribs[i].Active {
			e.contribs[i].Active = true
			e.held[i] = fakeVoice{pitch: pitch, velocity: velocity}
			return
		}
	}
}

func (e *FakeEngine) NoteOff(pitch uint8) {
	e.noteOffs.Add(1)
	for i := range e.contribs {
		if e.contribs[i].Active && e.held[i].pitch == pitch {
			e.contribs[i].Active = false
		}
	}
}

func (e *FakeEngine) ControlChange(controller, value uint8) { e.ccs.Add(1) }

func (e *FakeEngine) SetGain(v uint8)        { e.set(ParamGain, v) }
func (e *FakeEngine) SetPan(v uint8)         { e.set(ParamPan, v) }
func (e *FakeEngine) SetAttack(v uint8)      { e.set(ParamAttack, v) }
func (e *FakeEngine) SetRelease(v uint8)     { e.set(ParamRelease, v) }
func (e *FakeEngine) SetSustain(v uint8)     { e.set(ParamSustain, v) }
func (e *FakeEngine) SetLFOPanSpeed(v uint8) { e.set(ParamLFOSpeed, v) }
func (e *FakeEngine) SetLFOPanDepth(v uint8) { e.set(ParamLFODepth, v) }

func (e *FakeEngine) set(p int, v uint8) {
	e.params[p].Store(int32(v))
	e.paramCall[p].Add(1)
}

func (e *FakeEngine) StopAllVoices() {
	e.stops.Add(1)
	for i := range e.contribs {
		e.contribs[i].Active = false
	}
}

func (e *FakeEngine) Ready() bool { return e.ready.Load() }

// Close records that the engine was disposed.
func (e *FakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (e *FakeEngine) Closed() bool { return e.closed.Load() }

// ActiveVoices returns the number of held notes.
func (e *FakeEngine) ActiveVoices() int {
	n := 0
	for i := range e.contribs {
		if e.contribs[i].Active {
			n++
		}
	}
	return n
}

// Param returns the last value given to a setter, or -1 if never called.
func (e *FakeEngine) Param(p int) int { return int(e.params[p].Load()) }

// ParamCalls returns how many times a setter was called.
func (e *FakeEngine) ParamCalls(p int) int64 { return e.paramCall[p].Load() }

// TotalParamCalls sums the calls of every setter.
func (e *FakeEngine) TotalParamCalls() int64 {
	var n int64
	for i := range e.paramCall {
		n += e.paramCall[i].Load()
	}
	return n
}

func (e *FakeEngine) NoteOns() int64        { return e.noteOns.Load() }
func (e *FakeEngine) NoteOffs() int64       { return e.noteOffs.Load() }
func (e *FakeEngine) Stops() int64          { return e.stops.Load() }
func (e *FakeEngine) Renders() int64        { return e.renders.Load() }
func (e *FakeEngine) ControlChanges() int64 { return e.ccs.Load() }
