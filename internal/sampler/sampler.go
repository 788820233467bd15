// SPDX-License-Identifier: MIT
/*
Package sampler is the voice engine the loader builds: a set of WAV samples
played through a fixed pool of voices.

Each voice plays the sample whose root note is nearest to the requested
pitch, transposed by 2^((note-root)/12) with linear interpolation, through
an attack/decay/sustain/release envelope. Output is panned with an
equal-power law and an optional LFO auto-pan. The energy channel carries
envelope gain times velocity gain for the mixer.

Loading happens off the audio thread (LoadSamples, PrepareRealtime). After
the engine is published, Render, the note calls and the parameter setters
are audio-thread only and do not allocate.
*/
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"instrument/internal/loader"
	applog "instrument/internal/log"
	"instrument/internal/voice"
)

const (
	// MaxLFOHz is the auto-pan rate at byte value 127.
	MaxLFOHz = 10.0

	minEnvSeconds = 0.001
	maxEnvSeconds = 5.0
	decaySeconds  = 0.1

	ccSustainPedal = 64
)

type stage uint8

const (
	stageIdle stage = iota
	stageAttack
	stageDecay
	stageSustain
	stageRelease
)

type voiceState struct {
	stage    stage
	pitch    uint8
	held     bool // note-off arrived while the pedal was down
	sample   *Sample
	pos      float64
	ratio    float64
	velocity float32
	env      float32
	attack   float32 // per-sample envelope increment
	release  float32 // per-sample envelope decrement
	started  uint64
}

// Engine is a sample-playback voice engine.
type Engine struct {
	name       string
	sampleRate float64
	samples    []Sample
	keymap     [128]int16

	voices    []voiceState
	contribs  []voice.Contribution
	panL      []float32
	panR      []float32
	blockSize int

	ready atomic.Bool

	// Values set through the byte-domain setters.
	gain       float32
	pan        float32 // [-1, 1)
	attackSec  float32
	releaseSec float32
	sustain    float32
	lfoHz      float64
	lfoDepth   float32

	lfoPhase float64
	pedal    bool
	clock    uint64
}

var (
	_ loader.Instance      = (*Engine)(nil)
	_ voice.ControlChanger = (*Engine)(nil)
)

// New creates an engine with maxVoices voices. It must be loaded and
// prepared before use.
func New(maxVoices int) (*Engine, error) {
	if maxVoices <= 0 {
		return nil, fmt.Errorf("voice count %d must be positive", maxVoices)
	}
	e := &Engine{
		voices:     make([]voiceState, maxVoices),
		gain:       1,
		attackSec:  minEnvSeconds,
		releaseSec: minEnvSeconds,
		sustain:    1,
	}
	for i := range e.keymap {
		e.keymap[i] = -1
	}
	return e, nil
}

// Builder constructs sampler engines for the loader.
type Builder struct {
	MaxVoices int
}

var _ loader.Builder = (*Builder)(nil)

// NewBuilder returns a builder for engines with maxVoices voices.
func NewBuilder(maxVoices int) *Builder {
	return &Builder{MaxVoices: maxVoices}
}

func (b *Builder) InitFormats() error { return InitFormats() }

func (b *Builder) Construct(req loader.Request) (loader.Instance, error) {
	e, err := New(b.MaxVoices)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// LoadSamples reads the sample set for sampleRate from dir.
func (e *Engine) LoadSamples(ctx context.Context, dir string, sampleRate float64) error {
	if e.ready.Load() {
		return errors.New("engine is already prepared")
	}
	samples, err := readSamples(ctx, dir, sampleRate)
	if err != nil {
		return err
	}

	e.samples = samples
	e.sampleRate = sampleRate
	e.name = instrumentName(dir)
	e.buildKeymap()
	applog.Infof("Sampler: Loaded %d samples for %q (notes %d-%d)",
		len(samples), e.name, samples[0].Root, samples[len(samples)-1].Root)
	return nil
}

// buildKeymap assigns every MIDI note the sample with the nearest root.
// Ties go to the lower root.
func (e *Engine) buildKeymap() {
	for note := range e.keymap {
		best, bestDist := -1, math.MaxInt
		for i := range e.samples {
			d := note - int(e.samples[i].Root)
			if d < 0 {
				d = -d
			}
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		e.keymap[note] = int16(best)
	}
}

// PrepareRealtime allocates every buffer Render needs for blocks of up to
// blockSize frames and marks the engine ready.
func (e *Engine) PrepareRealtime(blockSize int) error {
	if blockSize <= 0 {
		return fmt.Errorf("block size %d must be positive", blockSize)
	}
	if len(e.samples) == 0 {
		return errors.New("no samples loaded")
	}

	e.blockSize = blockSize
	e.contribs = make([]voice.Contribution, len(e.voices))
	for i := range e.contribs {
		e.contribs[i] = voice.Contribution{
			Left:   make([]float32, blockSize),
			Right:  make([]float32, blockSize),
			Energy: make([]float32, blockSize),
		}
	}
	e.panL = make([]float32, blockSize)
	e.panR = make([]float32, blockSize)
	e.ready.Store(true)
	return nil
}

// Name returns the instrument name.
func (e *Engine) Name() string { return e.name }

// Samples returns the number of loaded samples.
func (e *Engine) Samples() int { return len(e.samples) }

// Ready reports whether PrepareRealtime has completed.
func (e *Engine) Ready() bool { return e.ready.Load() }

// Close marks the engine unusable and drops its sample data.
func (e *Engine) Close() error {
	e.ready.Store(false)
	e.samples = nil
	e.contribs = nil
	return nil
}

// Render produces one contribution per voice for numSamples frames.
func (e *Engine) Render(numSamples int) []voice.Contribution {
	if !e.ready.Load() {
		return nil
	}
	n := min(numSamples, e.blockSize)
	if n <= 0 {
		return e.contribs[:0]
	}
	e.computePan(n)

	decay := float32(1 / (decaySeconds * e.sampleRate))
	for i := range e.voices {
		v := &e.voices[i]
		c := &e.contribs[i]
		if v.stage == stageIdle {
			c.Active = false
			continue
		}
		c.Active = true
		e.renderVoice(v, c, n, decay)
	}
	return e.contribs
}

func (e *Engine) computePan(n int) {
	if e.lfoDepth == 0 || e.lfoHz == 0 {
		l, r := equalPower(e.pan)
		for i := 0; i < n; i++ {
			e.panL[i], e.panR[i] = l, r
		}
		return
	}
	step := 2 * math.Pi * e.lfoHz / e.sampleRate
	for i := 0; i < n; i++ {
		p := e.pan + e.lfoDepth*float32(math.Sin(e.lfoPhase))
		e.panL[i], e.panR[i] = equalPower(p)
		e.lfoPhase += step
	}
	e.lfoPhase = math.Mod(e.lfoPhase, 2*math.Pi)
}

// equalPower maps a pan position in [-1, 1] to channel gains.
func equalPower(p float32) (float32, float32) {
	p = max(-1, min(1, p))
	angle := float64(p+1) * math.Pi / 4
	return float32(math.Cos(angle)), float32(math.Sin(angle))
}

func (e *Engine) renderVoice(v *voiceState, c *voice.Contribution, n int, decay float32) {
	data := v.sample.Data
	last := float64(len(data) - 1)

	s := 0
	for ; s < n; s++ {
		if v.stage == stageIdle || v.pos >= last {
			v.stage = stageIdle
			break
		}

		idx := int(v.pos)
		frac := float32(v.pos - float64(idx))
		x := data[idx] + (data[idx+1]-data[idx])*frac

		e.advanceEnvelope(v, decay)
		amp := v.env * v.velocity
		out := x * amp * e.gain
		c.Left[s] = out * e.panL[s]
		c.Right[s] = out * e.panR[s]
		c.Energy[s] = amp

		v.pos += v.ratio
	}
	for ; s < n; s++ {
		c.Left[s], c.Right[s], c.Energy[s] = 0, 0, 0
	}
}

func (e *Engine) advanceEnvelope(v *voiceState, decay float32) {
	switch v.stage {
	case stageAttack:
		v.env += v.attack
		if v.env >= 1 {
			v.env = 1
			v.stage = stageDecay
		}
	case stageDecay:
		v.env -= decay
		if v.env <= e.sustain {
			v.env = e.sustain
			v.stage = stageSustain
		}
	case stageSustain:
		v.env = e.sustain
		if v.env <= 0 {
			v.stage = stageIdle
		}
	case stageRelease:
		v.env -= v.release
		if v.env <= 0 {
			v.env = 0
			v.stage = stageIdle
		}
	}
}

// NoteOn starts a voice. Velocity 0 is a note-off.
func (e *Engine) NoteOn(pitch, velocity uint8) {
	if !e.ready.Load() || pitch > 127 {
		return
	}
	if velocity == 0 {
		e.NoteOff(pitch)
		return
	}
	si := e.keymap[pitch]
	if si < 0 {
		return
	}

	e.clock++
	smp := &e.samples[si]
	e.voices[e.allocate()] = voiceState{
		stage:    stageAttack,
		pitch:    pitch,
		sample:   smp,
		ratio:    math.Exp2(float64(int(pitch)-int(smp.Root)) / 12),
		velocity: float32(min(velocity, 127)) / 127,
		attack:   float32(1 / (float64(e.attackSec) * e.sampleRate)),
		started:  e.clock,
	}
}

// allocate returns a free voice, or the oldest one.
func (e *Engine) allocate() int {
	oldest := 0
	for i := range e.voices {
		if e.voices[i].stage == stageIdle {
			return i
		}
		if e.voices[i].started < e.voices[oldest].started {
			oldest = i
		}
	}
	return oldest
}

// NoteOff releases every voice playing pitch, or defers it while the sustain
// pedal is down.
func (e *Engine) NoteOff(pitch uint8) {
	for i := range e.voices {
		v := &e.voices[i]
		if v.pitch != pitch || v.stage == stageIdle || v.stage == stageRelease {
			continue
		}
		if e.pedal {
			v.held = true
			continue
		}
		e.startRelease(v)
	}
}

func (e *Engine) startRelease(v *voiceState) {
	v.held = false
	v.stage = stageRelease
	v.release = float32(float64(v.env) / (float64(e.releaseSec) * e.sampleRate))
	if v.release <= 0 {
		v.stage = stageIdle
	}
}

// ControlChange handles the sustain pedal. Other controllers are ignored.
func (e *Engine) ControlChange(controller, value uint8) {
	if controller != ccSustainPedal {
		return
	}
	down := value >= 64
	if e.pedal && !down {
		for i := range e.voices {
			if v := &e.voices[i]; v.held && v.stage != stageIdle {
				e.startRelease(v)
			}
		}
	}
	e.pedal = down
}

// StopAllVoices silences every voice immediately.
func (e *Engine) StopAllVoices() {
	for i := range e.voices {
		e.voices[i] = voiceState{}
	}
	e.pedal = false
}

// ActiveVoices returns the number of sounding voices. Not safe to call
// concurrently with Render.
func (e *Engine) ActiveVoices() int {
	n := 0
	for i := range e.voices {
		if e.voices[i].stage != stageIdle {
			n++
		}
	}
	return n
}

func (e *Engine) SetGain(v uint8) { e.gain = unit(v) }

func (e *Engine) SetPan(v uint8) {
	e.pan = max(-1, min(1, (float32(v)-64)/64))
}

func (e *Engine) SetAttack(v uint8)  { e.attackSec = envSeconds(v) }
func (e *Engine) SetRelease(v uint8) { e.releaseSec = envSeconds(v) }
func (e *Engine) SetSustain(v uint8) { e.sustain = unit(v) }

func (e *Engine) SetLFOPanSpeed(v uint8) { e.lfoHz = float64(unit(v)) * MaxLFOHz }
func (e *Engine) SetLFOPanDepth(v uint8) { e.lfoDepth = unit(v) }

func unit(v uint8) float32 {
	return float32(min(v, 127)) / 127
}

// envSeconds maps a byte to an envelope time on a quadratic curve, giving
// finer control over short times.
func envSeconds(v uint8) float32 {
	u := unit(v)
	return minEnvSeconds + u*u*(maxEnvSeconds-minEnvSeconds)
}
