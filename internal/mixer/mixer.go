// SPDX-License-Identifier: MIT
/*
Package mixer combines the per-voice buffers of a voice engine into one stereo
signal.

Gain is shared by energy rather than by voice count: many quiet overlapping
voices keep their level, a few loud ones are pulled down. Whatever is left
above the saturation threshold is folded back with a tanh knee and finally
hard-clamped to [-1, 1].

Mix runs once per block on the audio callback. It does not allocate and only
touches atomics for its monitoring fields.
*/
package mixer

import (
	"math"
	"sync/atomic"

	"instrument/internal/voice"
)

const (
	DefaultLowEnergyThreshold  = 0.1
	DefaultStrength            = 1.0
	DefaultSaturationThreshold = 0.9

	minGain = 0.1
	maxGain = 1.0

	// Peak level below which a block counts as silence.
	silenceFloor = 1e-6
)

// Settings tunes the adaptive gain and the saturation stage.
type Settings struct {
	LowEnergyThreshold  float32 // at or below: unity gain
	Strength            float32 // 0 = no reduction, 1 = full 1/sqrt(e)
	SaturationThreshold float32 // |x| above this is softly compressed
}

// DefaultSettings returns the standard mixer tuning.
func DefaultSettings() Settings {
	return Settings{
		LowEnergyThreshold:  DefaultLowEnergyThreshold,
		Strength:            DefaultStrength,
		SaturationThreshold: DefaultSaturationThreshold,
	}
}

// Mixer is the energy-weighted voice mixer. Settings are fixed at
// construction; the monitoring fields may be read from any goroutine.
type Mixer struct {
	settings Settings

	lastEnergy  atomic.Uint32 // float32 bits, peak total energy of last block
	lastGain    atomic.Uint32 // float32 bits, minimum gain applied in last block
	activeCount atomic.Int32
}

// New creates a mixer. Strength is clamped to [0,1].
func New(s Settings) *Mixer {
	if s.Strength < 0 {
		s.Strength = 0
	}
	if s.Strength > 1 {
		s.Strength = 1
	}
	m := &Mixer{settings: s}
	m.resetMonitoring()
	return m
}

// Settings returns the mixer tuning.
func (m *Mixer) Settings() Settings {
	return m.settings
}

// Mix sums every active voice into outLeft/outRight for numSamples samples.
// It returns true when the result is distinguishable from silence. Inactive
// or short contributions are skipped. With no active voices the outputs are
// cleared and false is returned.
func (m *Mixer) Mix(voices []voice.Contribution, outLeft, outRight []float32, numSamples int) bool {
	if numSamples > len(outLeft) {
		numSamples = len(outLeft)
	}
	if numSamples > len(outRight) {
		numSamples = len(outRight)
	}

	active := int32(0)
	for i := range voices {
		if voices[i].Active && voices[i].Valid(numSamples) {
			active++
		}
	}

	if active == 0 || numSamples <= 0 {
		clear(outLeft[:max(numSamples, 0)])
		clear(outRight[:max(numSamples, 0)])
		m.resetMonitoring()
		return false
	}

	var (
		peak       float32
		peakEnergy float32
		minApplied = float32(maxGain)
	)

	for i := 0; i < numSamples; i++ {
		var totalEnergy, mixedL, mixedR float32
		for v := range voices {
			c := &voices[v]
			if !c.Active || !c.Valid(numSamples) {
				continue
			}
			totalEnergy += c.Energy[i]
			mixedL += c.Left[i]
			mixedR += c.Right[i]
		}

		gain := m.AdaptiveGain(totalEnergy)
		l := m.SoftSaturate(mixedL * gain)
		r := m.SoftSaturate(mixedR * gain)
		outLeft[i] = l
		outRight[i] = r

		if totalEnergy > peakEnergy {
			peakEnergy = totalEnergy
		}
		if gain < minApplied {
			minApplied = gain
		}
		peak = max(peak, abs32(l), abs32(r))
	}

	m.lastEnergy.Store(math.Float32bits(peakEnergy))
	m.lastGain.Store(math.Float32bits(minApplied))
	m.activeCount.Store(active)

	return peak > silenceFloor
}

// AdaptiveGain maps the summed voice energy of one sample to a gain factor in
// [0.1, 1.0]. NaN energy gets unity gain.
func (m *Mixer) AdaptiveGain(totalEnergy float32) float32 {
	if totalEnergy != totalEnergy || totalEnergy <= m.settings.LowEnergyThreshold {
		return 1.0
	}
	base := float32(1.0 / math.Sqrt(float64(totalEnergy)))
	g := 1 + m.settings.Strength*(base-1)
	return min(max(g, minGain), maxGain)
}

// SoftSaturate passes samples below the threshold unchanged and compresses
// the excess above it with tanh. NaN becomes silence.
func (m *Mixer) SoftSaturate(x float32) float32 {
	if x != x {
		return 0
	}
	t := m.settings.SaturationThreshold
	a := abs32(x)
	if a <= t {
		return x
	}
	compressed := float32(math.Tanh(float64(a-t)*2)) * 0.1
	y := t + compressed
	if y > 1 {
		y = 1
	}
	if x < 0 {
		return -y
	}
	return y
}

// LastEnergy returns the peak total energy seen in the last mixed block.
func (m *Mixer) LastEnergy() float32 {
	return math.Float32frombits(m.lastEnergy.Load())
}

// LastGain returns the smallest gain applied in the last mixed block.
func (m *Mixer) LastGain() float32 {
	return math.Float32frombits(m.lastGain.Load())
}

// ActiveVoices returns the number of voices mixed in the last block.
func (m *Mixer) ActiveVoices() int {
	return int(m.activeCount.Load())
}

func (m *Mixer) resetMonitoring() {
	m.lastEnergy.Store(math.Float32bits(0))
	m.lastGain.Store(math.Float32bits(1))
	m.activeCount.Store(0)
}

func abs32(x float32) float32 {
	return math.Float32frombits(math.Float32bits(x) &^ (1 << 31))
}
