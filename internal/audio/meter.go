// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

const signMask = 0x7FFFFFFF

// Meter tracks the output peak level between reads and counts clipped
// samples. Update is audio-thread only; the readers may run anywhere.
type Meter struct {
	peakL atomic.Uint32 // float32 bits
	peakR atomic.Uint32 // float32 bits
	clips atomic.Uint64
}

// NewMeter returns a meter at silence.
func NewMeter() *Meter {
	return &Meter{}
}

// Update folds one buffer pair into the meter.
func (m *Meter) Update(left, right []float32) {
	pl, cl := peakBits(left)
	pr, cr := peakBits(right)

	if pl > m.peakL.Load() {
		m.peakL.Store(pl)
	}
	if pr > m.peakR.Load() {
		m.peakR.Store(pr)
	}
	if c := cl + cr; c > 0 {
		m.clips.Add(c)
	}
}

// TakePeak returns the peak levels since the previous call and resets them.
func (m *Meter) TakePeak() (left, right float32) {
	return math.Float32frombits(m.peakL.Swap(0)), math.Float32frombits(m.peakR.Swap(0))
}

// Clips returns the number of samples at or above full scale.
func (m *Meter) Clips() uint64 {
	return m.clips.Load()
}

// Peak returns the largest absolute value in buf.
func Peak(buf []float32) float32 {
	p, _ := peakBits(buf)
	return math.Float32frombits(p)
}

// peakBits returns the bits of max |x| and the count of full-scale samples.
// For non-negative floats the bit patterns order the same way as the
// values, so clearing the sign bit gives |x| directly.
func peakBits(buf []float32) (uint32, uint64) {
	const fullScale = 0x3F800000 // 1.0
	var peak uint32
	var clips uint64
	for _, x := range buf {
		a := math.Float32bits(x) & signMask
		if a > peak {
			peak = a
		}
		if a >= fullScale {
			clips++
		}
	}
	return peak, clips
}
