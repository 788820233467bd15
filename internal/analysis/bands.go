// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
)

// Band is a named frequency range, low inclusive and high exclusive.
type Band struct {
	Name   string  `json:"name"`
	LowHz  float64 `json:"low_hz"`
	HighHz float64 `json:"high_hz"`
}

// DefaultBands splits the audible range into six bands up to Nyquist.
func DefaultBands(sampleRate float64) []Band {
	return []Band{
		{Name: "sub", LowHz: 20, HighHz: 60},
		{Name: "bass", LowHz: 60, HighHz: 250},
		{Name: "low_mid", LowHz: 250, HighHz: 500},
		{Name: "mid", LowHz: 500, HighHz: 2000},
		{Name: "high_mid", LowHz: 2000, HighHz: 4000},
		{Name: "treble", LowHz: 4000, HighHz: sampleRate / 2},
	}
}

// BandEnergies writes the RMS magnitude of each band into dst, which must be
// as long as bands. Bands without bins are 0.
func (s *Spectrum) BandEnergies(bands []Band, dst []float64) {
	for j := range bands {
		var sum float64
		var n int
		for i, m := range s.magnitude {
			f := s.FrequencyForBin(i)
			if f >= bands[j].LowHz && f < bands[j].HighHz {
				sum += m * m
				n++
			}
		}
		dst[j] = 0
		if n > 0 {
			dst[j] = math.Sqrt(sum / float64(n))
		}
	}
}

// BandLevel is one band of a Summary.
type BandLevel struct {
	Band
	Level float64 `json:"level"`
}

// Summary describes a whole capture.
type Summary struct {
	Frames            int         `json:"frames"`
	RMS               float64     `json:"rms"`
	DominantFrequency float64     `json:"dominant_hz"`
	Bands             []BandLevel `json:"bands"`
}

// Summarize averages the magnitude spectrum over every complete frame of
// capture and reports its dominant frequency and band levels. A capture shorter
// than one frame is analyzed zero padded.
func (s *Spectrum) Summarize(capture []float32) Summary {
	sum := make([]float64, len(s.magnitude))
	frames := 0
	accumulate := func(frame []float32) {
		s.Analyze(frame)
		for i, m := range s.magnitude {
			sum[i] += m
		}
		frames++
	}
	if len(capture) < s.size {
		accumulate(capture)
	}
	for start := 0; start+s.size <= len(capture); start += s.size {
		accumulate(capture[start : start+s.size])
	}
	for i := range sum {
		s.magnitude[i] = sum[i] / float64(frames)
	}

	bands := DefaultBands(s.sampleRate)
	levels := make([]float64, len(bands))
	s.BandEnergies(bands, levels)

	out := Summary{
		Frames:            frames,
		RMS:               rms(capture),
		DominantFrequency: s.DominantFrequency(),
		Bands:             make([]BandLevel, len(bands)),
	}
	for i, b := range bands {
		out.Bands[i] = BandLevel{Band: b, Level: levels[i]}
	}
	return out
}
