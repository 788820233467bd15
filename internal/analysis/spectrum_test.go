// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
	"testing"

	"instrument/pkg/utils"
)

const (
	testFFTSize    = 4096
	testSampleRate = 48000
)

func TestNewSpectrumValidation(t *testing.T) {
	tests := []struct {
		name string
		size int
		rate float64
		want error
	}{
		{"valid", 1024, 48000, nil},
		{"not power of two", 1000, 48000, ErrFFTSize},
		{"zero size", 0, 48000, ErrFFTSize},
		{"zero rate", 1024, 0, ErrSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpectrum(tt.size, tt.rate, Hann)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDominantFrequency(t *testing.T) {
	for _, freq := range []float64{110, 440, 1000, 5000} {
		s, err := NewSpectrum(testFFTSize, testSampleRate, Hann)
		if err != nil {
			t.Fatal(err)
		}
		s.Analyze(utils.GenerateSineWave(testFFTSize, testSampleRate, freq, 0.5))

		// Interpolation should land well inside one bin (11.7 Hz here).
		if got := s.DominantFrequency(); math.Abs(got-freq) > 3 {
			t.Errorf("dominant = %.2f Hz, want %.0f", got, freq)
		}
		if peak := utils.FindPeakBin(s.Magnitudes(), 1, len(s.Magnitudes())-1); math.Abs(s.FrequencyForBin(peak)-freq) > 12 {
			t.Errorf("peak bin %d at %.1f Hz, want near %.0f", peak, s.FrequencyForBin(peak), freq)
		}
	}
}

func TestDominantFrequencyOfSilence(t *testing.T) {
	s, _ := NewSpectrum(1024, testSampleRate, Hann)
	s.Analyze(make([]float32, 1024))
	if got := s.DominantFrequency(); got != 0 {
		t.Errorf("dominant = %v, want 0", got)
	}
}

func TestFrequencyForBin(t *testing.T) {
	s, _ := NewSpectrum(1024, testSampleRate, Hann)
	tests := []struct {
		bin  int
		want float64
	}{
		{0, 0},
		{1, 46.875},
		{512, 24000},
		{513, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := s.FrequencyForBin(tt.bin); got != tt.want {
			t.Errorf("FrequencyForBin(%d) = %v, want %v", tt.bin, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	s, _ := NewSpectrum(2048, testSampleRate, Hann)
	capture := utils.GenerateSineWave(2048*4+100, testSampleRate, 1000, 0.5)

	sum := s.Summarize(capture)
	if sum.Frames != 4 {
		t.Errorf("frames = %d, want 4", sum.Frames)
	}
	if math.Abs(sum.DominantFrequency-1000) > 5 {
		t.Errorf("dominant = %.1f Hz", sum.DominantFrequency)
	}
	if math.Abs(sum.RMS-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("rms = %.3f", sum.RMS)
	}

	loudest := 0
	for i, b := range sum.Bands {
		if b.Level > sum.Bands[loudest].Level {
			loudest = i
		}
	}
	if sum.Bands[loudest].Name != "mid" {
		t.Errorf("loudest band = %s, want mid", sum.Bands[loudest].Name)
	}

	short := s.Summarize(capture[:300])
	if short.Frames != 1 {
		t.Errorf("short capture frames = %d, want 1", short.Frames)
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		in      string
		want    WindowFunc
		wantErr bool
	}{
		{"hann", Hann, false},
		{"Hanning", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"nuttall", Nuttall, false},
		{"square", Hann, true},
	}
	for _, tt := range tests {
		got, err := ParseWindowFunc(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseWindowFunc(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestAnalyzeHotPath(t *testing.T) {
	s, _ := NewSpectrum(1024, testSampleRate, Hann)
	frame := utils.GenerateComplexWave(1024, testSampleRate)
	s.Analyze(frame)

	allocs := testing.AllocsPerRun(100, func() {
		s.Analyze(frame)
		_ = s.DominantFrequency()
	})
	if allocs > 0 {
		t.Errorf("Analyze allocates %.1f times per run", allocs)
	}
}

func BenchmarkAnalyze(b *testing.B) {
	s, _ := NewSpectrum(testFFTSize, testSampleRate, Hann)
	frame := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	b.ReportAllocs()
	for b.Loop() {
		s.Analyze(frame)
	}
}
