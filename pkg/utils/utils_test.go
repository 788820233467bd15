// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"testing"
)

const (
	testSize       = 1024
	testSampleRate = 44100
	testFrequency  = 440.0 // A4 note
)

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}
	for _, v := range []any{1, "two", []float64{3}} {
		if err := mt.Send(v); err != nil {
			t.Fatalf("MockTransport.Send() error = %v", err)
		}
	}
	if got := len(mt.Sent()); got != 3 {
		t.Errorf("MockTransport.Sent() length = %d, want 3", got)
	}

	// Sent returns a copy.
	sent := mt.Sent()
	sent[0] = nil
	if mt.Sent()[0] != 1 {
		t.Error("MockTransport.Sent() exposed its internal slice")
	}

	if mt.Closed() {
		t.Error("closed before Close")
	}
	mt.Close()
	if !mt.Closed() {
		t.Error("Close was not recorded")
	}
}

func TestGenerateSineWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"A4 Note", testSize, testSampleRate, testFrequency},
		{"Middle C", testSize, testSampleRate, 261.63},
		{"High Sample Rate", testSize, 192000, testFrequency},
		{"Low Sample Rate", testSize, 8000, testFrequency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateSineWave(tt.size, tt.sampleRate, tt.frequency, 0.5)
			if len(result) != tt.size {
				t.Fatalf("GenerateSineWave() buffer size = %d, want %d", len(result), tt.size)
			}

			crossCount := 0
			for i := 1; i < tt.size; i++ {
				if (result[i-1] < 0) != (result[i] < 0) {
					crossCount++
				}
				if math.Abs(float64(result[i])) > 0.5+1e-6 {
					t.Fatalf("sample %d = %v exceeds amplitude", i, result[i])
				}
			}

			// Two crossings per cycle, 20% margin for phase alignment.
			expected := float64(tt.size) / (tt.sampleRate / tt.frequency / 2)
			if math.Abs(float64(crossCount)-expected) > 0.2*expected {
				t.Errorf("zero crossings = %d, expected approximately %.1f", crossCount, expected)
			}
		})
	}
}

func TestGenerateComplexWave(t *testing.T) {
	result := GenerateComplexWave(testSize, testSampleRate)
	if len(result) != testSize {
		t.Fatalf("GenerateComplexWave() buffer size = %d, want %d", len(result), testSize)
	}
	if IsSilent(result) {
		t.Error("GenerateComplexWave() produced all zeros")
	}
	for i, v := range result {
		if math.Abs(float64(v)) > 0.9 {
			t.Fatalf("sample %d = %v exceeds 0.9", i, v)
		}
	}
}

func TestFindPeakBin(t *testing.T) {
	hill := make([]float64, testSize)
	for i := range hill {
		hill[i] = math.Exp(-0.01 * math.Pow(float64(i-testSize/4), 2))
	}

	tests := []struct {
		name     string
		mags     []float64
		start    int
		end      int
		expected int
	}{
		{"Full Range", hill, 0, testSize - 1, testSize / 4},
		{"Partial Range Start", hill, testSize / 8, testSize - 1, testSize / 4},
		{"Range Excludes Peak", hill, testSize / 2, testSize - 1, testSize / 2},
		{"Negative Start", hill, -10, testSize - 1, testSize / 4},
		{"Out of Range End", hill, 0, testSize * 2, testSize / 4},
		{"Empty Slice", []float64{}, 0, 10, 0},
		{"Single Value", []float64{1.0}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindPeakBin(tt.mags, tt.start, tt.end); got != tt.expected {
				t.Errorf("FindPeakBin() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestFakeEngine(t *testing.T) {
	e := NewFakeEngine(2, 8)
	e.NoteOn(60, 127)
	e.NoteOn(64, 127)
	e.NoteOn(67, 127) // no free voice

	if got := e.ActiveVoices(); got != 2 {
		t.Errorf("ActiveVoices() = %d, want 2", got)
	}
	contribs := e.Render(8)
	if contribs[0].Left[7] != e.Level || contribs[1].Energy[0] != 1 {
		t.Errorf("render = %v / %v", contribs[0].Left, contribs[1].Energy)
	}

	e.NoteOff(60)
	if got := e.ActiveVoices(); got != 1 {
		t.Errorf("ActiveVoices() after NoteOff = %d, want 1", got)
	}

	if e.Param(ParamGain) != -1 {
		t.Error("gain set before any call")
	}
	e.SetGain(100)
	if e.Param(ParamGain) != 100 || e.TotalParamCalls() != 1 {
		t.Errorf("gain = %d after %d calls", e.Param(ParamGain), e.TotalParamCalls())
	}

	e.StopAllVoices()
	if e.ActiveVoices() != 0 || e.Stops() != 1 {
		t.Errorf("StopAllVoices left %d voices", e.ActiveVoices())
	}
	if e.NoteOns() != 3 || e.NoteOffs() != 1 || e.Renders() != 1 {
		t.Errorf("counters = %d on %d off %d renders", e.NoteOns(), e.NoteOffs(), e.Renders())
	}

	allocs := testing.AllocsPerRun(100, func() { e.Render(8) })
	if allocs != 0 {
		t.Errorf("Render allocs = %.1f, want 0", allocs)
	}
}
