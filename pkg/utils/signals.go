// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"sync"
)

// MockTransport implements the transport interface for testing. It keeps every
// value it is sent.
type MockTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

// Send stores the data for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Sent returns a copy of everything sent so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateSineWave returns size samples of a sine at frequency with the given
// peak amplitude.
func GenerateSineWave(size int, sampleRate, frequency float64, amplitude float32) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t)) * amplitude
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz tone with two harmonics, peaking near
// 0.9.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

// IsSilent reports whether every sample is exactly zero.
func IsSilent(buffers ...[]float32) bool {
	for _, b := range buffers {
		for _, s := range b {
			if s != 0 {
				return false
			}
		}
	}
	return true
}
