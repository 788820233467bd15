// SPDX-License-Identifier: MIT
/*
Package monitor measures how long each audio block takes to process and how
close that comes to the time the block represents.

The measurement side (StartMeasurement/EndMeasurement/Record) is called from
the audio callback and only touches atomics. The reporting side (Metrics)
takes a small lock to serialize readers of the trailing history; the audio
callback never waits on it.

Fields are updated independently, so a snapshot taken while blocks are being
recorded may mix values from adjacent blocks. That is acceptable for
monitoring.
*/
package monitor

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// HistorySize is the length of the trailing-average window.
	HistorySize = 100

	// DefaultStressThreshold is the CPU estimate above which the monitor
	// reports stress.
	DefaultStressThreshold = 0.80

	// dropoutThreshold is the CPU estimate at which a block counts as a
	// dropout: processing took at least as long as the block lasts.
	dropoutThreshold = 1.0
)

// Metrics is a point-in-time view of the monitor.
type Metrics struct {
	Samples         uint64  `json:"samples"`          // blocks measured since reset
	LastMs          float64 `json:"last_ms"`          // processing time of the latest block
	MeanMs          float64 `json:"mean_ms"`          // running mean since reset
	AverageMs       float64 `json:"average_ms"`       // trailing average over HistorySize blocks
	JitterMs        float64 `json:"jitter_ms"`        // std deviation over the same window
	MinMs           float64 `json:"min_ms"`           // running minimum
	MaxMs           float64 `json:"max_ms"`           // running maximum
	AvailableMs     float64 `json:"available_ms"`     // time represented by the latest block
	CPU             float64 `json:"cpu"`              // latest processing/available ratio
	PeakCPU         float64 `json:"peak_cpu"`         // highest ratio since reset
	Dropouts        uint64  `json:"dropouts"`         // blocks with ratio >= 1
	Stressed        bool    `json:"stressed"`         // latest ratio above the stress threshold
	LastBlockSize   int     `json:"last_block_size"`  // frames in the latest block
	StressThreshold float64 `json:"stress_threshold"` // configured threshold
}

// Monitor is a sliding-window block timer. One goroutine measures; any number
// may read Metrics.
type Monitor struct {
	stressThreshold float64

	// Configuration, written by Prepare on the control thread.
	sampleRate atomic.Uint64 // float64 bits

	// Measurement state, written by the audio thread only.
	start   time.Time
	history [HistorySize]atomic.Uint64 // float64 bits, milliseconds
	head    atomic.Uint64              // total samples written into history

	samples   atomic.Uint64
	sumMs     atomic.Uint64 // float64 bits
	lastMs    atomic.Uint64 // float64 bits
	minMs     atomic.Uint64 // float64 bits
	maxMs     atomic.Uint64 // float64 bits
	available atomic.Uint64 // float64 bits
	cpu       atomic.Uint64 // float64 bits
	peakCPU   atomic.Uint64 // float64 bits
	dropouts  atomic.Uint64
	stressed  atomic.Bool
	blockSize atomic.Int64

	// Reporting side.
	reportMu sync.Mutex
	scratch  [HistorySize]float64
}

// New creates a monitor. A non-positive threshold selects the default.
func New(stressThreshold float64) *Monitor {
	if stressThreshold <= 0 {
		stressThreshold = DefaultStressThreshold
	}
	m := &Monitor{stressThreshold: stressThreshold}
	m.Reset()
	return m
}

// Prepare sets the sample rate used for the CPU estimate and clears all
// state.
func (m *Monitor) Prepare(sampleRate float64) {
	m.sampleRate.Store(math.Float64bits(sampleRate))
	m.Reset()
}

// SampleRate returns the configured sample rate.
func (m *Monitor) SampleRate() float64 {
	return math.Float64frombits(m.sampleRate.Load())
}

// StartMeasurement marks the beginning of a block. Audio thread only.
func (m *Monitor) StartMeasurement() {
	m.start = time.Now()
}

// EndMeasurement records the time since StartMeasurement for a block of
// bufferSize frames. Audio thread only.
func (m *Monitor) EndMeasurement(bufferSize int) {
	if m.start.IsZero() {
		return
	}
	m.Record(time.Since(m.start), bufferSize)
	m.start = time.Time{}
}

// Record folds one processing time into the statistics. It is exported so
// hosts that time blocks themselves, and tests, can feed the
// monitor directly. Audio thread only.
func (m *Monitor) Record(processing time.Duration, bufferSize int) {
	ms := float64(processing) / float64(time.Millisecond)

	idx := m.head.Load() % HistorySize
	m.history[idx].Store(math.Float64bits(ms))
	m.head.Add(1)

	// Single writer, so load and store need no CAS.
	m.sumMs.Store(math.Float64bits(loadFloat(&m.sumMs) + ms))
	m.samples.Add(1)
	m.lastMs.Store(math.Float64bits(ms))
	m.blockSize.Store(int64(bufferSize))

	if ms < loadFloat(&m.minMs) {
		m.minMs.Store(math.Float64bits(ms))
	}
	if ms > loadFloat(&m.maxMs) {
		m.maxMs.Store(math.Float64bits(ms))
	}

	sr := m.SampleRate()
	if sr <= 0 || bufferSize <= 0 {
		return
	}
	availableMs := 1000 * float64(bufferSize) / sr
	cpu := ms / availableMs

	m.available.Store(math.Float64bits(availableMs))
	m.cpu.Store(math.Float64bits(cpu))
	if cpu > loadFloat(&m.peakCPU) {
		m.peakCPU.Store(math.Float64bits(cpu))
	}
	// Small tolerance so a block taking exactly its own duration counts even
	// after float rounding.
	if cpu >= dropoutThreshold-1e-9 {
		m.dropouts.Add(1)
	}
	m.stressed.Store(cpu > m.stressThreshold)
}

// Metrics returns a snapshot. Safe for concurrent use with the measurement
// calls.
func (m *Monitor) Metrics() Metrics {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()

	met := Metrics{
		Samples:         m.samples.Load(),
		LastMs:          loadFloat(&m.lastMs),
		MaxMs:           loadFloat(&m.maxMs),
		AvailableMs:     loadFloat(&m.available),
		CPU:             loadFloat(&m.cpu),
		PeakCPU:         loadFloat(&m.peakCPU),
		Dropouts:        m.dropouts.Load(),
		Stressed:        m.stressed.Load(),
		LastBlockSize:   int(m.blockSize.Load()),
		StressThreshold: m.stressThreshold,
	}
	if met.Samples > 0 {
		met.MinMs = loadFloat(&m.minMs)
		met.MeanMs = loadFloat(&m.sumMs) / float64(met.Samples)
	}

	n := min(m.head.Load(), HistorySize)
	if n == 0 {
		return met
	}
	window := m.scratch[:n]
	for i := range window {
		window[i] = loadFloat(&m.history[i])
	}
	mean, std := stat.MeanStdDev(window, nil)
	met.AverageMs = mean
	if n > 1 && !math.IsNaN(std) {
		met.JitterMs = std
	}
	return met
}

// Reset clears every statistic. It may race with an in-flight measurement;
// the next block simply lands in the fresh state.
func (m *Monitor) Reset() {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()

	for i := range m.history {
		m.history[i].Store(0)
	}
	m.head.Store(0)
	m.samples.Store(0)
	m.sumMs.Store(0)
	m.lastMs.Store(0)
	m.minMs.Store(math.Float64bits(math.Inf(1)))
	m.maxMs.Store(0)
	m.available.Store(0)
	m.cpu.Store(0)
	m.peakCPU.Store(0)
	m.dropouts.Store(0)
	m.stressed.Store(false)
	m.blockSize.Store(0)
}

func loadFloat(v *atomic.Uint64) float64 {
	return math.Float64frombits(v.Load())
}
