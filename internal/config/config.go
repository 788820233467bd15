// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the instrument.
const (
	// Default values for the audio engine configuration
	DefaultSampleRate = 48000     // Hz
	DefaultBlockSize  = 256       // Frames per audio callback
	DefaultBackend    = "portaudio"
	DefaultDeviceID   = MinDeviceID // System default output device
	DefaultMaxVoices  = 32
	DefaultSampleDir  = "./samples"
	DefaultLogLevel   = "info"

	// Hardware and processing limits
	MinDeviceID  = -1   // -1 represents system default device
	MaxBlockSize = 8192 // Largest block the processor will accept
	MaxVoices    = 256

	// Mixer defaults
	DefaultLowEnergyThreshold  = 0.1
	DefaultMixerStrength       = 1.0
	DefaultSaturationThreshold = 0.9

	// Monitor defaults
	DefaultStressThreshold = 0.80
	DefaultHistorySize     = 100

	// Events
	DefaultEventCapacity = 256 // Events held per block
	DefaultQueueCapacity = 1024

	// Reporting
	DefaultReportInterval  = 250 * time.Millisecond
	DefaultUDPSendInterval = 33 * time.Millisecond
	DefaultWSAddress       = "127.0.0.1:8765"
	DefaultUDPAddress      = "127.0.0.1:9090"
)

// Backend names accepted by audio.backend.
const (
	BackendPortAudio = "portaudio"
	BackendOto       = "oto"
)

// SupportedSampleRates is the closed set of host sample rates.
var SupportedSampleRates = [...]float64{44100, 48000, 88200, 96000}

// IsSupportedSampleRate reports whether rate is one of SupportedSampleRates.
func IsSupportedSampleRate(rate float64) bool {
	for _, r := range SupportedSampleRates {
		if r == rate {
			return true
		}
	}
	return false
}
