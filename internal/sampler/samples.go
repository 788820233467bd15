// SPDX-License-Identifier: MIT
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/interp"
	"gopkg.in/yaml.v3"

	applog "instrument/internal/log"
)

// MetadataFile is the optional per-instrument description read from the
// sample directory.
const MetadataFile = "instrument.yaml"

// Sample is one mono recording at the engine's sample rate, mapped to the MIDI
// note it was recorded at.
type Sample struct {
	Root uint8
	Data []float32
	Path string
}

type pcm struct {
	data       []float32
	sampleRate float64
}

type decodeFunc func(r io.ReadSeeker) (pcm, error)

var (
	formatsOnce sync.Once
	formatsMu   sync.RWMutex
	formats     map[string]decodeFunc
)

// InitFormats registers the sample decoders. Safe to call repeatedly.
func InitFormats() error {
	formatsOnce.Do(func() {
		formatsMu.Lock()
		formats = map[string]decodeFunc{
			".wav":  decodeWAV,
			".wave": decodeWAV,
		}
		formatsMu.Unlock()
		applog.Debugf("Sampler: Registered sample formats")
	})
	return nil
}

func decoderFor(path string) (decodeFunc, bool) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	dec, ok := formats[strings.ToLower(filepath.Ext(path))]
	return dec, ok
}

func formatsReady() bool {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	return formats != nil
}

// decodeWAV reads a PCM WAV file and mixes it down to mono in [-1, 1].
func decodeWAV(r io.ReadSeeker) (pcm, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return pcm{}, errors.New("not a valid WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return pcm{}, fmt.Errorf("decode PCM: %w", err)
	}

	bitDepth := int(d.BitDepth)
	switch bitDepth {
	case 16, 24, 32:
	default:
		return pcm{}, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		return pcm{}, errors.New("WAV file has no channels")
	}

	scale := 1 / float32(int64(1)<<(bitDepth-1))
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) * scale
		}
		mono[i] = sum / float32(channels)
	}
	return pcm{data: mono, sampleRate: float64(d.SampleRate)}, nil
}

// resample converts data from one rate to another with piecewise linear
// interpolation.
func resample(data []float32, from, to float64) ([]float32, error) {
	if from == to || len(data) < 2 {
		return data, nil
	}
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample %v -> %v Hz", from, to)
	}

	xs := make([]float64, len(data))
	ys := make([]float64, len(data))
	for i, v := range data {
		xs[i] = float64(i)
		ys[i] = float64(v)
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	step := from / to
	n := int(math.Floor(float64(len(data)-1)/step)) + 1
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(pl.Predict(float64(i) * step))
	}
	return out, nil
}

// parseRoot extracts the leading MIDI note number of a sample file name, as
// in "060-piano-C4.wav".
func parseRoot(name string) (uint8, bool) {
	end := 0
	for end < len(name) && end < 3 && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:end])
	if err != nil || n > 127 {
		return 0, false
	}
	return uint8(n), true
}

// sampleRoot returns the directory samples are read from: the rate-specific
// subdirectory when it exists, otherwise dir itself.
func sampleRoot(dir string, rate float64) string {
	sub := filepath.Join(dir, strconv.Itoa(int(rate)))
	if info, err := os.Stat(sub); err == nil && info.IsDir() {
		return sub
	}
	return dir
}

type metadata struct {
	Name string `yaml:"name"`
}

// instrumentName reads the name from MetadataFile, falling back to the
// directory name.
func instrumentName(dir string) string {
	fallback := filepath.Base(filepath.Clean(dir))
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return fallback
	}
	var md metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		applog.Warnf("Sampler: Ignoring malformed %s in %s: %v", MetadataFile, dir, err)
		return fallback
	}
	if md.Name = strings.TrimSpace(md.Name); md.Name == "" {
		return fallback
	}
	return md.Name
}

// readSamples decodes every sample file in the sample root for rate. It
// checks ctx between files.
func readSamples(ctx context.Context, dir string, rate float64) ([]Sample, error) {
	if !formatsReady() {
		return nil, errors.New("sample formats not initialized")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("sample directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	root := sampleRoot(dir, rate)
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var samples []Sample
	seen := make(map[uint8]string)
	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ent.IsDir() {
			continue
		}
		dec, ok := decoderFor(ent.Name())
		if !ok {
			continue
		}
		note, ok := parseRoot(ent.Name())
		if !ok {
			applog.Debugf("Sampler: Skipping %s (no leading note number)", ent.Name())
			continue
		}
		if prev, dup := seen[note]; dup {
			applog.Warnf("Sampler: Skipping %s, note %d already mapped to %s", ent.Name(), note, prev)
			continue
		}

		path := filepath.Join(root, ent.Name())
		data, err := loadFile(path, dec, rate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ent.Name(), err)
		}
		seen[note] = ent.Name()
		samples = append(samples, Sample{Root: note, Data: data, Path: path})
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples found in %s", root)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Root < samples[j].Root })
	return samples, nil
}

func loadFile(path string, dec decodeFunc, rate float64) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := dec(f)
	if err != nil {
		return nil, err
	}
	if p.sampleRate != rate {
		applog.Debugf("Sampler: Resampling %s from %.0f to %.0f Hz", filepath.Base(path), p.sampleRate, rate)
	}
	return resample(p.data, p.sampleRate, rate)
}
