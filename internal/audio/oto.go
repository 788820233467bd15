// SPDX-License-Identifier: MIT
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"instrument/internal/config"
	applog "instrument/internal/log"
)

const bytesPerFrame = 2 * 4 // stereo float32

// pullReader renders blocks on demand into interleaved little-endian float32
// frames. oto calls Read from its own audio goroutine.
type pullReader struct {
	driver      *Driver
	left, right []float32
	buf         []byte
	pos, end    int
}

func newPullReader(d *Driver, blockSize int) *pullReader {
	return &pullReader{
		driver: d,
		left:   make([]float32, blockSize),
		right:  make([]float32, blockSize),
		buf:    make([]byte, blockSize*bytesPerFrame),
	}
}

// Read always fills p; a partial frame left over is carried to the next call.
func (r *pullReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.pos == r.end {
			r.render()
		}
		c := copy(p[n:], r.buf[r.pos:r.end])
		r.pos += c
		n += c
	}
	return n, nil
}

func (r *pullReader) render() {
	r.driver.Process(r.left, r.right)
	for i := range r.left {
		o := i * bytesPerFrame
		binary.LittleEndian.PutUint32(r.buf[o:], math.Float32bits(r.left[i]))
		binary.LittleEndian.PutUint32(r.buf[o+4:], math.Float32bits(r.right[i]))
	}
	r.pos, r.end = 0, len(r.buf)
}

// OtoStream plays the driver's output through oto, which pulls audio with a
// reader instead of pushing a callback.
type OtoStream struct {
	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	latency time.Duration
}

// NewOtoStream creates the oto context and a player reading from d. oto
// permits one context per process.
func NewOtoStream(cfg config.AudioConfig, d *Driver) (*OtoStream, error) {
	latency := 4 * time.Duration(float64(cfg.BlockSize)/cfg.SampleRate*float64(time.Second))
	if cfg.LowLatency {
		latency /= 2
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(cfg.SampleRate),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   latency,
	})
	if err != nil {
		return nil, fmt.Errorf("create oto context: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(newPullReader(d, cfg.BlockSize))
	applog.Infof("Audio: Opened oto output at %.0f Hz, %d frames, buffer %s", cfg.SampleRate, cfg.BlockSize, latency)
	return &OtoStream{ctx: ctx, player: player, latency: latency}, nil
}

func (s *OtoStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return fmt.Errorf("oto stream is closed")
	}
	s.player.Play()
	return nil
}

func (s *OtoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.Pause()
	}
	return nil
}

// Close releases the player. Safe to call more than once.
func (s *OtoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	return err
}

func (s *OtoStream) Latency() time.Duration {
	return s.latency
}
