// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"gitlab.com/gomidi/midi/v2"

	"instrument/internal/engine"
	"instrument/internal/events"
)

const renderBitDepth = 16

// ErrNotPrepared is returned when rendering with a disabled processor.
var ErrNotPrepared = errors.New("processor is not prepared")

// Scheduled is a MIDI message at an absolute frame of the render.
type Scheduled struct {
	Frame int64
	Msg   midi.Message
}

// RenderResult summarizes an offline render.
type RenderResult struct {
	Frames  int64
	PeakL   float32
	PeakR   float32
	Clips   uint64
	Capture []float32 // mono (L+R)/2, only when capture was requested
}

// Renderer drives a processor offline and encodes the result as a 16-bit
// stereo WAV. Blocks are split at scheduled event frames, so each event
// applies from exactly its frame.
type Renderer struct {
	proc    *engine.Processor
	block   *engine.Block
	ev      *events.Buffer
	meter   *Meter
	capture bool
	pcm     *audio.IntBuffer
}

// NewRenderer creates a renderer for proc, which must already be prepared.
// Events due on the same frame beyond the buffer capacity are moved to the
// start of the next block.
func NewRenderer(proc *engine.Processor, eventCapacity int, capture bool) (*Renderer, error) {
	if !proc.Enabled() {
		return nil, ErrNotPrepared
	}
	size := proc.MaxBlockSize()
	return &Renderer{
		proc:    proc,
		block:   engine.NewBlock(size),
		ev:      events.NewBuffer(eventCapacity),
		meter:   NewMeter(),
		capture: capture,
		pcm: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: 2,
				SampleRate:  int(proc.SampleRate()),
			},
			Data:           make([]int, size*2),
			SourceBitDepth: renderBitDepth,
		},
	}, nil
}

// Render writes frames of audio to w. Events at or beyond frames are dropped.
func (r *Renderer) Render(ctx context.Context, w io.WriteSeeker, sched []Scheduled, frames int64) (RenderResult, error) {
	if frames <= 0 {
		return RenderResult{}, fmt.Errorf("invalid render length: %d frames", frames)
	}
	if !r.proc.Enabled() {
		return RenderResult{}, ErrNotPrepared
	}

	sched = slices.Clone(sched)
	slices.SortStableFunc(sched, func(a, b Scheduled) int {
		switch {
		case a.Frame < b.Frame:
			return -1
		case a.Frame > b.Frame:
			return 1
		}
		return 0
	})

	r.meter = NewMeter()
	sampleRate := int(r.proc.SampleRate())
	enc := wav.NewEncoder(w, sampleRate, renderBitDepth, 2, 1)

	var res RenderResult
	if r.capture {
		res.Capture = make([]float32, 0, frames)
	}

	size := int64(cap(r.block.Left))
	next := 0
	for pos := int64(0); pos < frames; {
		if err := ctx.Err(); err != nil {
			enc.Close()
			return res, err
		}

		// Events due at or before pos start this chunk; the chunk ends at
		// the next event so every event lands on its own frame.
		r.ev.Clear()
		for next < len(sched) && sched[next].Frame <= pos {
			if !r.ev.Add(0, sched[next].Msg) {
				break
			}
			next++
		}
		n := min(size, frames-pos)
		if next < len(sched) && sched[next].Frame > pos {
			n = min(n, sched[next].Frame-pos)
		}

		r.block.Left = r.block.Left[:n]
		r.block.Right = r.block.Right[:n]
		r.block.NumSamples = int(n)

		r.proc.ProcessBlock(r.block, r.ev)
		r.meter.Update(r.block.Left, r.block.Right)

		if err := r.write(enc, int(n)); err != nil {
			enc.Close()
			return res, fmt.Errorf("encode block at frame %d: %w", pos, err)
		}
		if r.capture {
			for i := range r.block.Left {
				res.Capture = append(res.Capture, 0.5*(r.block.Left[i]+r.block.Right[i]))
			}
		}
		res.Frames += n
		pos += n
	}

	r.block.Left = r.block.Left[:size]
	r.block.Right = r.block.Right[:size]

	if err := enc.Close(); err != nil {
		return res, fmt.Errorf("finalize wav: %w", err)
	}
	res.PeakL, res.PeakR = r.meter.TakePeak()
	res.Clips = r.meter.Clips()
	return res, nil
}

func (r *Renderer) write(enc *wav.Encoder, n int) error {
	data := r.pcm.Data[:n*2]
	for i := 0; i < n; i++ {
		data[2*i] = toPCM16(r.block.Left[i])
		data[2*i+1] = toPCM16(r.block.Right[i])
	}
	r.pcm.Data = data
	err := enc.Write(r.pcm)
	r.pcm.Data = r.pcm.Data[:cap(r.pcm.Data)]
	return err
}

func toPCM16(x float32) int {
	v := math.Round(float64(x) * math.MaxInt16)
	return int(max(min(v, math.MaxInt16), -math.MaxInt16))
}
