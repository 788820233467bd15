// SPDX-License-Identifier: MIT
package engine

import (
	"sync"
	"sync/atomic"

	"instrument/internal/voice"
)

// Holder is one published engine. Holders are immutable once published.
type Holder struct {
	engine voice.Engine
	gen    uint64
}

// Engine returns the held engine, which may be nil.
func (h *Holder) Engine() voice.Engine {
	if h == nil {
		return nil
	}
	return h.engine
}

// Generation returns the publish sequence number of h, starting at 1.
func (h *Holder) Generation() uint64 {
	if h == nil {
		return 0
	}
	return h.gen
}

type retiredEngine struct {
	engine voice.Engine
	gen    uint64
}

// Slot is the hand-over point for the voice engine between the control side
// and the audio callback.
//
// The control side publishes a new engine with Publish. The audio callback
// reads the current holder once per block with Acquire and reports the end
// of the block with Release. A replaced engine is only handed back by Collect
// after a block that started with a newer generation has completed, so the
// audio callback can never be holding it.
type Slot struct {
	current   atomic.Pointer[Holder]
	completed atomic.Uint64 // generation of the last finished block
	quiesced  atomic.Bool

	mu      sync.Mutex
	nextGen uint64
	retired []retiredEngine
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Publish makes e the engine for subsequent blocks and returns its
// generation. The previous engine is retired. e may be nil to unload.
func (s *Slot) Publish(e voice.Engine) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGen++
	old := s.current.Swap(&Holder{engine: e, gen: s.nextGen})
	if old != nil && old.engine != nil {
		s.retired = append(s.retired, retiredEngine{engine: old.engine, gen: old.gen})
	}
	return s.nextGen
}

// Current returns the published holder without marking a block. For the
// control side.
func (s *Slot) Current() *Holder {
	return s.current.Load()
}

// Acquire returns the holder for the block about to run. Audio callback only.
func (s *Slot) Acquire() *Holder {
	return s.current.Load()
}

// Release marks the block that acquired h as finished. Audio callback only.
func (s *Slot) Release(h *Holder) {
	if h != nil {
		s.completed.Store(h.gen)
	}
}

// Completed returns the generation of the last finished block.
func (s *Slot) Completed() uint64 {
	return s.completed.Load()
}

// Quiesce declares that the audio callback will not run until Resume, which
// lets Collect hand back every retired engine.
func (s *Slot) Quiesce() {
	s.quiesced.Store(true)
}

// Resume clears Quiesce.
func (s *Slot) Resume() {
	s.quiesced.Store(false)
}

// Collect removes and returns the retired engines no block can still be
// using.
func (s *Slot) Collect() []voice.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.retired) == 0 {
		return nil
	}

	done := s.completed.Load()
	all := s.quiesced.Load()

	var out []voice.Engine
	keep := s.retired[:0]
	for _, r := range s.retired {
		if all || r.gen < done {
			out = append(out, r.engine)
			continue
		}
		keep = append(keep, r)
	}
	clear(s.retired[len(keep):])
	s.retired = keep
	return out
}

// Pending returns the number of retired engines awaiting collection.
func (s *Slot) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retired)
}
