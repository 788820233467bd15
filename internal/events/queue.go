// SPDX-License-Identifier: MIT
package events

import (
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"

	"instrument/pkg/bitint"
)

// Queue is a single-producer single-consumer ring that carries live MIDI input
// from a listener goroutine to the audio callback. Neither side blocks or
// allocates; Push drops the message when the ring is full.
type Queue struct {
	ring []Event
	mask uint64

	head    atomic.Uint64 // next slot to read, owned by the consumer
	tail    atomic.Uint64 // next slot to write, owned by the producer
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at least capacity events.
func NewQueue(capacity int) *Queue {
	size, mask := bitint.RingSize(capacity)
	return &Queue{
		ring: make([]Event, size),
		mask: mask,
	}
}

// Push enqueues msg. Producer side only.
func (q *Queue) Push(msg midi.Message) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() >= uint64(len(q.ring)) {
		q.dropped.Add(1)
		return false
	}
	q.ring[tail&q.mask] = NewEvent(0, msg)
	q.tail.Store(tail + 1)
	return true
}

// DrainInto moves queued events into b at offset 0 until the queue is empty
// or b is full, and returns the number moved. Consumer side only.
func (q *Queue) DrainInto(b *Buffer) int {
	head := q.head.Load()
	tail := q.tail.Load()
	moved := 0
	for head != tail {
		if !b.AddEvent(q.ring[head&q.mask]) {
			break
		}
		head++
		moved++
	}
	q.head.Store(head)
	return moved
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Dropped returns how many pushes were rejected because the ring was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
