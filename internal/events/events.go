// SPDX-License-Identifier: MIT
/*
Package events holds the MIDI events of one audio block.

Events are stored by value with their bytes inline, so filling and draining a
Buffer never allocates. Messages are decoded with gomidi; anything that is not
a well-formed channel or system message is reported as malformed so the
processor can count it instead of failing.
*/
package events

import (
	"gitlab.com/gomidi/midi/v2"
)

// Kind classifies a decoded message.
type Kind uint8

const (
	Malformed Kind = iota
	NoteOn
	NoteOff
	ControlChange
	Other // valid but not handled by the processor
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case NoteOn:
		return "note-on"
	case NoteOff:
		return "note-off"
	case ControlChange:
		return "control-change"
	default:
		return "other"
	}
}

const maxInline = 3

// Event is a MIDI message at a sample offset within the block.
type Event struct {
	Offset int
	data   [maxInline]byte
	size   uint8
	long   bool // message was longer than maxInline; only the head is kept
}

// NewEvent copies msg into an event at offset.
func NewEvent(offset int, msg midi.Message) Event {
	e := Event{Offset: offset}
	n := copy(e.data[:], msg)
	e.size = uint8(n)
	e.long = len(msg) > maxInline
	return e
}

// Message returns the stored bytes. The slice aliases the event.
func (e *Event) Message() midi.Message {
	return midi.Message(e.data[:e.size])
}

// Decode classifies the event. For notes a and b are key and velocity, for
// control changes controller and value.
func (e *Event) Decode() (kind Kind, a, b uint8) {
	if e.size == 0 {
		return Malformed, 0, 0
	}
	status := e.data[0]
	if status < 0x80 {
		return Malformed, 0, 0
	}
	if status >= 0xF0 {
		// System messages: SysEx arrives long, the rest are at most 3 bytes.
		if e.long && status != 0xF0 {
			return Malformed, 0, 0
		}
		return Other, 0, 0
	}

	if e.long || int(e.size) != channelMessageLen(status) {
		return Malformed, 0, 0
	}
	for i := 1; i < int(e.size); i++ {
		if e.data[i] >= 0x80 {
			return Malformed, 0, 0
		}
	}

	msg := e.Message()
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return NoteOn, key, vel
	case msg.GetNoteEnd(&ch, &key):
		return NoteOff, key, 0
	case msg.GetControlChange(&ch, &key, &vel):
		return ControlChange, key, vel
	}
	return Other, 0, 0
}

func channelMessageLen(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0: // program change, channel pressure
		return 2
	default:
		return 3
	}
}

// Buffer is a fixed-capacity list of events kept in offset order.
type Buffer struct {
	events []Event
}

// NewBuffer allocates a buffer for up to capacity events.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{events: make([]Event, 0, capacity)}
}

// Add inserts msg at offset, after any events with the same offset. It
// returns false when the buffer is full.
func (b *Buffer) Add(offset int, msg midi.Message) bool {
	return b.AddEvent(NewEvent(offset, msg))
}

// AddEvent inserts an already built event.
func (b *Buffer) AddEvent(e Event) bool {
	if len(b.events) == cap(b.events) {
		return false
	}
	b.events = append(b.events, e)
	i := len(b.events) - 1
	for i > 0 && b.events[i-1].Offset > e.Offset {
		b.events[i] = b.events[i-1]
		i--
	}
	b.events[i] = e
	return true
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.events)
}

// At returns the i-th event in offset order.
func (b *Buffer) At(i int) *Event {
	return &b.events[i]
}

// Clear empties the buffer, keeping its storage.
func (b *Buffer) Clear() {
	if b == nil {
		return
	}
	b.events = b.events[:0]
}
