// SPDX-License-Identifier: MIT
package events

import (
	"sync"
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		desc string
		msg  midi.Message
		kind Kind
		a, b uint8
	}{
		{"Note on", midi.NoteOn(0, 60, 100), NoteOn, 60, 100},
		{"Note on channel 9", midi.NoteOn(9, 36, 1), NoteOn, 36, 1},
		{"Zero velocity note on", midi.NoteOn(0, 60, 0), NoteOff, 60, 0},
		{"Note off", midi.NoteOff(3, 64), NoteOff, 64, 0},
		{"Control change", midi.ControlChange(0, 7, 90), ControlChange, 7, 90},
		{"Program change", midi.ProgramChange(0, 5), Other, 0, 0},
		{"Clock", midi.Message{0xF8}, Other, 0, 0},
		{"SysEx", midi.Message{0xF0, 0x7E, 0x00, 0x09, 0x01, 0xF7}, Other, 0, 0},
		{"Empty", midi.Message{}, Malformed, 0, 0},
		{"Running status", midi.Message{0x40, 0x7F}, Malformed, 0, 0},
		{"Truncated note on", midi.Message{0x90, 0x40}, Malformed, 0, 0},
		{"Data byte out of range", midi.Message{0x90, 0x80, 0x40}, Malformed, 0, 0},
		{"Overlong note on", midi.Message{0x90, 0x40, 0x40, 0x40}, Malformed, 0, 0},
		{"Overlong clock", midi.Message{0xF8, 0x00, 0x00, 0x00}, Malformed, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			e := NewEvent(0, tt.msg)
			kind, a, b := e.Decode()
			if kind != tt.kind || a != tt.a || b != tt.b {
				t.Errorf("Decode(% X) = (%s, %d, %d), want (%s, %d, %d)",
					[]byte(tt.msg), kind, a, b, tt.kind, tt.a, tt.b)
			}
		})
	}
}

func TestBufferKeepsOffsetOrder(t *testing.T) {
	b := NewBuffer(8)
	b.Add(30, midi.NoteOn(0, 1, 1))
	b.Add(10, midi.NoteOn(0, 2, 1))
	b.Add(30, midi.NoteOn(0, 3, 1))
	b.Add(0, midi.NoteOn(0, 4, 1))
	b.Add(10, midi.NoteOn(0, 5, 1))

	wantKeys := []uint8{4, 2, 5, 1, 3}
	if b.Len() != len(wantKeys) {
		t.Fatalf("Len = %d, want %d", b.Len(), len(wantKeys))
	}
	prev := -1
	for i, want := range wantKeys {
		e := b.At(i)
		if e.Offset < prev {
			t.Errorf("event %d offset %d before %d", i, e.Offset, prev)
		}
		prev = e.Offset
		if _, key, _ := e.Decode(); key != want {
			t.Errorf("event %d key = %d, want %d", i, key, want)
		}
	}
}

func TestBufferCapacity(t *testing.T) {
	b := NewBuffer(2)
	if !b.Add(0, midi.NoteOn(0, 60, 1)) || !b.Add(0, midi.NoteOn(0, 61, 1)) {
		t.Fatal("Add failed below capacity")
	}
	if b.Add(0, midi.NoteOn(0, 62, 1)) {
		t.Error("Add succeeded past capacity")
	}
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len after Clear = %d", b.Len())
	}

	var nilBuf *Buffer
	if nilBuf.Len() != 0 {
		t.Error("nil buffer should be empty")
	}
}

func TestQueueRoundTrip(t *testing.T) {
	q := NewQueue(3) // rounded up to 4
	for i := 0; i < 4; i++ {
		if !q.Push(midi.NoteOn(0, uint8(60+i), 100)) {
			t.Fatalf("Push %d failed", i)
		}
	}
	if q.Push(midi.NoteOn(0, 70, 100)) {
		t.Error("Push succeeded on full queue")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", q.Dropped())
	}

	b := NewBuffer(2)
	if n := q.DrainInto(b); n != 2 {
		t.Errorf("DrainInto moved %d, want 2 (buffer capacity)", n)
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
	b.Clear()
	q.DrainInto(b)
	if _, key, _ := b.At(1).Decode(); key != 63 {
		t.Errorf("last drained key = %d, want 63", key)
	}
}

func TestQueueConcurrent(t *testing.T) {
	q := NewQueue(64)
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if q.Push(midi.NoteOn(0, uint8(i%128), 100)) {
				i++
			}
		}
	}()

	b := NewBuffer(16)
	received := 0
	next := 0
	for received < total {
		b.Clear()
		q.DrainInto(b)
		for i := 0; i < b.Len(); i++ {
			_, key, _ := b.At(i).Decode()
			if int(key) != next%128 {
				t.Fatalf("event %d: key %d, want %d", received, key, next%128)
			}
			next++
			received++
		}
	}
	wg.Wait()
}

func TestDrainHotPath(t *testing.T) {
	q := NewQueue(16)
	b := NewBuffer(16)
	msg := midi.NoteOn(0, 60, 100)

	allocs := testing.AllocsPerRun(100, func() {
		q.Push(msg)
		q.Push(msg)
		b.Clear()
		q.DrainInto(b)
		for i := 0; i < b.Len(); i++ {
			_, _, _ = b.At(i).Decode()
		}
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations draining events, got %.1f", allocs)
	}
}
