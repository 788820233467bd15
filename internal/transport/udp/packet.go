// SPDX-License-Identifier: MIT
/*
Package udp sends instrument reports as fixed-size binary datagrams.

Packet Structure (BigEndian):

	Field          Type     Bytes
	Sequence       uint32   4      monotonically increasing per transport
	Timestamp      int64    8      report time, nanoseconds since epoch
	Blocks         uint64   8
	Samples        uint64   8
	MIDIEvents     uint64   8
	Errors         uint64   8      malformed + parameter + render errors
	Dropouts       uint64   8
	Generation     uint32   4      live engine generation, 0 when none
	ActiveVoices   uint16   2
	LoaderState    uint8    1      0 idle, 1 in progress, 2 completed, 3 error
	Stressed       uint8    1      1 when the last block exceeded the threshold
	CPU            float32  4      last processing/available ratio
	AverageMs      float32  4
	MaxMs          float32  4
	JitterMs       float32  4
	PeakLeft       float32  4
	PeakRight      float32  4

Total 84 bytes.
*/
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"instrument/internal/host"
	"instrument/internal/loader"
)

// Packet is the wire form of a host.Report.
type Packet struct {
	Sequence     uint32
	Timestamp    int64
	Blocks       uint64
	Samples      uint64
	MIDIEvents   uint64
	Errors       uint64
	Dropouts     uint64
	Generation   uint32
	ActiveVoices uint16
	LoaderState  uint8
	Stressed     uint8
	CPU          float32
	AverageMs    float32
	MaxMs        float32
	JitterMs     float32
	PeakLeft     float32
	PeakRight    float32
}

// PacketSize is the encoded length of a Packet.
var PacketSize = binary.Size(Packet{})

// NewPacket converts r into a packet with sequence number seq.
func NewPacket(seq uint32, r host.Report) Packet {
	p := Packet{
		Sequence:     seq,
		Timestamp:    r.Time.UnixNano(),
		Blocks:       r.Stats.Blocks,
		Samples:      r.Stats.Samples,
		MIDIEvents:   r.Stats.MIDIEvents,
		Errors:       r.Stats.Errors(),
		Dropouts:     r.Metrics.Dropouts,
		Generation:   uint32(r.Generation),
		ActiveVoices: uint16(min(r.ActiveVoices, 0xFFFF)),
		LoaderState:  loaderCode(r.LoaderState),
		CPU:          float32(r.Metrics.CPU),
		AverageMs:    float32(r.Metrics.AverageMs),
		MaxMs:        float32(r.Metrics.MaxMs),
		JitterMs:     float32(r.Metrics.JitterMs),
		PeakLeft:     r.PeakLeft,
		PeakRight:    r.PeakRight,
	}
	if r.Metrics.Stressed {
		p.Stressed = 1
	}
	return p
}

func loaderCode(name string) uint8 {
	for st := loader.Idle; st <= loader.Error; st++ {
		if st.String() == name {
			return uint8(st)
		}
	}
	return uint8(loader.Idle)
}

// Encode appends the packet to buf after resetting it.
func (p *Packet) Encode(buf *bytes.Buffer) error {
	buf.Reset()
	return binary.Write(buf, binary.BigEndian, p)
}

// Decode parses a datagram produced by Encode.
func Decode(data []byte) (Packet, error) {
	var p Packet
	if len(data) != PacketSize {
		return p, fmt.Errorf("packet is %d bytes, want %d", len(data), PacketSize)
	}
	err := binary.Read(bytes.NewReader(data), binary.BigEndian, &p)
	return p, err
}
