// SPDX-License-Identifier: MIT
package udp

import (
	"net"
	"testing"
	"time"

	"instrument/internal/engine"
	"instrument/internal/host"
	"instrument/internal/monitor"
)

func testReport() host.Report {
	return host.Report{
		Time: time.Unix(1700000000, 123),
		Stats: engine.Stats{
			Blocks:          1000,
			Samples:         256000,
			MIDIEvents:      12,
			MalformedEvents: 1,
			RenderErrors:    2,
		},
		Metrics: monitor.Metrics{
			CPU:       0.25,
			AverageMs: 1.5,
			MaxMs:     3,
			Dropouts:  4,
			Stressed:  true,
		},
		LoaderState:  "error",
		Generation:   3,
		ActiveVoices: 5,
		PeakLeft:     0.5,
		PeakRight:    0.75,
	}
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPacketSize(t *testing.T) {
	if PacketSize != 84 {
		t.Errorf("PacketSize = %d, want 84", PacketSize)
	}
}

func TestNewPacket(t *testing.T) {
	p := NewPacket(9, testReport())
	want := Packet{
		Sequence:     9,
		Timestamp:    1700000000000000123,
		Blocks:       1000,
		Samples:      256000,
		MIDIEvents:   12,
		Errors:       3,
		Dropouts:     4,
		Generation:   3,
		ActiveVoices: 5,
		LoaderState:  3,
		Stressed:     1,
		CPU:          0.25,
		AverageMs:    1.5,
		MaxMs:        3,
		PeakLeft:     0.5,
		PeakRight:    0.75,
	}
	if p != want {
		t.Errorf("packet = %+v\nwant     %+v", p, want)
	}
}

func TestLoaderCode(t *testing.T) {
	tests := []struct {
		name string
		want uint8
	}{
		{"idle", 0},
		{"in-progress", 1},
		{"completed", 2},
		{"error", 3},
		{"bogus", 0},
	}
	for _, tt := range tests {
		if got := loaderCode(tt.name); got != tt.want {
			t.Errorf("loaderCode(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	if _, err := Decode(make([]byte, PacketSize-1)); err == nil {
		t.Error("expected error for short packet")
	}
}

func TestTransportSendsSequencedPackets(t *testing.T) {
	rx := listen(t)
	tr, err := NewTransport(rx.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	r := testReport()
	if err := tr.Send(r); err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(&r); err != nil {
		t.Fatal(err)
	}
	if err := tr.Send("not a report"); err == nil {
		t.Error("expected error for unsupported type")
	}

	buf := make([]byte, 512)
	for seq := uint32(1); seq <= 2; seq++ {
		_ = rx.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, _, err := rx.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		p, err := Decode(buf[:n])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.Sequence != seq || p.Blocks != 1000 || p.PeakRight != 0.75 {
			t.Errorf("packet %d = %+v", seq, p)
		}
	}
}

func TestSenderClosed(t *testing.T) {
	rx := listen(t)
	s, err := NewSender(rx.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := s.Write([]byte{1}); err != errClosed {
		t.Errorf("Write after Close = %v", err)
	}
}

func TestNewSenderBadAddress(t *testing.T) {
	if _, err := NewSender("not-an-address"); err == nil {
		t.Error("expected resolve error")
	}
}
