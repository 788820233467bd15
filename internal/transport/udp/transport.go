// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"fmt"
	"sync"

	"instrument/internal/host"
	applog "instrument/internal/log"
	"instrument/internal/transport"
)

// Transport encodes each host.Report as a Packet and sends it.
type Transport struct {
	sender *Sender

	mu  sync.Mutex
	seq uint32
	buf bytes.Buffer
}

// NewTransport dials targetAddress.
func NewTransport(targetAddress string) (*Transport, error) {
	s, err := NewSender(targetAddress)
	if err != nil {
		return nil, err
	}
	return &Transport{sender: s}, nil
}

// Send accepts a host.Report or *host.Report.
func (t *Transport) Send(data any) error {
	var r host.Report
	switch v := data.(type) {
	case host.Report:
		r = v
	case *host.Report:
		r = *v
	default:
		return fmt.Errorf("udp transport cannot send %T", data)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	p := NewPacket(t.seq, r)
	if err := p.Encode(&t.buf); err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if err := t.sender.Write(t.buf.Bytes()); err != nil {
		return err
	}
	applog.Debugf("UDP Transport: Sent packet %d (%d bytes)", t.seq, t.buf.Len())
	return nil
}

func (t *Transport) Close() error {
	return t.sender.Close()
}

var _ transport.Transport = (*Transport)(nil)
