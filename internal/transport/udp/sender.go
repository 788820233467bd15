// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	applog "instrument/internal/log"
)

var errClosed = errors.New("UDP sender is closed")

// Sender writes datagrams to one target address.
type Sender struct {
	conn   *net.UDPConn
	mu     sync.Mutex // protects conn during Close
	closed bool
}

// NewSender dials targetAddress, given as "host:port".
func NewSender(targetAddress string) (*Sender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}
	applog.Infof("UDP Sender: Connection established to %s", conn.RemoteAddr())
	return &Sender{conn: conn}, nil
}

// Write sends data as one packet. Safe for concurrent use.
func (s *Sender) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return nil
}

// Close closes the connection. Idempotent.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	applog.Debugf("UDP Sender: Closing connection to %s", s.conn.RemoteAddr())
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}
