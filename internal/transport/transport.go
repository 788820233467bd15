// SPDX-License-Identifier: MIT
/*
Package transport sends instrument reports off the machine.

A Publisher samples a report source on a ticker and hands each value to its
transports. The WebSocket transport broadcasts JSON to every connected
client, the logging transport writes one log line per report, and the udp
subpackage sends a fixed binary packet.
*/
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	applog "instrument/internal/log"
)

// Transport delivers reports. Implementations must be safe for use from the
// publisher goroutine while Close is called from another.
type Transport interface {
	Send(data any) error
	Close() error
}

// Source produces the value published on each tick.
type Source func() any

const defaultInterval = 250 * time.Millisecond

// Publisher periodically sends the output of a source to its transports.
type Publisher struct {
	source     Source
	transports []Transport
	interval   time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	sent   uint64
	failed uint64
}

// NewPublisher creates a stopped publisher. An interval <= 0 falls back to
// 250ms.
func NewPublisher(interval time.Duration, source Source, transports ...Transport) (*Publisher, error) {
	if source == nil {
		return nil, errors.New("publisher: source cannot be nil")
	}
	if len(transports) == 0 {
		return nil, errors.New("publisher: no transports")
	}
	if interval <= 0 {
		interval = defaultInterval
		applog.Warnf("Publisher: Invalid interval provided, defaulting to %s", interval)
	}
	return &Publisher{
		source:     source,
		transports: transports,
		interval:   interval,
	}, nil
}

// Start launches the publishing goroutine. Calling Start on a running
// publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Publisher: Start called but already running.")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker := p.ticker
	done := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("Publisher: Started (interval %s, %d transports)", p.interval, len(p.transports))
		for {
			select {
			case <-ticker.C:
				p.Publish()
			case <-done:
				return
			}
		}
	}()
}

// Publish sends one value from the source to every transport.
func (p *Publisher) Publish() {
	data := p.source()
	for _, t := range p.transports {
		if err := t.Send(data); err != nil {
			p.mu.Lock()
			p.failed++
			p.mu.Unlock()
			applog.Debugf("Publisher: Send via %T failed: %v", t, err)
			continue
		}
		p.mu.Lock()
		p.sent++
		p.mu.Unlock()
	}
}

// Counts returns the number of successful and failed sends.
func (p *Publisher) Counts() (sent, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.failed
}

// Stop halts the publishing goroutine and waits for it. Idempotent.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Close stops the publisher and closes every transport.
func (p *Publisher) Close() error {
	_ = p.Stop()
	var errs []error
	for _, t := range p.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", t, err))
		}
	}
	return errors.Join(errs...)
}
