// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"time"

	"instrument/internal/config"
	"instrument/internal/engine"
	"instrument/internal/host"
	"instrument/internal/loader"
	applog "instrument/internal/log"
	"instrument/internal/mixer"
	"instrument/internal/params"
	"instrument/internal/transport"
	"instrument/internal/transport/udp"
)

const pollInterval = 20 * time.Millisecond

// instrument bundles the pieces every command needs: a control surface, a
// prepared processor and the coordinator that loads engines into it.
type instrument struct {
	cfg   *config.Config
	proc  *engine.Processor
	coord *host.Coordinator
}

func processorOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		Mixer: mixer.Settings{
			LowEnergyThreshold:  float32(cfg.Mixer.LowEnergyThreshold),
			Strength:            float32(cfg.Mixer.Strength),
			SaturationThreshold: float32(cfg.Mixer.SaturationThreshold),
		},
		StressThreshold: cfg.Monitor.StressThreshold,
	}
}

// newInstrument builds and prepares a processor at the configured rate and
// block size. Nothing is loaded yet.
func newInstrument(cfg *config.Config, builder loader.Builder) (*instrument, error) {
	surface := params.NewSurface()
	proc, err := engine.NewProcessor(engine.NewSlot(), surface, processorOptions(cfg))
	if err != nil {
		return nil, err
	}
	if err := proc.Prepare(cfg.Audio.SampleRate, cfg.Audio.BlockSize); err != nil {
		return nil, fmt.Errorf("prepare processor: %w", err)
	}
	return &instrument{
		cfg:   cfg,
		proc:  proc,
		coord: host.New(proc, loader.New(builder), surface),
	}, nil
}

func (in *instrument) Close() {
	in.coord.Close()
}

// startPublishers starts the report publishers enabled in cfg. The returned
// slice is closed in order on shutdown.
func startPublishers(cfg config.TransportConfig, coord *host.Coordinator, debug bool) ([]*transport.Publisher, error) {
	source := func() any { return coord.Report() }
	var pubs []*transport.Publisher

	var reportTransports []transport.Transport
	if cfg.WSEnabled {
		ws, err := transport.NewWebSocketTransport(cfg.WSAddress)
		if err != nil {
			return nil, err
		}
		applog.Infof("Reports: WebSocket clients can connect to ws://%s/ws", ws.Addr())
		reportTransports = append(reportTransports, ws)
	}
	if debug {
		reportTransports = append(reportTransports, transport.NewLoggingTransport())
	}
	if len(reportTransports) > 0 {
		p, err := transport.NewPublisher(cfg.ReportInterval, source, reportTransports...)
		if err != nil {
			closeAll(reportTransports)
			return nil, err
		}
		pubs = append(pubs, p)
	}

	if cfg.UDPEnabled {
		t, err := udp.NewTransport(cfg.UDPTargetAddress)
		if err != nil {
			closePublishers(pubs)
			return nil, err
		}
		p, err := transport.NewPublisher(cfg.UDPSendInterval, source, t)
		if err != nil {
			t.Close()
			closePublishers(pubs)
			return nil, err
		}
		pubs = append(pubs, p)
	}

	for _, p := range pubs {
		p.Start()
	}
	return pubs, nil
}

func closeAll(ts []transport.Transport) {
	for _, t := range ts {
		if err := t.Close(); err != nil {
			applog.Warnf("Reports: %v", err)
		}
	}
}

func closePublishers(pubs []*transport.Publisher) {
	for _, p := range pubs {
		if err := p.Close(); err != nil {
			applog.Warnf("Reports: %v", err)
		}
	}
}
