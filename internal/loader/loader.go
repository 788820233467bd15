// SPDX-License-Identifier: MIT
/*
Package loader builds a voice engine in the background and hands it over once
it is fully initialized.

A load runs four phases on its own goroutine: one-time sample-format
initialization, engine construction, sample loading for the target rate and
real-time preparation. The stop request is checked between phases; an
interrupted load returns to Idle and never reaches Completed. A failed load
moves to Error with its message and leaves whatever engine is already playing
untouched.

	Idle -> InProgress -> Completed | Error -> (Take or Stop) -> Idle

State reads are lock-free. The error message sits behind its own mutex and
the control calls (Start, Stop, Take) are serialized by another; the audio
callback uses neither.
*/
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"instrument/internal/config"
	applog "instrument/internal/log"
	"instrument/internal/voice"
)

// State is the loader's position in its lifecycle.
type State int32

const (
	Idle State = iota
	InProgress
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InProgress:
		return "in-progress"
	case Completed:
		return "completed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrInterrupted is returned by a phase that observed a stop request.
var ErrInterrupted = errors.New("load interrupted")

// Request describes what to load.
type Request struct {
	SampleDir  string
	SampleRate float64 // one of config.SupportedSampleRates
	BlockSize  int
}

// Validate checks the request against the supported configuration.
func (r Request) Validate() error {
	if r.SampleDir == "" {
		return errors.New("sample directory is empty")
	}
	if !config.IsSupportedSampleRate(r.SampleRate) {
		return fmt.Errorf("unsupported sample rate %.0f Hz", r.SampleRate)
	}
	if r.BlockSize <= 0 || r.BlockSize > config.MaxBlockSize {
		return fmt.Errorf("block size %d outside (0, %d]", r.BlockSize, config.MaxBlockSize)
	}
	return nil
}

// Instance is an engine under construction. Once PrepareRealtime succeeds it
// is ready for the audio callback.
type Instance interface {
	voice.Engine
	LoadSamples(ctx context.Context, dir string, sampleRate float64) error
	PrepareRealtime(blockSize int) error
	Name() string
}

// Builder supplies the phases a load runs.
type Builder interface {
	// InitFormats performs process-wide format setup. It is called on every
	// load and must be idempotent.
	InitFormats() error
	Construct(req Request) (Instance, error)
}

// Loaded is the product of a successful load. Ownership of Engine passes to
// whoever takes it.
type Loaded struct {
	Engine     Instance
	Instrument string
	Request    Request
	Elapsed    time.Duration
}

type resultKind uint8

const (
	resultEngine resultKind = iota + 1
	resultError
)

// result is the single hand-off value between the worker and the caller.
type result struct {
	kind   resultKind
	loaded Loaded
	err    error
}

// Loader runs at most one background load at a time.
type Loader struct {
	builder Builder

	state  atomic.Int32
	result atomic.Pointer[result]

	errMu  sync.Mutex
	errMsg string

	ctl    sync.Mutex // serializes Start, Stop and Take
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle loader.
func New(b Builder) *Loader {
	return &Loader{builder: b}
}

// State returns the current state. Lock-free.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// ErrorMessage returns the message of the last failed load, or "".
func (l *Loader) ErrorMessage() string {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.errMsg
}

// Start begins a load. A load already in progress is stopped first and any
// result not yet taken is discarded. Invalid requests are rejected without
// changing state.
func (l *Loader) Start(req Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid load request: %w", err)
	}

	l.ctl.Lock()
	defer l.ctl.Unlock()

	l.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.setErrorMessage("")
	l.state.Store(int32(InProgress))

	applog.Infof("Loader: Loading %s at %.0f Hz (block %d)", req.SampleDir, req.SampleRate, req.BlockSize)
	go l.run(ctx, req, done)
	return nil
}

// Stop interrupts a running load and waits for the worker to exit. It always
// leaves the loader Idle, discarding an untaken result. Idempotent.
func (l *Loader) Stop() {
	l.ctl.Lock()
	defer l.ctl.Unlock()
	l.stopLocked()
}

// Take hands over the loaded engine. It only succeeds in the Completed
// state, after which the loader is Idle and owns nothing.
func (l *Loader) Take() (Loaded, bool) {
	l.ctl.Lock()
	defer l.ctl.Unlock()

	if l.State() != Completed {
		return Loaded{}, false
	}
	res := l.result.Swap(nil)
	l.joinLocked()
	l.state.Store(int32(Idle))
	if res == nil || res.kind != resultEngine {
		return Loaded{}, false
	}
	return res.loaded, true
}

// Wait blocks until the current load leaves InProgress or ctx is done, and
// returns the state at that point. Not for use on the audio thread.
func (l *Loader) Wait(ctx context.Context) State {
	l.ctl.Lock()
	done := l.done
	l.ctl.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return l.State()
}

func (l *Loader) stopLocked() {
	if l.cancel != nil {
		applog.Debugf("Loader: Stopping worker...")
		l.cancel()
	}
	l.joinLocked()

	if res := l.result.Swap(nil); res != nil && res.kind == resultEngine {
		dispose(res.loaded.Engine)
	}
	l.setErrorMessage("")
	l.state.Store(int32(Idle))
}

func (l *Loader) joinLocked() {
	if l.done != nil {
		<-l.done
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = nil
	l.done = nil
}

func (l *Loader) run(ctx context.Context, req Request, done chan struct{}) {
	defer close(done)

	start := time.Now()
	inst, err := l.build(ctx, req)

	switch {
	case ctx.Err() != nil || errors.Is(err, ErrInterrupted):
		dispose(inst)
		l.state.Store(int32(Idle))
		applog.Infof("Loader: Load of %s interrupted", req.SampleDir)

	case err != nil:
		dispose(inst)
		l.setErrorMessage(err.Error())
		l.result.Store(&result{kind: resultError, err: err})
		l.state.Store(int32(Error))
		applog.Errorf("Loader: Load of %s failed: %v", req.SampleDir, err)

	default:
		loaded := Loaded{
			Engine:     inst,
			Instrument: inst.Name(),
			Request:    req,
			Elapsed:    time.Since(start),
		}
		l.result.Store(&result{kind: resultEngine, loaded: loaded})
		l.state.Store(int32(Completed))
		applog.Infof("Loader: Loaded %q in %s", loaded.Instrument, loaded.Elapsed.Round(time.Millisecond))
	}
}

// build runs the four phases, checking for a stop request between them.
// A panic in any phase is reported as a failure.
func (l *Loader) build(ctx context.Context, req Request) (inst Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load panicked: %v", r)
		}
	}()

	checkpoint := func() error {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return nil
	}

	if err := l.builder.InitFormats(); err != nil {
		return nil, fmt.Errorf("format initialization: %w", err)
	}
	if err := checkpoint(); err != nil {
		return nil, err
	}

	inst, err = l.builder.Construct(req)
	if err != nil {
		return nil, fmt.Errorf("engine construction: %w", err)
	}
	if err := checkpoint(); err != nil {
		return inst, err
	}

	if err := inst.LoadSamples(ctx, req.SampleDir, req.SampleRate); err != nil {
		if ctx.Err() != nil {
			return inst, ErrInterrupted
		}
		return inst, fmt.Errorf("sample loading: %w", err)
	}
	if err := checkpoint(); err != nil {
		return inst, err
	}

	if err := inst.PrepareRealtime(req.BlockSize); err != nil {
		return inst, fmt.Errorf("real-time preparation: %w", err)
	}
	if err := checkpoint(); err != nil {
		return inst, err
	}
	return inst, nil
}

func (l *Loader) setErrorMessage(msg string) {
	l.errMu.Lock()
	l.errMsg = msg
	l.errMu.Unlock()
}

func dispose(inst Instance) {
	if inst == nil {
		return
	}
	if c, ok := inst.(io.Closer); ok {
		if err := c.Close(); err != nil {
			applog.Warnf("Loader: Error releasing discarded engine: %v", err)
		}
	}
}
