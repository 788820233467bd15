// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"instrument/internal/events"
	applog "instrument/internal/log"
)

// matchPort picks a port by index or by case-insensitive name substring.
func matchPort(names []string, want string) (int, error) {
	if idx, err := strconv.Atoi(want); err == nil {
		if idx < 0 || idx >= len(names) {
			return -1, fmt.Errorf("MIDI input %d out of range (%d ports)", idx, len(names))
		}
		return idx, nil
	}
	want = strings.ToLower(want)
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), want) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("no MIDI input matching %q", want)
}

func inputNames(ins []drivers.In) []string {
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	return names
}

// listenMIDI opens the matching input port and pushes every message onto q.
// The returned func stops listening and closes the driver.
func listenMIDI(port string, q *events.Queue) (func(), error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("open MIDI driver: %w", err)
	}
	ins, err := drv.Ins()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("list MIDI inputs: %w", err)
	}
	idx, err := matchPort(inputNames(ins), port)
	if err != nil {
		drv.Close()
		return nil, err
	}
	in := ins[idx]
	if err := in.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open MIDI input %q: %w", in.String(), err)
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		if !q.Push(msg) {
			applog.Debugf("MIDI: Queue full, dropped %s", msg)
		}
	}, midi.HandleError(func(err error) {
		applog.Warnf("MIDI: %v", err)
	}))
	if err != nil {
		in.Close()
		drv.Close()
		return nil, fmt.Errorf("listen on %q: %w", in.String(), err)
	}
	applog.Infof("MIDI: Listening on %s", in.String())

	return func() {
		stop()
		in.Close()
		drv.Close()
	}, nil
}

// listMIDIInputs returns the names of the available MIDI inputs.
func listMIDIInputs() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("open MIDI driver: %w", err)
	}
	defer drv.Close()
	ins, err := drv.Ins()
	if err != nil {
		return nil, fmt.Errorf("list MIDI inputs: %w", err)
	}
	return inputNames(ins), nil
}
