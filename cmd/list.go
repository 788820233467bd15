// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"instrument/internal/audio"
	"instrument/internal/tui"
)

func newListCmd(flags *flagOverrides) *cobra.Command {
	var interactive bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List audio output devices and MIDI inputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd, flags); err != nil {
				return err
			}
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()

			if interactive {
				return pickDevice(cmd.OutOrStdout())
			}
			if err := audio.ListDevices(cmd.OutOrStdout()); err != nil {
				return err
			}
			return printMIDIInputs(cmd.OutOrStdout())
		},
	}
	c.Flags().BoolVarP(&interactive, "interactive", "i", false, "Choose a device and sample rate interactively")
	return c
}

func pickDevice(w io.Writer) error {
	sel, ok, err := tui.RunDevicePicker()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	fmt.Fprintf(w, "# %s\naudio:\n  output_device: %d\n  sample_rate: %.0f\n",
		sel.DeviceName, sel.DeviceID, sel.SampleRate)
	return nil
}

func printMIDIInputs(w io.Writer) error {
	names, err := listMIDIInputs()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nMIDI inputs:")
	if len(names) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, name := range names {
		fmt.Fprintf(w, "  [%d] %s\n", i, name)
	}
	return nil
}
