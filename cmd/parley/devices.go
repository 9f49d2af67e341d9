package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/pkg/audio/device"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio devices usable as audio.input_device and audio.output_device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := device.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tHOST API\tIN\tOUT\tRATE\tDEFAULT")
			for _, d := range infos {
				def := ""
				switch {
				case d.DefaultInput && d.DefaultOutput:
					def = "in,out"
				case d.DefaultInput:
					def = "in"
				case d.DefaultOutput:
					def = "out"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.0f\t%s\n",
					d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate, def)
			}
			return tw.Flush()
		},
	}
}
