package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/canfw"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(timingCmd)
}

var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "list the bit timings of the compiled family",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		color.New(color.Bold).Fprintf(out, "%s (%s) peripheral clock %d Hz\n", canfw.Family, canfw.FamilyKind, canfw.PeripheralClock)
		for _, r := range canfw.SupportedBaudRates() {
			timing := r.Rate.Timing()
			actual := timing.BitRate(canfw.PeripheralClock)
			nominal := r.Kbps * 1000
			line := fmt.Sprintf("%5d kbit/s  %-48s actual %7d bit/s", r.Kbps, timing, actual)
			if actual != nominal {
				color.New(color.FgYellow).Fprintf(out, "%s (%+.1f%%)\n", line, 100*(float64(actual)-float64(nominal))/float64(nominal))
				continue
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}
