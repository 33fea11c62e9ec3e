package cmd

import (
	"fmt"
	"io"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/bxcan"
	"github.com/roffe/canfw/fdcan"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(filtersCmd)
	filtersCmd.Flags().BoolP("extended", "x", false, "identifiers are 29 bit")
}

var filtersCmd = &cobra.Command{
	Use:   "filters <id>...",
	Short: "show how identifiers are spread over the filter banks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		extended, err := cmd.Flags().GetBool("extended")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		perBank, banks := bxcan.StdIDsPerBank, bxcan.NumFilterBanks
		if extended {
			perBank = bxcan.ExtIDsPerBank
		}
		if err := printPartition(out, "bxcan", ids, perBank, banks); err != nil {
			return err
		}
		banks = fdcan.StdFilterBanks
		if extended {
			banks = fdcan.ExtFilterBanks
		}
		return printPartition(out, "fdcan", ids, fdcan.IDsPerFilter, banks)
	},
}

func printPartition(w io.Writer, name string, ids []uint32, perBank, banks int) error {
	fmt.Fprintf(w, "%s: %d ids, %d per bank, %d banks\n", name, len(ids), perBank, banks)
	fits, err := canfw.PartitionIDs(ids, perBank, banks, func(bank int, group []uint32) error {
		fmt.Fprintf(w, "  bank %2d:", bank)
		for _, id := range group {
			fmt.Fprintf(w, " 0x%03X", id)
		}
		fmt.Fprintln(w)
		return nil
	})
	if err != nil {
		return err
	}
	if !fits {
		fmt.Fprintf(w, "  does not fit, accepting everything\n")
	}
	return nil
}
