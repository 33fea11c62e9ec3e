package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/roffe/canfw"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "canbench",
	Short:        "CAN firmware bench",
	Long:         `Runs simulated controller boards on a modelled bus and bridges it to the outside world.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagRate  = "rate"
	flagDebug = "debug"
	flagMQTT  = "mqtt"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.Uint32P(flagRate, "r", 500, "CAN bitrate in kbit/s")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.String(flagMQTT, "", "publish traffic to this broker, e.g. mqtt://localhost:1883/bench")
}

func baudRate(cmd *cobra.Command) (canfw.BaudRate, error) {
	kbps, err := cmd.Flags().GetUint32(flagRate)
	if err != nil {
		return 0, err
	}
	rate, ok := canfw.LookupBaudRate(kbps)
	if !ok {
		return 0, fmt.Errorf("%d kbit/s is not supported on %s", kbps, canfw.Family)
	}
	return rate, nil
}

// parseIDs reads identifiers given as hex, with or without 0x, or as
// comma separated lists.
func parseIDs(args []string) ([]uint32, error) {
	var ids []uint32
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
			id, err := strconv.ParseUint(s, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("bad identifier %q: %w", s, err)
			}
			ids = append(ids, uint32(id))
		}
	}
	return ids, nil
}
