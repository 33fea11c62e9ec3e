package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/avast/retry-go"
	"github.com/manifoldco/promptui"
	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/sim"
	"github.com/roffe/canfw/pkg/slcan"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"golang.org/x/sync/errgroup"
)

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
)

func init() {
	rootCmd.AddCommand(gatewayCmd)
	f := gatewayCmd.Flags()
	f.StringP(flagPort, "p", "*", "com-port, * = pick from available")
	f.IntP(flagBaudrate, "b", 115200, "serial baudrate")
	f.IntP(flagNodes, "n", 1, "simulated boards behind the gateway")
	f.Duration(flagPeriod, 500*time.Millisecond, "heartbeat period")
	f.Duration(flagStep, 50*time.Microsecond, "bus step interval")
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "expose the simulated bus as an SLCAN adapter on a serial port",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rate, err := baudRate(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		portName, _ := f.GetString(flagPort)
		baudrate, _ := f.GetInt(flagBaudrate)
		nodes, _ := f.GetInt(flagNodes)
		period, _ := f.GetDuration(flagPeriod)
		step, _ := f.GetDuration(flagStep)
		debug, _ := f.GetBool(flagDebug)

		if portName == "*" {
			if portName, err = pickPort(); err != nil {
				return err
			}
		}
		port, err := openPort(ctx, portName, baudrate)
		if err != nil {
			return err
		}
		defer port.Close()
		log.Printf("gateway on %s at %d baud", portName, baudrate)

		bus := sim.NewBus(sim.Options{StepInterval: step})
		boards, err := startBoards(ctx, bus, nodes, rate, period, canfw.DefaultRetryDepth, debug)
		if err != nil {
			return err
		}

		tap := sim.NewTap("gateway")
		bridge := slcan.NewBridge(port, tap, func(msg string) {
			if debug {
				log.Println(msg)
			}
		})
		tap.OnReceive(bridge.Forward)
		bus.Attach(tap)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return bus.Run(gctx) })
		g.Go(func() error { return bridge.Run(gctx) })
		for _, b := range boards {
			b := b
			g.Go(func() error { return b.Run(gctx) })
		}
		err = g.Wait()
		rx, tx, errs := bridge.Stats()
		log.Printf("serial in %d out %d rejected %d", rx, tx, errs)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func pickPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	labels := make([]string, len(ports))
	for i, p := range ports {
		labels[i] = p.Name
		if p.IsUSB {
			labels[i] = fmt.Sprintf("%s (%s:%s %s)", p.Name, p.VID, p.PID, p.SerialNumber)
		}
	}
	prompt := promptui.Select{
		Label: "Serial port",
		Items: labels,
	}
	i, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return ports[i].Name, nil
}

func openPort(ctx context.Context, name string, baudrate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	var port serial.Port
	err := retry.Do(
		func() error {
			p, err := serial.Open(name, mode)
			if err != nil {
				return fmt.Errorf("failed to open com port %q: %w", name, err)
			}
			port = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(5 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	port.ResetInputBuffer()
	port.ResetOutputBuffer()
	return port, nil
}
