package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/bar"
	"github.com/roffe/canfw/pkg/board"
	"github.com/roffe/canfw/pkg/sim"
	"github.com/roffe/canfw/pkg/telemetry"
	"github.com/roffe/canfw/pkg/uid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	flagNodes     = "nodes"
	flagFrames    = "frames"
	flagPeriod    = "period"
	flagStep      = "step"
	flagMonitor   = "monitor"
	flagBusOff    = "busoff"
	flagStall     = "stall"
	flagRetry     = "retry-depth"
	trafficBase   = 0x100
	trafficIDs    = 8
	generatorName = "generator"
)

func init() {
	rootCmd.AddCommand(simCmd)
	f := simCmd.Flags()
	f.IntP(flagNodes, "n", 3, "number of boards, alternating bxcan and fdcan")
	f.IntP(flagFrames, "f", 1000, "traffic frames to put on the bus")
	f.Duration(flagPeriod, 50*time.Millisecond, "heartbeat period")
	f.Duration(flagStep, 50*time.Microsecond, "bus step interval")
	f.BoolP(flagMonitor, "m", false, "print frames seen by the first board")
	f.Int(flagBusOff, 0, "drive this node bus-off at start")
	f.Int(flagStall, 0, "stall this node for the first half of the run")
	f.Int(flagRetry, canfw.DefaultRetryDepth, "retry ring size per board")
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "run simulated boards on a modelled bus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := baudRate(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		nodes, _ := f.GetInt(flagNodes)
		frames, _ := f.GetInt(flagFrames)
		period, _ := f.GetDuration(flagPeriod)
		step, _ := f.GetDuration(flagStep)
		monitor, _ := f.GetBool(flagMonitor)
		busOff, _ := f.GetInt(flagBusOff)
		stall, _ := f.GetInt(flagStall)
		retryDepth, _ := f.GetInt(flagRetry)
		debug, _ := f.GetBool(flagDebug)
		mqttURL, _ := f.GetString(flagMQTT)
		if nodes < 1 || nodes > 0xFF {
			return fmt.Errorf("nodes must be 1-255, got %d", nodes)
		}

		bus := sim.NewBus(sim.Options{StepInterval: step})
		boards, err := startBoards(cmd.Context(), bus, nodes, rate, period, retryDepth, debug)
		if err != nil {
			return err
		}
		if busOff > 0 && busOff <= nodes {
			log.Printf("node%d bus-off", busOff)
			boards[busOff-1].Controller().InjectBusOff()
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		if mqttURL != "" {
			pub, err := telemetry.NewPublisherFromURL(mqttURL)
			if err != nil {
				return err
			}
			if err := pub.Connect(0); err != nil {
				return err
			}
			defer pub.Close()
			sub := boards[0].Subscribe(256)
			defer sub.Close()
			g.Go(func() error { return pub.Run(gctx, sub.Chan()) })
			defer func() {
				for _, b := range boards {
					pub.PublishStats(b.Name(), b.Stats())
				}
			}()
		}

		if monitor {
			sub := boards[0].Subscribe(64)
			defer sub.Close()
			g.Go(func() error {
				for {
					f, err := sub.Wait(gctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), f.ColorString())
				}
			})
		}

		gen := sim.NewTap(generatorName)
		bus.Attach(gen)
		if !monitor {
			pb := bar.Frames(frames, "traffic")
			bus.OnFrame(func(from string, _ canfw.Frame) {
				if from == generatorName {
					pb.Add(1)
				}
			})
			defer pb.Finish()
		}

		g.Go(func() error { return bus.Run(gctx) })
		for _, b := range boards {
			b := b
			g.Go(func() error { return b.Run(gctx) })
		}
		g.Go(func() error {
			defer cancel()
			return generate(gctx, gen, frames, step, func(sent int) {
				if stall > 0 && stall <= nodes && (sent == 1 || sent == frames/2) {
					on := sent == 1
					log.Printf("node%d stalled: %t", stall, on)
					boards[stall-1].Controller().SetStalled(on)
				}
			})
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		report(boards)
		return nil
	},
}

func startBoards(ctx context.Context, bus *sim.Bus, n int, rate canfw.BaudRate, period time.Duration, retryDepth int, debug bool) ([]*board.Board, error) {
	host, err := uid.FromMachine("canbench")
	if err != nil {
		log.Printf("no machine id, using zero uid: %v", err)
	}
	ids := make([]uint32, 0, n+trafficIDs)
	for i := 1; i <= n; i++ {
		ids = append(ids, board.HeartbeatBase+uint32(i))
	}
	for i := 0; i < trafficIDs; i++ {
		ids = append(ids, trafficBase+uint32(i))
	}

	level := canfw.EventTypeWarning
	if debug {
		level = canfw.EventTypeDebug
	}
	boards := make([]*board.Board, n)
	for i := range boards {
		id := host
		id[2] += uint32(i)
		kind := canfw.Classic
		if i%2 == 1 {
			kind = canfw.Flexible
		}
		name := fmt.Sprintf("node%d", i+1)
		cfg := board.Config{
			Name:            name,
			Kind:            kind,
			Rate:            rate,
			IDs:             ids,
			NodeID:          uint8(i + 1),
			HeartbeatPeriod: period,
			RetryDepth:      retryDepth,
			UID:             id,
			OnEvent: canfw.FilterEvents(level, func(e canfw.Event) {
				log.Printf("%s: %s", name, e)
			}),
		}
		err := retry.Do(
			func() error {
				b, err := board.New(bus, cfg)
				if err != nil {
					return err
				}
				boards[i] = b
				return nil
			},
			retry.Context(ctx),
			retry.Attempts(3),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return nil, err
		}
		if debug {
			log.Printf("%s %s uid %s", name, kind, boards[i].UID())
		}
	}
	return boards, nil
}

// generate queues count frames on the generator tap, keeping its queue
// short so the boards' heartbeats interleave.
func generate(ctx context.Context, gen *sim.Tap, count int, step time.Duration, progress func(sent int)) error {
	if step <= 0 {
		step = time.Microsecond
	}
	for i := 0; i < count; i++ {
		for gen.Pending() >= 4 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step):
			}
		}
		var data [8]byte
		data[0], data[1] = byte(i>>8), byte(i)
		gen.Send(canfw.NewFrameLen(trafficBase+uint32(i%trafficIDs), 8, data, false))
		progress(i + 1)
	}
	for gen.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}
	return nil
}

func report(boards []*board.Board) {
	for _, b := range boards {
		log.Printf("%s (%s): %s", b.Name(), b.Config().Kind, b.Stats())
		for _, peer := range boards {
			if peer == b {
				continue
			}
			if f, ok := b.Latest(peer.Config().HeartbeatID); ok {
				if hb, ok := board.ParseHeartbeat(f); ok {
					log.Printf("  heard %s", hb)
				}
			}
		}
	}
}
