// Command deskxferd is a demonstration host for the deskxfer engines:
// each subcommand (send, receive, drag-demo) wires one engine to its own
// in-process bus.Hub, speaking the same protocol two real desktop
// applications would speak across a window-manager message port, and
// serves the resulting prometheus metrics for inspection.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	deskxfer "github.com/ehrlich-b/go-deskxfer"
	"github.com/ehrlich-b/go-deskxfer/internal/bus"
	"github.com/ehrlich-b/go-deskxfer/internal/heap"
	"github.com/ehrlich-b/go-deskxfer/internal/logging"
	"github.com/ehrlich-b/go-deskxfer/internal/scheduler"
	"github.com/ehrlich-b/go-deskxfer/internal/wire"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		metricsAddr string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "deskxferd",
		Short: "Demonstration host for the deskxfer transfer engines",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a deskxfer YAML config file")
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9110", "address to serve Prometheus metrics on")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newSendCmd(&configPath, &metricsAddr, &verbose))
	cmd.AddCommand(newReceiveCmd(&configPath, &metricsAddr, &verbose))
	cmd.AddCommand(newDragDemoCmd(&configPath, &metricsAddr, &verbose))
	return cmd
}

func loadConfig(path string) (*deskxfer.Config, error) {
	if path == "" {
		return deskxfer.DefaultConfig(), nil
	}
	return deskxfer.LoadConfig(path)
}

func newLogger(verbose bool) *logging.Logger {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	return logging.NewLogger(cfg)
}

func serveMetrics(addr string, collector prometheus.Collector, log *logging.Logger) func() {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
	return func() { srv.Close() }
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func newSendCmd(configPath, metricsAddr *string, verbose *bool) *cobra.Command {
	var (
		peer     string
		leafName string
		data     string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Offer a piece of data to a peer endpoint on an in-process bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			metrics := deskxfer.NewMetrics()
			stop := serveMetrics(*metricsAddr, metrics, log)
			defer stop()

			hub := bus.NewHub()
			b := hub.Endpoint("deskxferd-send")
			alloc := heap.NewPooledAllocator()
			pin := heap.NewPinCoordinator(alloc)
			fs := deskxfer.NewOSFileSystem()
			snd := deskxfer.NewSender(b, alloc, pin, fs, metrics, log)
			snd.Init()

			payload := []byte(data)
			done := make(chan struct{})
			_, err := snd.SendData(context.Background(), wire.PeerID(peer), deskxfer.OfferDescriptor{LeafName: leafName}, nil, payload, 0, uint64(len(payload)), nil,
				func(success bool, sendErr error, destPath string, handle interface{}) {
					if success {
						fmt.Printf("transfer to %s completed\n", peer)
					} else {
						fmt.Printf("transfer to %s failed: %v\n", peer, sendErr)
					}
					close(done)
				},
				nil,
			)
			if err != nil {
				return err
			}

			for {
				if hub.Pump() == 0 {
					break
				}
			}
			<-done
			return nil
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "deskxferd-recv", "peer id to offer the data to")
	cmd.Flags().StringVar(&leafName, "name", "payload.bin", "leaf name to advertise")
	cmd.Flags().StringVar(&data, "data", "hello from deskxferd", "literal data to send")
	return cmd
}

func newReceiveCmd(configPath, metricsAddr *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Run a long-lived receiver endpoint, printing completed transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(*verbose)
			metrics := deskxfer.NewMetrics()
			stop := serveMetrics(*metricsAddr, metrics, log)
			defer stop()

			hub := bus.NewHub()
			b := hub.Endpoint("deskxferd-recv")
			clock := deskxfer.NewSystemClock()
			sched := scheduler.New(clock, cfg.SchedulerSlice())
			alloc := heap.NewPooledAllocator()
			pin := heap.NewPinCoordinator(alloc)
			fs := deskxfer.NewOSFileSystem()
			recv := deskxfer.NewReceiver(b, sched, alloc, pin, fs, clock, metrics, log, cfg)
			recv.Init()
			recv.SetOfferHandler(func(offer deskxfer.OfferDescriptor) (deskxfer.OnDataFunc, deskxfer.OnFailFunc, interface{}, bool) {
				return func(o deskxfer.OfferDescriptor, data []byte) {
						fmt.Printf("received %d bytes from %s (%s)\n", len(data), o.Peer, o.LeafName)
					}, func(err error) {
						fmt.Printf("receive failed: %v\n", err)
					}, nil, true
			})

			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			go func() {
				for range ticker.C {
					hub.Pump()
					sched.Dispatch()
				}
			}()

			fmt.Println("listening as deskxferd-recv, press Ctrl+C to stop")
			waitForSignal()
			return nil
		},
	}
	return cmd
}

func newDragDemoCmd(configPath, metricsAddr *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drag-demo",
		Short: "Run a scripted drag-and-drop exchange between two in-process peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			metrics := deskxfer.NewMetrics()
			stop := serveMetrics(*metricsAddr, metrics, log)
			defer stop()

			hub := bus.NewHub()
			clock := deskxfer.NewMockClock(time.Now())
			sched := scheduler.New(clock, 200*time.Millisecond)
			dragBus := hub.Endpoint("deskxferd-drag-source")
			host := deskxfer.StaticHostQuery{Window: 1, Icon: 1, X: 100, Y: 80}
			drag := deskxfer.NewDrag(dragBus, sched, host, metrics, log)
			drag.Init()

			target := hub.Endpoint("deskxferd-drag-target")
			target.RegisterWindowIcon(1, 1)
			target.InstallHandler(wire.KindDragging, func(env bus.Envelope) bool {
				msg := env.Payload.(*wire.DraggingMsg)
				claim := &wire.DragClaimMsg{YourRef: msg.MyRef, FileKinds: []uint32{0x1}}
				target.Send("deskxferd-drag-source", wire.KindDragClaim, claim, false)
				return true
			})

			fmt.Println("drag-demo: running a scripted drag over one in-process target")
			err := drag.Start([]uint32{0x1}, wire.AbsentRect, func(op deskxfer.DragBoxOp, useSolid bool, x, y int32, handle interface{}) error {
				fmt.Printf("drag box op=%v at (%d,%d)\n", op, x, y)
				return nil
			}, func(shiftHeld bool, window, icon uint32, x, y int32, fileKind uint32, claimantTask wire.PeerID, claimantRef uint32, handle interface{}) bool {
				fmt.Printf("drop resolved kind=%x claimant=%s\n", fileKind, claimantTask)
				return true
			}, nil)
			if err != nil {
				return err
			}

			clock.Advance(100 * time.Millisecond)
			sched.Dispatch()
			hub.Pump()
			drag.Drop()
			hub.Pump()

			return nil
		},
	}
	return cmd
}
