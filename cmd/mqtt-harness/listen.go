package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mqtt-test-harness/internal/harness"
)

type listenOptions struct {
	qos      uint8
	duration time.Duration
}

func newListenCmd() *cobra.Command {
	var opts listenOptions

	cmd := &cobra.Command{
		Use:   "listen FILTER...",
		Short: "Print messages received on one or more topic filters",
		Example: `  mqtt-harness listen 'home/+/telemetry'
  mqtt-harness listen --duration 30s 'home/#' '$SYS/#'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.Uint8VarP(&opts.qos, "qos", "q", 1, "QoS for the subscriptions")
	flags.DurationVarP(&opts.duration, "duration", "d", 0, "stop after this long (0 = until interrupted)")
	return cmd
}

func runListen(cmd *cobra.Command, filters []string, opts listenOptions) error {
	rt, err := newRuntime(rootOpts)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	client := rt.newClient()
	if err := client.ConnectConfig(ctx, rt.cfg.MQTT); err != nil {
		return err
	}
	defer client.Disconnect()

	for _, filter := range filters {
		if err := client.Subscribe(filter, opts.qos); err != nil {
			return err
		}
	}

	out := &lockedWriter{w: cmd.OutOrStdout()}
	g, gctx := errgroup.WithContext(ctx)
	for _, filter := range filters {
		filter := filter
		g.Go(func() error {
			return printMessages(gctx, client, filter, out)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	snap := client.Metrics()
	rt.log.Info("listen finished",
		"filters", filters,
		"messagesReceived", snap.MessagesReceived,
		"receiveRate", client.ReceiveRate())
	return nil
}

// printMessages writes each message for filter to out until ctx is done.
func printMessages(ctx context.Context, client *harness.Client, filter string, out io.Writer) error {
	for {
		msg, err := client.WaitForMessageContext(ctx, filter)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "%s %s qos=%d retained=%t %s\n",
			msg.ReceivedAt.Format(time.RFC3339Nano), msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	}
}

// lockedWriter serializes whole-line writes from concurrent listeners.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
