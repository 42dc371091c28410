package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mqtt-test-harness/internal/harness"
	"mqtt-test-harness/internal/stats"
	"mqtt-test-harness/internal/topic"
)

type roundtripOptions struct {
	topic   string
	qos     uint8
	timeout time.Duration
	retries int
}

// tracePayload is published by roundtrip and matched on receipt by its ID.
type tracePayload struct {
	TraceID string    `json:"trace_id"`
	SentAt  time.Time `json:"sent_at"`
}

type roundtripResult struct {
	TraceID     string         `json:"trace_id"`
	Topic       string         `json:"topic"`
	QoS         byte           `json:"qos"`
	RoundTrip   string         `json:"round_trip"`
	ReceiveRate float64        `json:"receive_rate"`
	Metrics     stats.Snapshot `json:"metrics"`
}

func newRoundtripCmd() *cobra.Command {
	var opts roundtripOptions

	cmd := &cobra.Command{
		Use:   "roundtrip",
		Short: "Publish a message and wait for it to come back",
		Long: `roundtrip connects, subscribes to a topic, publishes a uniquely tagged
message to it and waits for that message to be delivered back. The delivery
counters are printed as JSON on success.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoundtrip(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.topic, "topic", "t", "", "topic to use (default: home/roundtrip-<id>/status)")
	flags.Uint8VarP(&opts.qos, "qos", "q", 1, "QoS for the subscription and the publish")
	flags.DurationVar(&opts.timeout, "timeout", 0, "time to wait per attempt (0 = use config)")
	flags.IntVar(&opts.retries, "retries", -1, "extra wait attempts after a timeout (-1 = use config)")
	return cmd
}

func runRoundtrip(cmd *cobra.Command, opts roundtripOptions) error {
	rt, err := newRuntime(rootOpts)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceID := uuid.NewString()
	name := opts.topic
	if name == "" {
		name = topic.Status("roundtrip-" + traceID[:8])
	}
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = rt.cfg.MQTT.WaitTimeout
	}
	retries := opts.retries
	if retries < 0 {
		retries = rt.cfg.MQTT.WaitRetries
	}

	client := rt.newClient()
	if err := client.ConnectConfig(ctx, rt.cfg.MQTT); err != nil {
		return err
	}
	defer client.Disconnect()

	if err := client.Subscribe(name, opts.qos); err != nil {
		return err
	}

	payload, err := json.Marshal(tracePayload{TraceID: traceID, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return awaitEcho(gctx, client, name, traceID, timeout, retries)
	})
	g.Go(func() error {
		return client.Publish(name, payload, opts.qos, false)
	})
	if err := g.Wait(); err != nil {
		rt.log.Error("roundtrip failed", "topic", name, "traceId", traceID, "error", err)
		return err
	}
	roundTrip := time.Since(start)

	rt.log.Info("roundtrip succeeded",
		"topic", name,
		"traceId", traceID,
		"roundTrip", roundTrip)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(roundtripResult{
		TraceID:     traceID,
		Topic:       name,
		QoS:         opts.qos,
		RoundTrip:   roundTrip.String(),
		ReceiveRate: client.ReceiveRate(),
		Metrics:     client.Metrics(),
	})
}

// awaitEcho waits for the message carrying traceID. Each of the retries+1
// attempts is bounded by timeout; cancelling ctx ends the wait at once.
func awaitEcho(ctx context.Context, client *harness.Client, name, traceID string, timeout time.Duration, retries int) error {
	attempts := max(retries, 0) + 1
	start := time.Now()

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := awaitTrace(attemptCtx, client, name, traceID)
		cancel()

		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !errors.Is(err, context.DeadlineExceeded):
			return err
		}
	}
	return &harness.MessageTimeoutError{Filter: name, Elapsed: time.Since(start)}
}

// awaitTrace skips anything else published to the same topic.
func awaitTrace(ctx context.Context, client *harness.Client, name, traceID string) error {
	for {
		msg, err := client.WaitForMessageContext(ctx, name)
		if err != nil {
			return err
		}
		err = harness.VerifyJSONField(msg, "trace_id", traceID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, harness.ErrFieldMismatch) && !errors.Is(err, harness.ErrFieldNotFound) {
			return fmt.Errorf("unexpected payload on %q: %w", name, err)
		}
	}
}
