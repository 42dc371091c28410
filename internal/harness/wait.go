package harness

import (
	"context"
	"errors"
	"time"

	"mqtt-test-harness/internal/metrics"
	"mqtt-test-harness/internal/topic"
)

// WaitForMessage removes and returns the oldest buffered message for filter,
// blocking up to timeout for one to arrive. It returns a *MessageTimeoutError
// when none does, and ErrNotConnected if the session ends while waiting.
func (c *Client) WaitForMessage(filter string, timeout time.Duration) (Message, error) {
	return c.waitFor(context.Background(), filter, time.Now().Add(timeout))
}

// WaitForMessageContext blocks until a message for filter arrives, the
// session ends or ctx is done. Cancellation returns ctx.Err() and is not
// counted as a timeout; use a ctx deadline to bound the wait.
func (c *Client) WaitForMessageContext(ctx context.Context, filter string) (Message, error) {
	return c.waitFor(ctx, filter, time.Time{})
}

func (c *Client) waitFor(ctx context.Context, filter string, deadline time.Time) (Message, error) {
	if err := topic.ValidateFilter(filter); err != nil {
		return Message{}, err
	}
	if err := c.RequireConnected(); err != nil {
		return Message{}, err
	}

	start := time.Now()
	msg, err := c.inbox.wait(ctx, filter, deadline)
	waited := time.Since(start)

	switch {
	case err == nil:
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.ObserveWaitLatency(waited)
		})
		c.logger.Debug("message consumed", "filter", filter, "topic", msg.Topic)
	case errors.Is(err, ErrMessageTimeout):
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.ObserveWaitLatency(waited)
			m.IncTimeouts("wait")
		})
		c.logger.Warn("timed out waiting for message", "filter", filter, "waited", waited)
	case ctx.Err() != nil:
		c.logger.Debug("wait for message cancelled", "filter", filter, "error", err)
	default:
		c.logger.Warn("wait for message interrupted", "filter", filter, "error", err)
	}
	return msg, err
}

// WaitForMessageWithRetry calls WaitForMessage up to retries+1 times, retrying
// only on timeout. The last timeout error is returned once every attempt fails.
func (c *Client) WaitForMessageWithRetry(filter string, timeout time.Duration, retries int) (Message, error) {
	attempts := max(retries, 0) + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		msg, err := c.WaitForMessage(filter, timeout)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrMessageTimeout) {
			return Message{}, err
		}
		lastErr = err
		c.logger.Warn("wait attempt failed",
			"filter", filter,
			"attempt", attempt,
			"attempts", attempts)
	}
	return Message{}, lastErr
}

// WaitForNextMessage discards anything already buffered for filter and waits
// for a message that arrives after the call.
func (c *Client) WaitForNextMessage(filter string, timeout time.Duration) (Message, error) {
	c.ClearQueue(filter)
	return c.WaitForMessage(filter, timeout)
}

// GetAllMessages removes and returns every buffered message for filter in
// arrival order. It never blocks and returns an empty slice when nothing is buffered.
func (c *Client) GetAllMessages(filter string) []Message {
	return c.inbox.drain(filter)
}

// ClearQueue discards buffered messages for filter. Clearing an empty or
// unknown queue is a no-op.
func (c *Client) ClearQueue(filter string) {
	if n := c.inbox.clear(filter); n > 0 {
		c.logger.Debug("cleared message queue", "filter", filter, "dropped", n)
	}
}

// Pending returns the number of messages buffered for filter.
func (c *Client) Pending(filter string) int {
	return c.inbox.pending(filter)
}
