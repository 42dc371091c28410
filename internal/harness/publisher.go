package harness

import (
	"fmt"
	"time"

	"mqtt-test-harness/internal/metrics"
	"mqtt-test-harness/internal/topic"
)

// Publish sends payload to a concrete topic. For QoS 1 and 2 it blocks until
// the broker acknowledges the message or the publish timeout elapses, in which
// case a *PublishTimeoutError is returned. QoS 0 returns once the message is
// queued for sending.
func (c *Client) Publish(name string, payload []byte, qos byte, retain bool) error {
	if err := topic.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	client, err := c.connectedClient()
	if err != nil {
		return err
	}

	start := time.Now()
	token := client.Publish(name, qos, retain, payload)

	if qos == 0 {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				return c.publishFailed(name, qos, err)
			}
		default:
		}
	} else {
		if !token.WaitTimeout(c.settings.PublishTimeout) {
			c.safeMetricsUpdate(func(m *metrics.Metrics) {
				m.IncTimeouts("publish")
			})
			c.logger.Error("publish not acknowledged",
				"topic", name,
				"qos", qos,
				"timeout", c.settings.PublishTimeout)
			return &PublishTimeoutError{Topic: name, QoS: qos, Timeout: c.settings.PublishTimeout}
		}
		if err := token.Error(); err != nil {
			return c.publishFailed(name, qos, err)
		}
	}

	c.stats.RecordPublished()
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncMessagesPublished(qos)
		m.ObservePublishLatency(time.Since(start))
	})
	c.logger.Debug("message published",
		"topic", name,
		"qos", qos,
		"retain", retain,
		"payloadSize", len(payload))
	return nil
}

// PublishString is Publish with a text payload.
func (c *Client) PublishString(name, payload string, qos byte, retain bool) error {
	return c.Publish(name, []byte(payload), qos, retain)
}

func (c *Client) publishFailed(name string, qos byte, cause error) error {
	c.logger.Error("failed to publish message",
		"topic", name,
		"qos", qos,
		"error", cause)
	return fmt.Errorf("%w: %q: %w", ErrPublishFailed, name, cause)
}
