package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-test-harness/internal/metrics"
	"mqtt-test-harness/internal/topic"
)

// subscribeFailure is the SUBACK return code for a rejected filter.
const subscribeFailure = 0x80

var errSubscriptionRejected = errors.New("broker rejected subscription")

// Subscribe registers filter with the broker at the given QoS. Messages that
// match it are buffered from the moment the call returns. Subscribing again
// with the same QoS is a no-op; a different QoS replaces the existing entry.
func (c *Client) Subscribe(filter string, qos byte) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	client, err := c.connectedClient()
	if err != nil {
		return err
	}

	if current, ok := c.inbox.lookup(filter); ok && current == qos {
		c.logger.Debug("already subscribed", "filter", filter, "qos", qos)
		return nil
	}

	// The filter is registered before the protocol subscribe so that retained
	// messages sent with the SUBACK are not dropped.
	prev, existed, err := c.inbox.register(filter, qos)
	if err != nil {
		return err
	}

	if err := c.awaitSubscribe(client.Subscribe(filter, qos, nil), filter); err != nil {
		c.inbox.rollback(filter, prev, existed)
		c.logger.Error("failed to subscribe",
			"filter", filter,
			"qos", qos,
			"error", err)
		return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, filter, err)
	}

	// The session may have ended while the SUBACK was outstanding.
	if _, ok := c.inbox.lookup(filter); !ok || !c.IsConnected() {
		c.logger.Warn("session ended before subscription was acknowledged", "filter", filter, "qos", qos)
		return fmt.Errorf("%w: session ended before %q was acknowledged", ErrNotConnected, filter)
	}

	c.logger.Info("subscribed to topic", "filter", filter, "qos", qos)
	return nil
}

// Unsubscribe removes filter and discards its buffered messages. Unknown
// filters are ignored. When the session is down only the local entry is removed.
func (c *Client) Unsubscribe(filter string) error {
	if !c.inbox.unregister(filter) {
		return nil
	}

	client, err := c.connectedClient()
	if err != nil {
		c.logger.Debug("removed subscription without active session", "filter", filter)
		return nil
	}

	if err := waitToken(context.Background(), client.Unsubscribe(filter), c.settings.SubscribeTimeout); err != nil {
		c.logger.Error("failed to unsubscribe", "filter", filter, "error", err)
		return fmt.Errorf("%w: %q: %w", ErrUnsubscribeFailed, filter, err)
	}

	c.logger.Info("unsubscribed from topic", "filter", filter)
	return nil
}

// awaitSubscribe waits for the SUBACK and checks the granted code for filter.
func (c *Client) awaitSubscribe(token mqtt.Token, filter string) error {
	if err := waitToken(context.Background(), token, c.settings.SubscribeTimeout); err != nil {
		return err
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[filter]; found && code == subscribeFailure {
			return errSubscriptionRejected
		}
	}
	return nil
}

// dispatch is the paho default publish handler. It runs on paho's router
// goroutine once per inbound message, in arrival order.
func (c *Client) dispatch(_ mqtt.Client, msg mqtt.Message) {
	received := Message{
		Topic:      msg.Topic(),
		Payload:    append([]byte(nil), msg.Payload()...),
		QoS:        msg.Qos(),
		Retained:   msg.Retained(),
		ReceivedAt: time.Now(),
	}

	// Counted before delivery so a waiter woken by this message already sees it.
	c.stats.RecordReceived(received.ReceivedAt)
	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.IncMessagesReceived()
	})

	filters := c.inbox.deliver(received)

	c.logger.Debug("message received",
		"topic", received.Topic,
		"qos", received.QoS,
		"retained", received.Retained,
		"payloadSize", len(received.Payload),
		"filters", filters)
}
