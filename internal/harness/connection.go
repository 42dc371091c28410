package harness

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-test-harness/config"
	"mqtt-test-harness/internal/logger"
	"mqtt-test-harness/internal/metrics"
)

// Connect establishes an mTLS session with the broker at host:port. Certificate
// files are checked before any network activity. On failure the client is left
// in StateFailed and a *ConnectionError carrying the cause is returned.
//
// Subscriptions left over from a session that failed are re-issued once the
// new session is up.
func (c *Client) Connect(ctx context.Context, host string, port int, creds Credentials) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.State() == StateConnected {
		return ErrAlreadyConnected
	}

	c.target = &target{host: host, port: port, creds: creds}
	log := c.logger.With("broker", net.JoinHostPort(host, strconv.Itoa(port)))

	tlsConfig, err := newTLSConfig(creds)
	if err != nil {
		return c.connectFailed(log, host, port, err)
	}

	c.state.set(StateConnecting)
	log.Info("connecting to mqtt broker", "keepalive", creds.keepalive())

	client := c.newClient(c.clientOptions(host, port, creds, tlsConfig))
	if err := waitToken(ctx, client.Connect(), c.settings.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return c.connectFailed(log, host, port, err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.inbox.open()
	c.state.set(StateConnected)
	c.stats.RecordConnected(time.Now())

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetMQTTConnectionStatus(true)
		m.IncConnectionEvents("connected")
	})
	log.Info("connected to mqtt broker")

	c.restoreSubscriptions(client, log)
	return nil
}

// ConnectConfig connects using the broker address and credentials in cfg.
func (c *Client) ConnectConfig(ctx context.Context, cfg config.MQTTConfig) error {
	return c.Connect(ctx, cfg.BrokerHost, cfg.BrokerPort, CredentialsFromConfig(cfg))
}

// Reconnect repeats the last Connect call. It is a no-op while connected.
func (c *Client) Reconnect(ctx context.Context) error {
	c.connMu.Lock()
	last := c.target
	c.connMu.Unlock()

	if last == nil {
		return fmt.Errorf("%w: no previous connection to repeat", ErrNotConnected)
	}
	if c.IsConnected() {
		return nil
	}
	return c.Connect(ctx, last.host, last.port, last.creds)
}

// Disconnect closes the session from any state. Subscriptions and buffered
// messages are discarded and in-flight waits fail with ErrNotConnected.
// Calling it more than once is safe.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	prev := c.state.get()
	c.state.set(StateDisconnected)
	c.inbox.reset()

	if client != nil {
		client.Disconnect(uint(c.settings.DisconnectQuiesce.Milliseconds()))
	}

	if prev != StateDisconnected {
		c.safeMetricsUpdate(func(m *metrics.Metrics) {
			m.SetMQTTConnectionStatus(false)
			m.IncConnectionEvents("disconnected")
		})
		c.logger.Info("disconnected from mqtt broker", "previousState", prev.String())
	}
}

// State returns the connection state. A session the transport has closed
// without notice is reported as StateFailed.
func (c *Client) State() ConnectionState {
	if c.state.get() == StateConnected {
		client := c.currentClient()
		if client == nil || !client.IsConnectionOpen() {
			c.markFailed(fmt.Errorf("transport reports connection closed"))
		}
	}
	return c.state.get()
}

// IsConnected reports whether the client is in StateConnected
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// RequireConnected returns ErrNotConnected unless the session is active
func (c *Client) RequireConnected() error {
	if !c.IsConnected() {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, c.state.get())
	}
	return nil
}

// connectedClient returns the live paho client or ErrNotConnected
func (c *Client) connectedClient() (mqtt.Client, error) {
	if err := c.RequireConnected(); err != nil {
		return nil, err
	}
	client := c.currentClient()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client, nil
}

func (c *Client) clientOptions(host string, port int, creds Credentials, tlsConfig *tls.Config) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker("ssl://"+net.JoinHostPort(host, strconv.Itoa(port))).
		SetClientID(c.settings.ClientID).
		SetCleanSession(c.settings.CleanSession).
		SetKeepAlive(creds.keepalive()).
		SetTLSConfig(tlsConfig).
		SetConnectTimeout(c.settings.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetDefaultPublishHandler(c.dispatch).
		SetConnectionLostHandler(c.handleConnectionLost)
}

// handleConnectionLost processes a broker-initiated or network drop
func (c *Client) handleConnectionLost(client mqtt.Client, err error) {
	if c.currentClient() != client {
		return
	}
	c.markFailed(err)
}

func (c *Client) markFailed(cause error) {
	if !c.state.transition(StateConnected, StateFailed) {
		return
	}
	c.inbox.interrupt()

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetMQTTConnectionStatus(false)
		m.IncConnectionEvents("lost")
	})
	c.logger.Error("mqtt connection lost", "error", cause)
}

func (c *Client) connectFailed(log *logger.Logger, host string, port int, cause error) error {
	c.state.set(StateFailed)

	c.safeMetricsUpdate(func(m *metrics.Metrics) {
		m.SetMQTTConnectionStatus(false)
		m.IncConnectionEvents("failed")
	})
	log.Error("failed to connect to mqtt broker", "error", cause)

	return &ConnectionError{Host: host, Port: port, Cause: cause}
}

// restoreSubscriptions re-issues filters that survived a failed session
func (c *Client) restoreSubscriptions(client mqtt.Client, log *logger.Logger) {
	for _, sub := range c.inbox.subscriptions() {
		token := client.Subscribe(sub.Filter, sub.QoS, nil)
		if err := c.awaitSubscribe(token, sub.Filter); err != nil {
			log.Error("failed to restore subscription",
				"filter", sub.Filter,
				"qos", sub.QoS,
				"error", err)
			continue
		}
		log.Info("restored subscription", "filter", sub.Filter, "qos", sub.QoS)
	}
}

// waitToken blocks until token completes, timeout elapses or ctx is done
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("no response within %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
