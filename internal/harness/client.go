// Package harness provides an MQTT test client: mTLS connection management,
// subscription tracking, per-filter message queues with blocking waits, and
// delivery metrics.
package harness

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"mqtt-test-harness/config"
	"mqtt-test-harness/internal/logger"
	"mqtt-test-harness/internal/metrics"
	"mqtt-test-harness/internal/stats"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultSubscribeTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 250 * time.Millisecond

	maxQoS = 2

	// maxClientIDLength keeps generated IDs within the MQTT 3.1.1 guaranteed limit.
	maxClientIDLength = 23
)

// ClientFactory builds the underlying paho client from prepared options.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Settings holds per-client protocol settings that do not change between connections.
type Settings struct {
	ClientID          string
	CleanSession      bool
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	SubscribeTimeout  time.Duration
	DisconnectQuiesce time.Duration
}

// Client is an MQTT test client. Each Client owns its connection, subscription
// registry, message queues and counters; nothing is shared between instances
// except an optional Prometheus Metrics.
type Client struct {
	settings  Settings
	logger    *logger.Logger
	metrics   *metrics.Metrics
	stats     *stats.StatsCollector
	inbox     *inbox
	state     stateManager
	newClient ClientFactory

	// connMu serializes Connect, Reconnect and Disconnect.
	connMu sync.Mutex
	target *target

	mu     sync.RWMutex
	client mqtt.Client
}

// target is the broker address and credentials of the last Connect call.
type target struct {
	host  string
	port  int
	creds Credentials
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger used for connection and message events
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithMetrics exports client activity to Prometheus collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithClientID sets the MQTT client identifier
func WithClientID(clientID string) Option {
	return func(c *Client) {
		if clientID != "" {
			c.settings.ClientID = clientID
		}
	}
}

// WithCleanSession controls whether the broker discards session state on connect
func WithCleanSession(clean bool) Option {
	return func(c *Client) {
		c.settings.CleanSession = clean
	}
}

// WithTimeouts overrides the connect, publish-acknowledgement and subscribe-acknowledgement
// timeouts. Zero values keep the current setting.
func WithTimeouts(connect, publish, subscribe time.Duration) Option {
	return func(c *Client) {
		if connect > 0 {
			c.settings.ConnectTimeout = connect
		}
		if publish > 0 {
			c.settings.PublishTimeout = publish
		}
		if subscribe > 0 {
			c.settings.SubscribeTimeout = subscribe
		}
	}
}

// WithClientFactory replaces paho's client constructor, mainly for tests
func WithClientFactory(factory ClientFactory) Option {
	return func(c *Client) {
		if factory != nil {
			c.newClient = factory
		}
	}
}

// New creates a disconnected client
func New(opts ...Option) *Client {
	c := &Client{
		settings: Settings{
			ClientID:          generateClientID(),
			CleanSession:      true,
			ConnectTimeout:    defaultConnectTimeout,
			PublishTimeout:    defaultPublishTimeout,
			SubscribeTimeout:  defaultSubscribeTimeout,
			DisconnectQuiesce: defaultDisconnectQuiesce,
		},
		logger:    logger.NewNop(),
		stats:     stats.NewStatsCollector(),
		newClient: mqtt.NewClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.inbox = newInbox(c.metrics)
	c.logger = c.logger.With("clientId", c.settings.ClientID)
	return c
}

// NewFromConfig creates a disconnected client using the protocol settings of cfg.
// Options are applied after the config.
func NewFromConfig(cfg config.MQTTConfig, opts ...Option) *Client {
	base := []Option{
		WithClientID(cfg.ClientID),
		WithTimeouts(cfg.ConnectTimeout, cfg.PublishTimeout, cfg.SubscribeTimeout),
	}
	if cfg.CleanSession != nil {
		base = append(base, WithCleanSession(*cfg.CleanSession))
	}
	return New(append(base, opts...)...)
}

// ClientID returns the MQTT client identifier
func (c *Client) ClientID() string {
	return c.settings.ClientID
}

// Metrics returns the current delivery counters
func (c *Client) Metrics() stats.Snapshot {
	return c.stats.Snapshot()
}

// ReceiveRate returns inbound messages per second since the client was created
func (c *Client) ReceiveRate() float64 {
	return c.stats.ReceiveRate()
}

// Subscriptions returns the active subscriptions sorted by filter
func (c *Client) Subscriptions() []Subscription {
	return c.inbox.subscriptions()
}

// currentClient returns the paho client of the current session, if any
func (c *Client) currentClient() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// safeMetricsUpdate safely updates metrics if they are enabled
func (c *Client) safeMetricsUpdate(fn func(*metrics.Metrics)) {
	if c.metrics != nil {
		fn(c.metrics)
	}
}

func generateClientID() string {
	id := "harness-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:maxClientIDLength]
}
