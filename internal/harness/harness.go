package harness

import (
	"context"
	"time"

	"mqtt-test-harness/internal/stats"
)

// Harness is the test-facing surface of Client.
type Harness interface {
	Connect(ctx context.Context, host string, port int, creds Credentials) error
	Reconnect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	State() ConnectionState
	RequireConnected() error

	Subscribe(filter string, qos byte) error
	Unsubscribe(filter string) error
	Subscriptions() []Subscription

	Publish(topic string, payload []byte, qos byte, retain bool) error

	WaitForMessage(filter string, timeout time.Duration) (Message, error)
	WaitForMessageContext(ctx context.Context, filter string) (Message, error)
	WaitForMessageWithRetry(filter string, timeout time.Duration, retries int) (Message, error)
	WaitForNextMessage(filter string, timeout time.Duration) (Message, error)
	GetAllMessages(filter string) []Message
	ClearQueue(filter string)

	Metrics() stats.Snapshot
	ReceiveRate() float64
}

var _ Harness = (*Client)(nil)
