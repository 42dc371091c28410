package harness

import (
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"mqtt-test-harness/internal/topic"
)

// mockToken implements mqtt.Token for testing
type mockToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *mockToken {
	t := &mockToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// pendingToken never completes
func pendingToken() *mockToken {
	return &mockToken{done: make(chan struct{})}
}

func (t *mockToken) Wait() bool {
	<-t.done
	return true
}

func (t *mockToken) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

func (t *mockToken) Done() <-chan struct{} { return t.done }

func (t *mockToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// mockMessage implements mqtt.Message for testing
type mockMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return m.qos }
func (m *mockMessage) Retained() bool    { return m.retained }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

// mockBroker routes publishes between the mock clients it created and keeps
// retained messages. Behaviour switches are read at call time.
type mockBroker struct {
	mu       sync.Mutex
	clients  []*mockClient
	retained map[string]*mockMessage

	connectErr   error
	connectHang  bool
	publishHang  bool
	subscribeErr error

	// subscribeGate, when set, holds every SUBACK until it is closed.
	subscribeGate chan struct{}
}

func newMockBroker() *mockBroker {
	return &mockBroker{retained: make(map[string]*mockMessage)}
}

// newClient has the ClientFactory signature
func (b *mockBroker) newClient(opts *mqtt.ClientOptions) mqtt.Client {
	c := &mockClient{
		broker:  b,
		opts:    opts,
		subs:    make(map[string]byte),
		inbound: make(chan *mockMessage, 1024),
		quit:    make(chan struct{}),
	}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

func (b *mockBroker) lastClient() *mockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) == 0 {
		return nil
	}
	return b.clients[len(b.clients)-1]
}

func (b *mockBroker) set(fn func(b *mockBroker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *mockBroker) route(msg *mockMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.retained {
		if len(msg.payload) == 0 {
			delete(b.retained, msg.topic)
		} else {
			stored := *msg
			b.retained[msg.topic] = &stored
		}
	}

	for _, c := range b.clients {
		granted, ok := c.granted(msg.topic)
		if !ok {
			continue
		}
		c.enqueue(&mockMessage{
			topic:   msg.topic,
			payload: msg.payload,
			qos:     min(msg.qos, granted),
		})
	}
}

func (b *mockBroker) retainedFor(filter string) []*mockMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*mockMessage
	for name, msg := range b.retained {
		if topic.Matches(filter, name) {
			out = append(out, msg)
		}
	}
	return out
}

// mockClient implements mqtt.Client for testing. Inbound messages are handed
// to the default publish handler from a single goroutine, in order.
type mockClient struct {
	broker *mockBroker
	opts   *mqtt.ClientOptions

	mu   sync.Mutex
	open bool
	subs map[string]byte

	inbound  chan *mockMessage
	quit     chan struct{}
	stopOnce sync.Once
}

func (c *mockClient) Connect() mqtt.Token {
	c.broker.mu.Lock()
	connectErr, hang := c.broker.connectErr, c.broker.connectHang
	c.broker.mu.Unlock()

	if connectErr != nil {
		return completedToken(connectErr)
	}
	if hang {
		return pendingToken()
	}

	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	go c.deliverLoop()
	return completedToken(nil)
}

func (c *mockClient) deliverLoop() {
	for {
		select {
		case <-c.quit:
			return
		case msg := <-c.inbound:
			c.opts.DefaultPublishHandler(c, msg)
		}
	}
}

func (c *mockClient) enqueue(msg *mockMessage) {
	if !c.IsConnectionOpen() {
		return
	}
	select {
	case c.inbound <- msg:
	case <-c.quit:
	}
}

func (c *mockClient) close() {
	c.mu.Lock()
	c.open = false
	c.subs = make(map[string]byte)
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.quit) })
}

func (c *mockClient) Disconnect(uint) {
	c.close()
}

// dropConnection simulates the broker closing the link
func (c *mockClient) dropConnection(err error) {
	c.close()
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(c, err)
	}
}

// sever closes the link without notifying the connection-lost handler
func (c *mockClient) sever() {
	c.close()
}

func (c *mockClient) Publish(name string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if !c.IsConnectionOpen() {
		return completedToken(errors.New("not connected"))
	}

	c.broker.mu.Lock()
	hang := c.broker.publishHang
	c.broker.mu.Unlock()
	if hang && qos > 0 {
		return pendingToken()
	}

	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = append([]byte(nil), p...)
	case string:
		body = []byte(p)
	}

	c.broker.route(&mockMessage{topic: name, payload: body, qos: qos, retained: retained})
	return completedToken(nil)
}

func (c *mockClient) Subscribe(filter string, qos byte, _ mqtt.MessageHandler) mqtt.Token {
	c.broker.mu.Lock()
	subscribeErr := c.broker.subscribeErr
	gate := c.broker.subscribeGate
	c.broker.mu.Unlock()
	if subscribeErr != nil {
		return completedToken(subscribeErr)
	}

	c.mu.Lock()
	c.subs[filter] = qos
	c.mu.Unlock()

	if gate != nil {
		token := pendingToken()
		go func() {
			<-gate
			close(token.done)
		}()
		return token
	}

	for _, msg := range c.broker.retainedFor(filter) {
		c.enqueue(&mockMessage{
			topic:    msg.topic,
			payload:  msg.payload,
			qos:      min(msg.qos, qos),
			retained: true,
		})
	}
	return completedToken(nil)
}

func (c *mockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for filter, qos := range filters {
		c.Subscribe(filter, qos, callback)
	}
	return completedToken(nil)
}

func (c *mockClient) Unsubscribe(filters ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, filter := range filters {
		delete(c.subs, filter)
	}
	return completedToken(nil)
}

// granted returns the highest QoS among subscriptions matching name
func (c *mockClient) granted(name string) (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, false
	}
	var (
		best  byte
		found bool
	)
	for filter, qos := range c.subs {
		if topic.Matches(filter, name) {
			found = true
			best = max(best, qos)
		}
	}
	return best, found
}

func (c *mockClient) subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[filter]
	return ok
}

func (c *mockClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *mockClient) IsConnected() bool { return c.IsConnectionOpen() }

func (c *mockClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }
