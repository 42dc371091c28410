package harness

import (
	"context"
	"sync"
	"time"

	"mqtt-test-harness/internal/metrics"
)

// topicQueue is the FIFO buffer for one filter. ready is closed and replaced
// on every append, and closed for good when the queue leaves the inbox, so a
// waiter that captured it under the lock never misses a wakeup.
type topicQueue struct {
	messages []Message
	ready    chan struct{}
}

func newTopicQueue() *topicQueue {
	return &topicQueue{ready: make(chan struct{})}
}

func (q *topicQueue) push(msg Message) {
	q.messages = append(q.messages, msg)
	close(q.ready)
	q.ready = make(chan struct{})
}

func (q *topicQueue) pop() (Message, bool) {
	if len(q.messages) == 0 {
		return Message{}, false
	}
	msg := q.messages[0]
	q.messages[0] = Message{}
	q.messages = q.messages[1:]
	return msg, true
}

// inbox owns the subscription registry and the per-filter queues behind a
// single lock. done is non-nil while a session is open and is closed when the
// session ends, releasing every blocked waiter.
type inbox struct {
	mu      sync.Mutex
	subs    *registry
	queues  map[string]*topicQueue
	done    chan struct{}
	metrics *metrics.Metrics
}

func newInbox(m *metrics.Metrics) *inbox {
	return &inbox{
		subs:    newRegistry(),
		queues:  make(map[string]*topicQueue),
		metrics: m,
	}
}

// open starts a session if none is running.
func (b *inbox) open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		b.done = make(chan struct{})
	}
}

// interrupt ends the session, failing in-flight waits, but keeps
// subscriptions and buffered messages.
func (b *inbox) interrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endSession()
}

// reset ends the session and forgets every subscription and buffered message.
func (b *inbox) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endSession()
	b.subs.clear()
	for filter := range b.queues {
		b.dropQueue(filter)
	}
}

func (b *inbox) endSession() {
	if b.done != nil {
		close(b.done)
		b.done = nil
	}
}

// register upserts filter in the registry. existed and prev describe the
// entry it replaced so a failed protocol subscribe can be rolled back.
func (b *inbox) register(filter string, qos byte) (prev byte, existed bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		return 0, false, ErrNotConnected
	}
	return b.subs.upsert(filter, qos)
}

// rollback restores the registry entry replaced by register.
func (b *inbox) rollback(filter string, prev byte, existed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existed {
		b.subs.setQoS(filter, prev)
		return
	}
	b.subs.remove(filter)
	b.dropQueue(filter)
}

// unregister removes filter and discards its queue. It reports whether the
// filter was registered.
func (b *inbox) unregister(filter string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.subs.remove(filter) {
		return false
	}
	b.dropQueue(filter)
	return true
}

func (b *inbox) lookup(filter string) (byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs.lookup(filter)
}

func (b *inbox) subscriptions() []Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs.list()
}

// deliver appends msg to the queue of every registered filter matching its
// topic and returns the matched filters.
func (b *inbox) deliver(msg Message) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	filters := b.subs.match(msg.Topic)
	for _, filter := range filters {
		b.queue(filter).push(msg)
	}
	b.queuedDelta(len(filters))
	return filters
}

// drain removes and returns every buffered message for filter in FIFO order.
func (b *inbox) drain(filter string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[filter]
	if !ok {
		return []Message{}
	}
	messages := make([]Message, len(q.messages))
	for i, msg := range q.messages {
		messages[i] = msg.clone()
	}
	q.messages = nil
	b.queuedDelta(-len(messages))
	return messages
}

// clear discards buffered messages for filter and returns how many were dropped.
func (b *inbox) clear(filter string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[filter]
	if !ok {
		return 0
	}
	n := len(q.messages)
	q.messages = nil
	b.queuedDelta(-n)
	return n
}

// pending returns the number of buffered messages for filter.
func (b *inbox) pending(filter string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[filter]; ok {
		return len(q.messages)
	}
	return 0
}

// wait pops the oldest message for filter, blocking until one arrives, the
// session ends, ctx is done or the deadline passes. A zero deadline waits
// on ctx alone. The lock is held only to check the queue and capture its
// ready channel.
func (b *inbox) wait(ctx context.Context, filter string, deadline time.Time) (Message, error) {
	start := time.Now()
	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return Message{}, ErrNotConnected
	}

	for {
		b.mu.Lock()
		if b.done != done {
			b.releaseIdleLocked(filter)
			b.mu.Unlock()
			return Message{}, ErrNotConnected
		}
		q := b.queue(filter)
		if msg, ok := q.pop(); ok {
			b.queuedDelta(-1)
			b.mu.Unlock()
			return msg.clone(), nil
		}
		ready := q.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-done:
			b.releaseIdle(filter)
			return Message{}, ErrNotConnected
		case <-ctx.Done():
			b.releaseIdle(filter)
			return Message{}, ctx.Err()
		case <-expired:
			b.releaseIdle(filter)
			return Message{}, &MessageTimeoutError{Filter: filter, Elapsed: time.Since(start)}
		}
	}
}

// queue returns the queue for filter, creating it on first use. Callers hold the lock.
func (b *inbox) queue(filter string) *topicQueue {
	q, ok := b.queues[filter]
	if !ok {
		q = newTopicQueue()
		b.queues[filter] = q
	}
	return q
}

// dropQueue removes the queue for filter and wakes anyone blocked on it so
// they re-resolve the filter. Callers hold the lock.
func (b *inbox) dropQueue(filter string) {
	q, ok := b.queues[filter]
	if !ok {
		return
	}
	delete(b.queues, filter)
	close(q.ready)
	b.queuedDelta(-len(q.messages))
}

// releaseIdle removes an empty queue that a waiter created for a filter
// nobody is subscribed to.
func (b *inbox) releaseIdle(filter string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseIdleLocked(filter)
}

func (b *inbox) releaseIdleLocked(filter string) {
	if _, subscribed := b.subs.lookup(filter); subscribed {
		return
	}
	if q, ok := b.queues[filter]; ok && len(q.messages) == 0 {
		b.dropQueue(filter)
	}
}

func (b *inbox) queuedDelta(delta int) {
	if b.metrics != nil && delta != 0 {
		b.metrics.AddQueuedMessages(delta)
	}
}
