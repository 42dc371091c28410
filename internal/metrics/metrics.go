// Package metrics exports harness activity as Prometheus metrics
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mqtt_harness"

// Metrics holds the Prometheus collectors shared by harness clients
type Metrics struct {
	messagesPublished *prometheus.CounterVec
	messagesReceived  prometheus.Counter
	queuedMessages    prometheus.Gauge
	connectionStatus  prometheus.Gauge
	connectionEvents  *prometheus.CounterVec
	timeouts          *prometheus.CounterVec
	publishLatency    prometheus.Histogram
	waitLatency       prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages successfully handed to the broker, by QoS",
		}, []string{"qos"}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound frames delivered by the broker",
		}),
		queuedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_messages",
			Help:      "Messages buffered in topic queues awaiting a reader",
		}),
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "1 when the most recent connection transition was to connected",
		}),
		connectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Connection state transitions, by resulting event",
		}, []string{"event"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Operations that gave up waiting, by operation",
		}, []string{"operation"}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_ack_seconds",
			Help:      "Time from publish to broker acknowledgement for QoS 1 and 2",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		waitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_for_message_seconds",
			Help:      "Time callers spent blocked waiting for a message",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.messagesPublished,
		m.messagesReceived,
		m.queuedMessages,
		m.connectionStatus,
		m.connectionEvents,
		m.timeouts,
		m.publishLatency,
		m.waitLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// IncMessagesPublished counts a successful publish
func (m *Metrics) IncMessagesPublished(qos byte) {
	m.messagesPublished.WithLabelValues(strconv.Itoa(int(qos))).Inc()
}

// IncMessagesReceived counts one inbound frame
func (m *Metrics) IncMessagesReceived() {
	m.messagesReceived.Inc()
}

// AddQueuedMessages adjusts the buffered message gauge
func (m *Metrics) AddQueuedMessages(delta int) {
	m.queuedMessages.Add(float64(delta))
}

// SetMQTTConnectionStatus records whether the client is connected
func (m *Metrics) SetMQTTConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// IncConnectionEvents counts a connection transition such as "connected" or "lost"
func (m *Metrics) IncConnectionEvents(event string) {
	m.connectionEvents.WithLabelValues(event).Inc()
}

// IncTimeouts counts an operation that timed out
func (m *Metrics) IncTimeouts(operation string) {
	m.timeouts.WithLabelValues(operation).Inc()
}

// ObservePublishLatency records the acknowledgement time of a publish
func (m *Metrics) ObservePublishLatency(d time.Duration) {
	m.publishLatency.Observe(d.Seconds())
}

// ObserveWaitLatency records how long a caller waited for a message
func (m *Metrics) ObserveWaitLatency(d time.Duration) {
	m.waitLatency.Observe(d.Seconds())
}
