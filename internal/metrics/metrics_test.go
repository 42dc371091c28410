package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	assert.NoError(t, err)
	assert.NotNil(t, m)
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestNewMetricsWithoutRegistry(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)

	m.IncMessagesReceived()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesReceived))
}

func TestMetricsSetConnectionStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.SetMQTTConnectionStatus(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionStatus))

	m.SetMQTTConnectionStatus(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.connectionStatus))
}

func TestMetricsIncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.IncMessagesPublished(0)
	m.IncMessagesPublished(1)
	m.IncMessagesPublished(1)
	m.IncMessagesReceived()
	m.IncConnectionEvents("connected")
	m.IncConnectionEvents("lost")
	m.IncTimeouts("wait")
	m.AddQueuedMessages(3)
	m.AddQueuedMessages(-1)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesPublished.WithLabelValues("0")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.messagesPublished.WithLabelValues("1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionEvents.WithLabelValues("lost")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.timeouts.WithLabelValues("wait")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.queuedMessages))
}

func TestMetricsHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.ObservePublishLatency(15 * time.Millisecond)
	m.ObserveWaitLatency(200 * time.Millisecond)

	expected := `
# HELP mqtt_harness_messages_received_total Inbound frames delivered by the broker
# TYPE mqtt_harness_messages_received_total counter
mqtt_harness_messages_received_total 0
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"mqtt_harness_messages_received_total"))

	count, err := testutil.GatherAndCount(reg, "mqtt_harness_publish_ack_seconds", "mqtt_harness_wait_for_message_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
