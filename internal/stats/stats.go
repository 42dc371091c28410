package stats

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of a collector's counters
type Snapshot struct {
	MessagesPublished       uint64     `json:"messages_published"`
	MessagesReceived        uint64     `json:"messages_received"`
	ConnectionEstablishedAt *time.Time `json:"connection_established_at"`
	LastMessageAt           *time.Time `json:"last_message_at"`
}

// StatsCollector tracks delivery counters for one harness client. Counters
// only grow; a fresh collector is the only way to reset them.
type StatsCollector struct {
	StartTime time.Time

	messagesPublished atomic.Uint64
	messagesReceived  atomic.Uint64
	connectedAt       atomic.Pointer[time.Time]
	lastMessageAt     atomic.Pointer[time.Time]
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		StartTime: time.Now(),
	}
}

// RecordPublished counts a successful publish
func (s *StatsCollector) RecordPublished() {
	s.messagesPublished.Add(1)
}

// RecordReceived counts one inbound frame received at t
func (s *StatsCollector) RecordReceived(t time.Time) {
	s.messagesReceived.Add(1)
	s.lastMessageAt.Store(&t)
}

// RecordConnected stamps the time a connection was established
func (s *StatsCollector) RecordConnected(t time.Time) {
	s.connectedAt.Store(&t)
}

// Snapshot returns current statistics
func (s *StatsCollector) Snapshot() Snapshot {
	return Snapshot{
		MessagesPublished:       s.messagesPublished.Load(),
		MessagesReceived:        s.messagesReceived.Load(),
		ConnectionEstablishedAt: copyTime(s.connectedAt.Load()),
		LastMessageAt:           copyTime(s.lastMessageAt.Load()),
	}
}

// ReceiveRate calculates inbound messages per second since the collector was created
func (s *StatsCollector) ReceiveRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(s.messagesReceived.Load()) / uptime
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
