package harness

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for harness operations.
// Use errors.Is() to check for these in test code.
var (
	// ErrConnection is matched by every *ConnectionError.
	ErrConnection = errors.New("harness: connection failed")

	// ErrNotConnected is returned when an operation needs a live session and there is none,
	// including waits interrupted by Disconnect or a dropped link.
	ErrNotConnected = errors.New("harness: not connected")

	// ErrAlreadyConnected is returned by Connect on a client that is still connected.
	ErrAlreadyConnected = errors.New("harness: already connected")

	// ErrPublishTimeout is matched by every *PublishTimeoutError.
	ErrPublishTimeout = errors.New("harness: publish acknowledgement timed out")

	// ErrMessageTimeout is matched by every *MessageTimeoutError.
	ErrMessageTimeout = errors.New("harness: no message received")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("harness: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a publish topic is empty or contains wildcards.
	ErrInvalidTopic = errors.New("harness: invalid topic name")

	ErrSubscribeFailed   = errors.New("harness: subscribe failed")
	ErrUnsubscribeFailed = errors.New("harness: unsubscribe failed")
	ErrPublishFailed     = errors.New("harness: publish failed")

	// Verification failures.
	ErrPayloadMismatch = errors.New("harness: payload mismatch")
	ErrFieldMismatch   = errors.New("harness: json field mismatch")
	ErrFieldNotFound   = errors.New("harness: json field not found")
)

// ConnectionError reports a failed connection attempt and carries its cause.
type ConnectionError struct {
	Host  string
	Port  int
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s:%d: %v", e.Host, e.Port, e.Cause)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Cause}
}

// PublishTimeoutError reports a QoS 1/2 publish whose acknowledgement did not arrive in time.
type PublishTimeoutError struct {
	Topic   string
	QoS     byte
	Timeout time.Duration
}

func (e *PublishTimeoutError) Error() string {
	return fmt.Sprintf("publish to %q (qos %d) not acknowledged within %v", e.Topic, e.QoS, e.Timeout)
}

func (e *PublishTimeoutError) Unwrap() error {
	return ErrPublishTimeout
}

// MessageTimeoutError reports that no message arrived for a filter within the wait window.
type MessageTimeoutError struct {
	Filter  string
	Elapsed time.Duration
}

func (e *MessageTimeoutError) Error() string {
	return fmt.Sprintf("no message received on %q within %v", e.Filter, e.Elapsed.Round(time.Millisecond))
}

func (e *MessageTimeoutError) Unwrap() error {
	return ErrMessageTimeout
}
