package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is a received MQTT message. Messages returned by a Client are
// independent copies; mutating one does not affect buffered messages.
type Message struct {
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	QoS        byte      `json:"qos"`
	Retained   bool      `json:"retained"`
	ReceivedAt time.Time `json:"received_at"`
}

// Subscription is an active topic filter and its requested QoS.
type Subscription struct {
	Filter string `json:"filter"`
	QoS    byte   `json:"qos"`
}

func (m Message) clone() Message {
	m.Payload = bytes.Clone(m.Payload)
	return m
}

// String returns the payload as text.
func (m Message) String() string {
	return string(m.Payload)
}

// JSON decodes the payload into v.
func (m Message) JSON(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode payload from %q: %w", m.Topic, err)
	}
	return nil
}

// VerifyPayload checks that the message payload equals expected exactly.
func VerifyPayload(msg Message, expected string) error {
	if actual := string(msg.Payload); actual != expected {
		return fmt.Errorf("%w on %q: expected %q, actual %q", ErrPayloadMismatch, msg.Topic, expected, actual)
	}
	return nil
}

// VerifyJSONField checks a field of a JSON payload addressed by a dot-separated
// path such as "device.temperature". Values are compared by their text form,
// so 22.5 and "22.5" are equal.
func VerifyJSONField(msg Message, path string, expected any) error {
	var data any
	if err := msg.JSON(&data); err != nil {
		return err
	}

	value := data
	for _, field := range strings.Split(path, ".") {
		object, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q in payload from %q", ErrFieldNotFound, path, msg.Topic)
		}
		if value, ok = object[field]; !ok {
			return fmt.Errorf("%w: %q in payload from %q", ErrFieldNotFound, path, msg.Topic)
		}
	}

	if fmt.Sprint(value) != fmt.Sprint(expected) {
		return fmt.Errorf("%w: %q expected %v, actual %v", ErrFieldMismatch, path, expected, value)
	}
	return nil
}
