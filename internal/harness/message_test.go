package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPayload(t *testing.T) {
	msg := Message{Topic: "home/dev1/status", Payload: []byte("online")}

	assert.NoError(t, VerifyPayload(msg, "online"))

	err := VerifyPayload(msg, "offline")
	assert.ErrorIs(t, err, ErrPayloadMismatch)
	assert.Contains(t, err.Error(), `"offline"`)
}

func TestVerifyJSONField(t *testing.T) {
	msg := Message{
		Topic:   "home/dev1/telemetry",
		Payload: []byte(`{"temperature":22.5,"count":3,"unit":"C","online":true,"device":{"id":"dev1","battery":{"level":80}}}`),
	}

	tests := []struct {
		name     string
		path     string
		expected any
		wantErr  error
	}{
		{"Float field", "temperature", 22.5, nil},
		{"Integer field", "count", 3, nil},
		{"String field", "unit", "C", nil},
		{"Bool field", "online", true, nil},
		{"Nested field", "device.id", "dev1", nil},
		{"Deeply nested field", "device.battery.level", 80, nil},
		{"Text form comparison", "temperature", "22.5", nil},
		{"Wrong value", "unit", "F", ErrFieldMismatch},
		{"Missing field", "humidity", 40, ErrFieldNotFound},
		{"Path through scalar", "unit.symbol", "C", ErrFieldNotFound},
		{"Missing nested field", "device.serial", "x", ErrFieldNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyJSONField(msg, tt.path, tt.expected)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyJSONFieldInvalidPayload(t *testing.T) {
	err := VerifyJSONField(Message{Topic: "a", Payload: []byte("not json")}, "x", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a"`)
}

func TestMessageClone(t *testing.T) {
	orig := Message{Topic: "a", Payload: []byte("abc")}
	cp := orig.clone()
	cp.Payload[0] = 'z'
	assert.Equal(t, "abc", orig.String())
}
