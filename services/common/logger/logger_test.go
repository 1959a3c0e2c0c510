package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterTeesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter("order-service", "production", &buf)
	require.NoError(t, err)

	log.Info("Order created")
	_ = log.Sync()

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "Order created", line["msg"])
	assert.Equal(t, "order-service", line["service"])
	assert.Contains(t, line, "timestamp")
}

func TestNewDevelopment(t *testing.T) {
	log, err := New("cart-service", "development")
	require.NoError(t, err)
	assert.NotNil(t, log)
}
