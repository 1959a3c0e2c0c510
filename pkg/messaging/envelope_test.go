package messaging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/marketplace/pkg/messaging"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	fact := messaging.PaymentCompletedFact{OrderID: "o-1", PaymentID: "p-1", Amount: 23600}
	env, err := messaging.NewEnvelope(messaging.PaymentCompleted, messaging.CorrelationID(messaging.PaymentCompleted, "p-1"), "payment-service", fact)
	require.NoError(t, err)
	assert.Equal(t, "payment.completed:p-1", env.CorrelationID)
	assert.False(t, env.Timestamp.IsZero())

	body, err := env.Marshal()
	require.NoError(t, err)

	got, err := messaging.Unmarshal(body)
	require.NoError(t, err)

	var decoded messaging.PaymentCompletedFact
	require.NoError(t, got.Decode(&decoded))
	assert.Equal(t, fact, decoded)
	assert.Equal(t, "payment-service", got.SourceService)
}

func TestNewEnvelope_RequiresCorrelationID(t *testing.T) {
	_, err := messaging.NewEnvelope(messaging.OrderCreated, "", "order-service", struct{}{})
	assert.ErrorIs(t, err, messaging.ErrMissingCorrelationID)
}

func TestUnmarshal_MalformedIsPermanent(t *testing.T) {
	_, err := messaging.Unmarshal([]byte("not-json"))
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))

	_, err = messaging.Unmarshal([]byte(`{"routingKey":"order.created"}`))
	assert.True(t, messaging.IsPermanent(err))
}

func TestDecode_BadPayloadIsPermanent(t *testing.T) {
	env := messaging.Envelope{RoutingKey: messaging.OrderCreated, CorrelationID: "c", Payload: []byte(`"str"`)}
	var fact messaging.OrderCreatedFact
	err := env.Decode(&fact)
	assert.True(t, messaging.IsPermanent(err))
}

func TestMatchRoutingKey(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"order.created", "order.created", true},
		{"order.created", "order.cancelled", false},
		{"order.*", "order.created", true},
		{"order.*", "order.status.changed", false},
		{"order.#", "order.status.changed", true},
		{"#", "inventory.low", true},
		{"payment.#.x", "payment.x", true},
		{"*.low", "inventory.low", true},
		{"*", "inventory.low", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, messaging.MatchRoutingKey(tc.pattern, tc.key), "%s vs %s", tc.pattern, tc.key)
	}
}

func TestShouldDeadLetter(t *testing.T) {
	assert.False(t, messaging.ShouldDeadLetter(1, 2, assert.AnError))
	assert.True(t, messaging.ShouldDeadLetter(2, 2, assert.AnError))
	assert.True(t, messaging.ShouldDeadLetter(1, 2, messaging.Permanent(assert.AnError)))
	assert.True(t, messaging.ShouldDeadLetter(2, 0, assert.AnError))
}
