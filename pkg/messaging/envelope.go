// Package messaging defines the envelope every cross-service fact travels in,
// the publish/subscribe contract the services depend on, and the delivery
// helpers (idempotency guard, retrying publisher) shared by every broker
// adapter.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingRoutingKey    = errors.New("envelope routing key is required")
	ErrMissingCorrelationID = errors.New("envelope correlation id is required")
	ErrRoutingKeyMismatch   = errors.New("envelope routing key does not match publish routing key")
)

// Envelope wraps every broker message. CorrelationID identifies the logical
// fact and stays the same across redelivery and republish.
type Envelope struct {
	RoutingKey    string          `json:"routingKey"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"sourceService"`
}

// NewEnvelope marshals payload and stamps the envelope with the current time.
func NewEnvelope(routingKey, correlationID, source string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}
	env := Envelope{
		RoutingKey:    routingKey,
		Payload:       body,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		SourceService: source,
	}
	return env, env.Validate()
}

// Validate checks the fields every consumer relies on.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.RoutingKey) == "" {
		return ErrMissingRoutingKey
	}
	if strings.TrimSpace(e.CorrelationID) == "" {
		return ErrMissingCorrelationID
	}
	return nil
}

// Decode unmarshals the payload into v. A payload that cannot be decoded is a
// poison message, so the error is marked permanent.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", e.RoutingKey, err))
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a wire message. Malformed bodies are permanent failures.
func Unmarshal(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if err := env.Validate(); err != nil {
		return env, Permanent(err)
	}
	return env, nil
}

// CorrelationID builds the deterministic idempotency key for a fact about the
// given aggregate ids, e.g. "payment.completed:<paymentId>".
func CorrelationID(routingKey string, ids ...string) string {
	return routingKey + ":" + strings.Join(ids, ":")
}
