// Package gateway abstracts the card processor behind the payment ledger.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUnknownReference = errors.New("unknown gateway reference")
	// ErrNotCancellable is returned by Cancel once the intent has succeeded.
	ErrNotCancellable = errors.New("intent can no longer be cancelled")
)

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomePending   OutcomeStatus = "pending"
)

// Outcome is the gateway's verdict on an intent.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

type IntentRequest struct {
	PaymentID uuid.UUID
	OrderID   uuid.UUID
	Amount    int64
	Currency  string
	Method    string
}

type Intent struct {
	Reference    string
	ClientSecret string
}

// Gateway is implemented by Stripe and by Fake.
type Gateway interface {
	// CreateIntent must be idempotent per PaymentID.
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Verify(ctx context.Context, reference string) (*Outcome, error)
	Refund(ctx context.Context, reference string, amount int64) error
	// Cancel fails for an intent that already succeeded; callers should
	// Verify to learn the real outcome.
	Cancel(ctx context.Context, reference string) error
}

// Event is a verified asynchronous notification from the gateway.
type Event struct {
	ID        string
	Type      string
	Reference string
	Outcome   Outcome
}
