package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

const maxWebhookBody = 64 << 10

type Stripe struct {
	api        *client.API
	webhookKey string
}

func NewStripe(secretKey, webhookKey string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api, webhookKey: webhookKey}
}

func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
	}
	params.Context = ctx
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("order_id", req.OrderID.String())
	params.SetIdempotencyKey("intent-" + req.PaymentID.String())

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create intent: %w", err)
	}
	return &Intent{Reference: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *Stripe) Verify(ctx context.Context, reference string) (*Outcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(reference, params)
	if err != nil {
		if se, ok := err.(*stripe.Error); ok && se.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrUnknownReference
		}
		return nil, fmt.Errorf("stripe get intent: %w", err)
	}
	return intentOutcome(pi), nil
}

func (s *Stripe) Refund(ctx context.Context, reference string, amount int64) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(reference),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + reference)
	if _, err := s.api.Refunds.New(params); err != nil {
		return fmt.Errorf("stripe refund: %w", err)
	}
	return nil
}

func (s *Stripe) Cancel(ctx context.Context, reference string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Cancel(reference, params); err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return fmt.Errorf("stripe cancel intent: %w: %v", ErrNotCancellable, err)
		}
		return fmt.Errorf("stripe cancel intent: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the intent
// outcome. Events that carry no payment intent return a nil Event.
func (s *Stripe) ParseWebhook(r *http.Request) (*Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, err
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.webhookKey,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, err
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		return nil, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return &Event{ID: event.ID, Type: string(event.Type), Reference: pi.ID, Outcome: *intentOutcome(&pi)}, nil
}

func intentOutcome(pi *stripe.PaymentIntent) *Outcome {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &Outcome{Status: OutcomeSucceeded}
	case stripe.PaymentIntentStatusCanceled:
		return &Outcome{Status: OutcomeFailed, Reason: "canceled"}
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			reason := string(pi.LastPaymentError.Code)
			if reason == "" {
				reason = pi.LastPaymentError.Msg
			}
			return &Outcome{Status: OutcomeFailed, Reason: reason}
		}
	}
	return &Outcome{Status: OutcomePending}
}
