package gateway

import (
	"context"
	"sync"
)

// Fake is a deterministic in-process gateway. Every intent succeeds unless
// it was declined with Decline or left pending with Hold. An intent that has
// been reported succeeded can no longer be cancelled.
type Fake struct {
	mu       sync.Mutex
	intents  map[string]int64
	declined map[string]string
	held     map[string]bool
	captured map[string]bool
	refunds  map[string]int64
	// VerifyCalls counts Verify invocations.
	VerifyCalls int
}

func NewFake() *Fake {
	return &Fake{
		intents:  map[string]int64{},
		declined: map[string]string{},
		held:     map[string]bool{},
		captured: map[string]bool{},
		refunds:  map[string]int64{},
	}
}

// ReferenceFor is the reference Fake assigns to a payment's intent.
func ReferenceFor(req IntentRequest) string { return "pi_fake_" + req.PaymentID.String() }

func (f *Fake) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := ReferenceFor(req)
	f.intents[ref] = req.Amount
	return &Intent{Reference: ref, ClientSecret: ref + "_secret"}, nil
}

func (f *Fake) Decline(reference, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined[reference] = reason
}

func (f *Fake) Hold(reference string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[reference] = true
}

// Capture settles a held intent as succeeded, the way the processor does
// when the customer finishes authentication late.
func (f *Fake) Capture(reference string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, reference)
	f.captured[reference] = true
}

func (f *Fake) Verify(ctx context.Context, reference string) (*Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VerifyCalls++
	if _, ok := f.intents[reference]; !ok {
		return nil, ErrUnknownReference
	}
	if reason, ok := f.declined[reference]; ok {
		return &Outcome{Status: OutcomeFailed, Reason: reason}, nil
	}
	if f.held[reference] {
		return &Outcome{Status: OutcomePending}, nil
	}
	f.captured[reference] = true
	return &Outcome{Status: OutcomeSucceeded}, nil
}

func (f *Fake) Refund(ctx context.Context, reference string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.intents[reference]; !ok {
		return ErrUnknownReference
	}
	f.refunds[reference] += amount
	return nil
}

func (f *Fake) Refunded(reference string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunds[reference]
}

func (f *Fake) Cancel(ctx context.Context, reference string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captured[reference] {
		return ErrNotCancellable
	}
	f.declined[reference] = "canceled"
	delete(f.held, reference)
	return nil
}
