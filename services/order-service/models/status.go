package models

import "fmt"

type Status string

const (
	StatusPending        Status = "Pending"
	StatusPendingPayment Status = "PendingPayment"
	StatusConfirmed      Status = "Confirmed"
	StatusProcessing     Status = "Processing"
	StatusShipped        Status = "Shipped"
	StatusOutForDelivery Status = "OutForDelivery"
	StatusDelivered      Status = "Delivered"
	StatusCancelled      Status = "Cancelled"
	StatusRefunded       Status = "Refunded"
)

// transitions is the complete order lifecycle. Anything not listed is illegal.
var transitions = map[Status][]Status{
	StatusPending:        {StatusPendingPayment, StatusConfirmed, StatusCancelled},
	StatusPendingPayment: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusShipped, StatusCancelled},
	StatusShipped:        {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {StatusRefunded},
	StatusCancelled:      nil,
	StatusRefunded:       nil,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Cancellable reports whether a customer or operator may still cancel.
func (s Status) Cancellable() bool { return s.CanTransitionTo(StatusCancelled) }

func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

// AwaitingPayment is true while a payment fact can still move the order.
func (s Status) AwaitingPayment() bool {
	return s == StatusPending || s == StatusPendingPayment
}

type PaymentMethod string

const (
	MethodCard   PaymentMethod = "card"
	MethodUPI    PaymentMethod = "upi"
	MethodWallet PaymentMethod = "wallet"
	MethodCOD    PaymentMethod = "cod"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodUPI, MethodWallet, MethodCOD:
		return true
	}
	return false
}

// Online methods are settled through the payment ledger before confirmation.
func (m PaymentMethod) Online() bool { return m.Valid() && m != MethodCOD }
