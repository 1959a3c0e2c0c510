package models

import "fmt"

type Status string

const (
	StatusInitiated  Status = "Initiated"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusRefunded   Status = "Refunded"
	StatusCancelled  Status = "Cancelled"
)

// transitions is the whole payment lifecycle.
var transitions = map[Status][]Status{
	StatusInitiated:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
	StatusFailed:     nil,
	StatusRefunded:   nil,
	StatusCancelled:  nil,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown payment status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Open reports whether the payment can still move to Completed or Failed.
func (s Status) Open() bool { return s == StatusInitiated || s == StatusProcessing }

// AcceptsCapture reports whether a gateway success can still be recorded.
// A cancelled payment accepts one: the processor had already taken the
// money, and the completion must reach the manual refund path.
func (s Status) AcceptsCapture() bool { return s.Open() || s == StatusCancelled }

// Settled reports whether the gateway outcome has been recorded.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

type Method string

const (
	MethodCard   Method = "card"
	MethodUPI    Method = "upi"
	MethodWallet Method = "wallet"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCard, MethodUPI, MethodWallet:
		return true
	}
	return false
}
