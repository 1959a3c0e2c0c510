package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/receipt-service/models"
	"github.com/yashrajoria/marketplace/services/receipt-service/repository"
)

const paymentCompleted = "Completed"

type ReceiptService struct {
	store    repository.ReceiptStore
	payments PaymentReader
	now      func() time.Time
	logger   *zap.Logger
}

// NewReceiptService builds the service. With a nil payments reader the
// request body is trusted for amount and ownership.
func NewReceiptService(store repository.ReceiptStore, payments PaymentReader, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptService{store: store, payments: payments, now: time.Now, logger: logger}
}

func (s *ReceiptService) SetClock(now func() time.Time) { s.now = now }

// Create issues the receipt for a completed payment. Repeat calls return the
// receipt issued first; created reports whether this call issued it.
func (s *ReceiptService) Create(ctx context.Context, req models.CreateReceiptRequest) (*models.Receipt, bool, error) {
	if req.PaymentID == uuid.Nil {
		return nil, false, apperrors.Validation(apperrors.CodePaymentNotFound, "payment_id is required")
	}
	if existing, err := s.store.Get(ctx, req.PaymentID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperrors.Transient("Failed to read receipt", err)
	}

	r := &models.Receipt{
		ID:         models.ReceiptID(req.PaymentID),
		PaymentID:  req.PaymentID,
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		IssuedAt:   s.now().UTC(),
	}
	if s.payments != nil {
		p, err := s.payments.Get(ctx, req.PaymentID)
		if err != nil {
			return nil, false, err
		}
		if p.Status != paymentCompleted {
			return nil, false, apperrors.Validation(apperrors.CodePaymentNotCompleted, "Payment is "+p.Status+", not Completed")
		}
		r.OrderID, r.CustomerID, r.Amount, r.Currency = p.OrderID, p.UserID, p.Amount, p.Currency
	}
	if r.Amount <= 0 {
		return nil, false, apperrors.Validation(apperrors.CodeInvalidAmount, "Receipt amount must be positive")
	}
	r.Number = models.ReceiptNumber(r.ID, r.IssuedAt)

	err := s.store.Create(ctx, r)
	if errors.Is(err, repository.ErrExists) {
		existing, getErr := s.store.Get(ctx, req.PaymentID)
		if getErr != nil {
			return nil, false, apperrors.Transient("Failed to read receipt", getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Transient("Failed to store receipt", err)
	}
	s.logger.Info("Receipt issued",
		zap.String("receipt", r.Number),
		zap.String("payment_id", r.PaymentID.String()),
		zap.String("order_id", r.OrderID.String()),
		zap.Int64("amount", r.Amount),
	)
	return r, true, nil
}

// Get returns the payment's receipt. Unless privileged, only its customer
// may read it.
func (s *ReceiptService) Get(ctx context.Context, paymentID uuid.UUID, userID string, privileged bool) (*models.Receipt, error) {
	r, err := s.store.Get(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(apperrors.CodeReceiptNotFound, "Receipt not found")
	}
	if err != nil {
		return nil, apperrors.Transient("Failed to read receipt", err)
	}
	if !privileged && r.CustomerID != userID {
		return nil, apperrors.NotFound(apperrors.CodeReceiptNotFound, "Receipt not found")
	}
	return r, nil
}
