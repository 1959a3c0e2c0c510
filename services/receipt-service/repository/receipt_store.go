package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/services/receipt-service/models"
)

var (
	ErrNotFound = errors.New("receipt not found")
	ErrExists   = errors.New("receipt already exists")
)

// ReceiptStore keeps at most one receipt per payment.
type ReceiptStore interface {
	Get(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, error)
	// Create stores r unless its payment already has a receipt (ErrExists).
	Create(ctx context.Context, r *models.Receipt) error
}

// Key is where a payment's receipt lives in the bucket.
func Key(paymentID uuid.UUID) string {
	return fmt.Sprintf("receipts/%s.json", paymentID)
}

type S3ReceiptStore struct {
	objects *awspkg.ObjectStore
}

func NewS3ReceiptStore(objects *awspkg.ObjectStore) *S3ReceiptStore {
	return &S3ReceiptStore{objects: objects}
}

func (s *S3ReceiptStore) Get(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, error) {
	body, err := s.objects.Get(ctx, Key(paymentID))
	if errors.Is(err, awspkg.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r models.Receipt
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", paymentID, err)
	}
	return &r, nil
}

func (s *S3ReceiptStore) Create(ctx context.Context, r *models.Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	err = s.objects.PutJSONIfAbsent(ctx, Key(r.PaymentID), body)
	if errors.Is(err, awspkg.ErrObjectExists) {
		return ErrExists
	}
	return err
}

type MemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts map[uuid.UUID]models.Receipt
}

func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{receipts: map[uuid.UUID]models.Receipt{}}
}

func (s *MemoryReceiptStore) Get(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryReceiptStore) Create(ctx context.Context, r *models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.PaymentID]; ok {
		return ErrExists
	}
	s.receipts[r.PaymentID] = *r
	return nil
}
