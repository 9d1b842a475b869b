package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"kings-storefront/internal/pos"
)

// MemoryReceiptStore keeps receipts in process memory. It is used when no
// database is configured.
type MemoryReceiptStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*pos.Receipt
	byKey map[string]uuid.UUID
}

// NewMemoryReceiptStore returns an empty store.
func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{
		byID:  make(map[uuid.UUID]*pos.Receipt),
		byKey: make(map[string]uuid.UUID),
	}
}

func (s *MemoryReceiptStore) SaveReceipt(_ context.Context, r *pos.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[r.IdempotencyKey]; ok {
		return ErrReceiptExists
	}
	if _, ok := s.byID[r.ID]; ok {
		return ErrReceiptExists
	}
	cp := *r
	s.byID[r.ID] = &cp
	s.byKey[r.IdempotencyKey] = r.ID
	return nil
}

func (s *MemoryReceiptStore) GetReceipt(_ context.Context, id uuid.UUID) (*pos.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryReceiptStore) GetReceiptByIdempotencyKey(ctx context.Context, key string) (*pos.Receipt, error) {
	s.mu.RLock()
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return s.GetReceipt(ctx, id)
}
