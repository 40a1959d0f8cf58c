package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory RecordStore for tests and local development.
// It honors the same versioned conditional-write contract as the durable
// implementations.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*SubscriberRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*SubscriberRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, subscriberID uuid.UUID) (*SubscriberRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[subscriberID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetByProviderRef(ctx context.Context, ref string) (*SubscriberRecord, error) {
	if ref == "" {
		return nil, ErrRecordNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ProviderCustomerRef == ref || rec.ProviderSubscriptionRef == ref {
			return rec.Clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) Create(ctx context.Context, rec *SubscriberRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.SubscriberID]; ok {
		return ErrRecordAlreadyExists
	}

	stored := rec.Clone()
	stored.Version = 1
	s.records[rec.SubscriberID] = stored
	rec.Version = 1
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *SubscriberRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.SubscriberID]
	if !ok {
		return ErrRecordNotFound
	}
	if current.Version != rec.Version {
		return ErrVersionConflict
	}

	stored := rec.Clone()
	stored.Version = rec.Version + 1
	s.records[rec.SubscriberID] = stored
	rec.Version = stored.Version
	return nil
}

func (s *MemoryStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*SubscriberRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*SubscriberRecord
	for _, rec := range s.records {
		if rec.Status == StatusTrial && rec.TrialEnd.Before(now) {
			expired = append(expired, rec.Clone())
		}
	}
	return expired, nil
}
