package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AccessGate is the read-only decision point consumed by request-handling
// code elsewhere in the system. It reads the store and nothing else; the hot
// request path never waits on a provider.
type AccessGate struct {
	store RecordStore
}

// NewAccessGate creates a gate. Panics if the store is nil to fail fast
// during initialization.
func NewAccessGate(store RecordStore) *AccessGate {
	if store == nil {
		panic("billing: RecordStore is required")
	}
	return &AccessGate{store: store}
}

// HasAccess reports whether the subscriber currently has paid or trial
// access, along with the raw status for UI messaging. An unknown subscriber
// has no access; store failures fail closed with the error surfaced.
func (g *AccessGate) HasAccess(ctx context.Context, subscriberID uuid.UUID, now time.Time) (bool, Status, error) {
	rec, err := g.store.Get(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return false, "", ErrRecordNotFound
		}
		return false, "", err
	}
	return rec.HasAccessAt(now), rec.Status, nil
}

// Status returns the full read-only snapshot for a subscriber.
func (g *AccessGate) Status(ctx context.Context, subscriberID uuid.UUID, now time.Time) (Snapshot, error) {
	rec, err := g.store.Get(ctx, subscriberID)
	if err != nil {
		return Snapshot{}, err
	}
	return rec.Snapshot(now), nil
}
