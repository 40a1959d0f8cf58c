package billing

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// SubscriberRecord is the single authoritative billing state for one
// subscriber. It is created once at signup, mutated only through the state
// machine, and never deleted; cancelled and inactive records remain
// queryable for historical reporting.
type SubscriberRecord struct {
	SubscriberID uuid.UUID

	// ProviderCustomerRef and ProviderSubscriptionRef are opaque external
	// identifiers. Either may be absent until the first payment event.
	ProviderCustomerRef     string
	ProviderSubscriptionRef string

	Status Status

	// TrialStart and TrialEnd are set exactly once at creation and are
	// never mutated afterward.
	TrialStart time.Time
	TrialEnd   time.Time

	// CurrentPeriodEnd marks paid-access expiry. Once set it only moves
	// forward in time.
	CurrentPeriodEnd *time.Time

	// LastAppliedFactTime is the occurredAt of the most recent fact that
	// was allowed to mutate Status or CurrentPeriodEnd. It is a provider
	// clock, not a wall-clock arrival time.
	LastAppliedFactTime time.Time

	// AppliedFacts is the idempotency ledger, retained for a rolling
	// window so replayed provider events produce no mutation.
	AppliedFacts []AppliedFact

	// Version is the optimistic concurrency token. Stores reject writes
	// whose version does not match the stored one.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubscriberRecord creates a record at signup in trial status with the
// given trial window.
func NewSubscriberRecord(subscriberID uuid.UUID, now time.Time, trialDays int) *SubscriberRecord {
	now = now.UTC()
	return &SubscriberRecord{
		SubscriberID: subscriberID,
		Status:       StatusTrial,
		TrialStart:   now,
		TrialEnd:     now.AddDate(0, 0, trialDays),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RegisterSubscriber provisions the billing record at signup: trial status
// with the given window, idempotent against double provisioning.
func RegisterSubscriber(ctx context.Context, store RecordStore, subscriberID uuid.UUID, now time.Time, trialDays int) (*SubscriberRecord, error) {
	rec := NewSubscriberRecord(subscriberID, now, trialDays)
	if err := store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrRecordAlreadyExists) {
			return store.Get(ctx, subscriberID)
		}
		return nil, err
	}
	return rec, nil
}

// HasAccessAt reports whether the subscriber has paid or trial access at the
// given instant. Pure read, no provider calls.
func (r *SubscriberRecord) HasAccessAt(now time.Time) bool {
	switch r.Status {
	case StatusActive:
		return r.CurrentPeriodEnd == nil || r.CurrentPeriodEnd.After(now)
	case StatusTrial:
		return r.TrialEnd.After(now)
	}
	return false
}

// HasAppliedFact reports whether a fact id is present in the idempotency ledger.
func (r *SubscriberRecord) HasAppliedFact(factID string) bool {
	return slices.ContainsFunc(r.AppliedFacts, func(f AppliedFact) bool {
		return f.ID == factID
	})
}

// Snapshot returns the read-only view of the record at the given instant.
func (r *SubscriberRecord) Snapshot(now time.Time) Snapshot {
	var periodEnd *time.Time
	if r.CurrentPeriodEnd != nil {
		t := *r.CurrentPeriodEnd
		periodEnd = &t
	}
	return Snapshot{
		SubscriberID:     r.SubscriberID.String(),
		Status:           r.Status,
		TrialEndsAt:      r.TrialEnd,
		CurrentPeriodEnd: periodEnd,
		HasAccess:        r.HasAccessAt(now),
	}
}

// Clone returns a deep copy so the state machine can stay side-effect free.
func (r *SubscriberRecord) Clone() *SubscriberRecord {
	cp := *r
	if r.CurrentPeriodEnd != nil {
		t := *r.CurrentPeriodEnd
		cp.CurrentPeriodEnd = &t
	}
	cp.AppliedFacts = slices.Clone(r.AppliedFacts)
	return &cp
}
