package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const defaultVerifyTimeout = 5 * time.Second

// VerificationService is the synchronous path invoked right after a client
// completes checkout, before any webhook may have arrived. It fetches the
// authoritative subscription from the provider and funnels it through the
// same state machine as the ingestor, so whichever of {webhook, verify}
// lands first wins no permanent inconsistency: the second application is
// idempotent or stale-discarded, never a regression.
type VerificationService struct {
	provider PaymentProvider
	store    RecordStore
	timeout  time.Duration
	log      *slog.Logger
}

// NewVerificationService creates a verification service. Panics if required
// dependencies are nil to fail fast during initialization.
func NewVerificationService(provider PaymentProvider, store RecordStore, log *slog.Logger, opts ...VerificationOption) *VerificationService {
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if store == nil {
		panic("billing: RecordStore is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &VerificationService{
		provider: provider,
		store:    store,
		timeout:  defaultVerifyTimeout,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerificationOption configures optional verification settings.
type VerificationOption func(*VerificationService)

// WithVerifyTimeout bounds the outbound provider call. Zero or negative
// values are ignored.
func WithVerifyTimeout(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Verify resolves a checkout reference at the provider and applies the
// resulting fact to the caller's record.
//
// Fails with ErrCheckoutNotFound if the reference does not resolve,
// ErrSubjectMismatch if the checkout belongs to a different subscriber, and
// ErrProviderUnavailable on provider timeout or failure. No partial state is
// written on failure: the fact is only constructed after a successful
// provider response.
func (s *VerificationService) Verify(ctx context.Context, subscriberID uuid.UUID, checkoutRef string) (Snapshot, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sub, err := s.provider.FetchCheckout(fetchCtx, checkoutRef)
	if err != nil {
		if fetchCtx.Err() != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return Snapshot{}, err
	}

	// The checkout carries the internal subscriber id in provider metadata;
	// a mismatch means the caller is verifying someone else's checkout.
	if sub.SubscriberID != "" && sub.SubscriberID != subscriberID.String() {
		s.log.WarnContext(ctx, "checkout subject mismatch",
			slog.String("checkout_ref", checkoutRef),
			slog.String("caller", subscriberID.String()),
			slog.String("checkout_subject", sub.SubscriberID))
		return Snapshot{}, ErrSubjectMismatch
	}

	fact := Fact{
		// Stable id derived from the provider subscription and its own
		// event time: re-verifying the same state is a natural duplicate.
		FactID:           fmt.Sprintf("verify:%s:%d", sub.SubscriptionRef, sub.OccurredAt.Unix()),
		Origin:           OriginVerification,
		OccurredAt:       sub.OccurredAt,
		ClaimedStatus:    sub.Status,
		ClaimedPeriodEnd: sub.CurrentPeriodEnd,
		CustomerRef:      sub.CustomerRef,
		SubscriptionRef:  sub.SubscriptionRef,
	}

	load := func(ctx context.Context) (*SubscriberRecord, error) {
		return s.store.Get(ctx, subscriberID)
	}

	rec, _, err := applyFact(ctx, s.store, load, fact, s.log)
	if err != nil {
		return Snapshot{}, err
	}

	return rec.Snapshot(time.Now().UTC()), nil
}
