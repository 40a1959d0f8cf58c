package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// CheckoutService starts hosted checkouts. It provisions the provider
// customer on first use and records the ref on the subscriber, so later
// webhook deliveries can be matched back to a local record.
type CheckoutService struct {
	provider PaymentProvider
	store    RecordStore
	plans    Catalog
	log      *slog.Logger
}

// NewCheckoutService creates a checkout service. Panics if required
// dependencies are nil to fail fast during initialization.
func NewCheckoutService(provider PaymentProvider, store RecordStore, plans Catalog, log *slog.Logger) *CheckoutService {
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if store == nil {
		panic("billing: RecordStore is required")
	}
	if len(plans) == 0 {
		panic("billing: at least one plan is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutService{provider: provider, store: store, plans: plans, log: log}
}

// Plans returns the purchasable plan catalog.
func (s *CheckoutService) Plans() Catalog {
	return s.plans
}

// CreateCheckout starts a checkout for a plan and returns the hosted
// checkout intent the client completes.
func (s *CheckoutService) CreateCheckout(ctx context.Context, subscriberID uuid.UUID, planID, email, successURL, cancelURL string) (*CheckoutIntent, error) {
	plan, err := s.plans.Find(planID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Get(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	customerRef, err := s.ensureCustomer(ctx, rec, email)
	if err != nil {
		return nil, err
	}

	intent, err := s.provider.CreateSubscription(ctx, CreateSubscriptionRequest{
		SubscriberID: subscriberID.String(),
		CustomerRef:  customerRef,
		PriceRef:     plan.PriceRef,
		Amount:       plan.Price,
		Interval:     plan.Interval,
		Description:  plan.Description,
		Email:        email,
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout with %s: %w", s.provider.Name(), err)
	}

	s.log.InfoContext(ctx, "checkout created",
		slog.String("subscriber_id", subscriberID.String()),
		slog.String("plan_id", plan.ID),
		slog.String("reference", intent.Reference))
	return intent, nil
}

// ensureCustomer returns the subscriber's provider customer ref, creating
// and persisting one if absent. A concurrent creator winning the CAS race
// is fine: the reloaded record's ref is used and the extra provider
// customer object is simply never referenced again.
func (s *CheckoutService) ensureCustomer(ctx context.Context, rec *SubscriberRecord, email string) (string, error) {
	if rec.ProviderCustomerRef != "" {
		return rec.ProviderCustomerRef, nil
	}

	ref, err := s.provider.CreateCustomer(ctx, email, "")
	if err != nil {
		return "", fmt.Errorf("create customer with %s: %w", s.provider.Name(), err)
	}

	rec.ProviderCustomerRef = ref
	if err := s.store.Update(ctx, rec); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			fresh, ferr := s.store.Get(ctx, rec.SubscriberID)
			if ferr != nil {
				return "", ferr
			}
			if fresh.ProviderCustomerRef != "" {
				return fresh.ProviderCustomerRef, nil
			}
			fresh.ProviderCustomerRef = ref
			if err := s.store.Update(ctx, fresh); err != nil {
				return "", err
			}
			return ref, nil
		}
		return "", err
	}
	return ref, nil
}
