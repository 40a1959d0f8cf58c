package billing

import (
	"context"
	"time"
)

// PaymentProvider abstracts the external billing service of record. The
// project has run on two different processors over its lifetime, so only
// webhook parsing and the verification fetch are provider-specific; the
// state machine and the store never see provider detail.
//
// Implementations must verify webhook authenticity before any payload is
// trusted, and must collapse provider statuses into the closed Status set.
type PaymentProvider interface {
	// Name identifies the provider in logs and configuration.
	Name() string

	// CreateCustomer provisions a customer object at the provider and
	// returns its opaque ref.
	CreateCustomer(ctx context.Context, email, name string) (string, error)

	// CreateSubscription starts a checkout for a plan and returns the
	// hosted checkout intent the client completes.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*CheckoutIntent, error)

	// VerifyWebhookSignature checks a raw delivery against the pre-shared
	// secret. Returns ErrSignatureInvalid (possibly wrapped) on failure.
	VerifyWebhookSignature(payload []byte, signature string) error

	// ParseEventToFact converts a verified webhook payload into a Fact.
	// ok is false for event types the system deliberately ignores; those
	// deliveries are acknowledged so the provider stops retrying them.
	// Some providers deliver only an object id and require a fetch for the
	// authoritative state, hence the context.
	ParseEventToFact(ctx context.Context, payload []byte) (fact Fact, ok bool, err error)

	// FetchCheckout resolves a checkout reference to the authoritative
	// subscription state, used by the synchronous verification path.
	// Returns ErrCheckoutNotFound if the reference does not resolve and
	// ErrProviderUnavailable on timeout or provider-side failure.
	FetchCheckout(ctx context.Context, checkoutRef string) (*ProviderSubscription, error)
}

// CreateSubscriptionRequest carries everything a provider needs to start a
// hosted checkout.
type CreateSubscriptionRequest struct {
	SubscriberID string // internal id, round-tripped through provider metadata
	CustomerRef  string // provider customer ref, created beforehand if absent

	// PriceRef identifies a provider-side price object where the provider
	// has a catalog (Paddle). Providers without one (Mollie) charge the
	// explicit amount and interval instead.
	PriceRef    string
	Amount      Money
	Interval    BillingInterval
	Description string

	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutIntent is a hosted checkout session the client completes.
type CheckoutIntent struct {
	CheckoutURL string    `json:"checkout_url"`
	Reference   string    `json:"reference"` // provider checkout/transaction ref, later passed to Verify
	ExpiresAt   time.Time `json:"expires_at"`
}

// ProviderSubscription is the authoritative subscription state fetched from
// the provider during verification.
type ProviderSubscription struct {
	SubscriberID     string // internal id recovered from provider metadata
	CustomerRef      string
	SubscriptionRef  string
	Status           Status
	CurrentPeriodEnd *time.Time
	OccurredAt       time.Time // provider's last-updated time for the subscription
}
