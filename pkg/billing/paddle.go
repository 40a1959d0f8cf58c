package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	paddleerr "github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements PaymentProvider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

// CreateCustomer provisions a Paddle customer and returns its ctm_ ref.
func (p *PaddleProvider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	req := &paddle.CreateCustomerRequest{Email: email}
	if name != "" {
		req.Name = paddle.PtrTo(name)
	}

	customer, err := p.client.CustomersClient.CreateCustomer(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer: %w", err)
	}
	return customer.ID, nil
}

// CreateSubscription creates a hosted checkout transaction in Paddle. The
// internal subscriber id travels in custom data so webhooks and verification
// can be matched back to the local record.
func (p *PaddleProvider) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*CheckoutIntent, error) {
	if req.PriceRef == "" {
		return nil, errors.New("price ref is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceRef,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"subscriber_id": req.SubscriberID,
		},
	}
	if req.CustomerRef != "" {
		transactionReq.CustomerID = paddle.PtrTo(req.CustomerRef)
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, errors.New("no checkout URL returned from paddle")
	}

	return &CheckoutIntent{
		CheckoutURL: *transaction.Checkout.URL,
		Reference:   transaction.ID,
		ExpiresAt:   time.Now().Add(24 * time.Hour), // Paddle checkout links expire in 24 hours
	}, nil
}

// VerifyWebhookSignature checks the Paddle-Signature header against the raw
// body using the SDK's verifier, which expects an http.Request.
func (p *PaddleProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if !valid {
		return ErrSignatureInvalid
	}
	return nil
}

// paddleEvent is the webhook envelope shared by all Paddle event types.
type paddleEvent struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	Data       struct {
		ID                   string         `json:"id"`
		Status               string         `json:"status"`
		CustomerID           string         `json:"customer_id"`
		CustomData           map[string]any `json:"custom_data"`
		CurrentBillingPeriod *struct {
			EndsAt string `json:"ends_at"`
		} `json:"current_billing_period"`
	} `json:"data"`
}

// ParseEventToFact converts a Paddle subscription event into a fact.
// Transaction and non-subscription events are acknowledged and ignored;
// subscription state only changes on subscription.* events.
func (p *PaddleProvider) ParseEventToFact(_ context.Context, payload []byte) (Fact, bool, error) {
	var ev paddleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Fact{}, false, fmt.Errorf("failed to parse paddle webhook payload: %w", err)
	}

	if !strings.HasPrefix(ev.EventType, "subscription.") {
		return Fact{}, false, nil
	}

	status, ok := mapPaddleStatus(ev.Data.Status)
	if !ok {
		return Fact{}, false, nil
	}

	occurredAt, err := time.Parse(time.RFC3339, ev.OccurredAt)
	if err != nil {
		return Fact{}, false, fmt.Errorf("invalid occurred_at in paddle event %s: %w", ev.EventID, err)
	}

	fact := Fact{
		FactID:          ev.EventID,
		SubjectRef:      ev.Data.ID,
		Origin:          OriginWebhook,
		OccurredAt:      occurredAt.UTC(),
		ClaimedStatus:   status,
		CustomerRef:     ev.Data.CustomerID,
		SubscriptionRef: ev.Data.ID,
	}

	if ev.Data.CurrentBillingPeriod != nil && ev.Data.CurrentBillingPeriod.EndsAt != "" {
		ends, err := time.Parse(time.RFC3339, ev.Data.CurrentBillingPeriod.EndsAt)
		if err != nil {
			return Fact{}, false, fmt.Errorf("invalid billing period in paddle event %s: %w", ev.EventID, err)
		}
		ends = ends.UTC()
		fact.ClaimedPeriodEnd = &ends
	}

	return fact, true, nil
}

// FetchCheckout resolves a checkout transaction to the subscription it
// created and returns the authoritative subscription state.
func (p *PaddleProvider) FetchCheckout(ctx context.Context, checkoutRef string) (*ProviderSubscription, error) {
	transaction, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: checkoutRef,
	})
	if err != nil {
		return nil, mapPaddleError(err)
	}
	if transaction.SubscriptionID == nil || *transaction.SubscriptionID == "" {
		// Checkout completed but the subscription object is not materialized
		// yet; the caller retries client-side.
		return nil, fmt.Errorf("%w: transaction %s has no subscription yet", ErrProviderUnavailable, checkoutRef)
	}

	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: *transaction.SubscriptionID,
	})
	if err != nil {
		return nil, mapPaddleError(err)
	}

	status, ok := mapPaddleStatus(string(sub.Status))
	if !ok {
		return nil, fmt.Errorf("unexpected paddle subscription status %q", sub.Status)
	}

	ps := &ProviderSubscription{
		CustomerRef:     sub.CustomerID,
		SubscriptionRef: sub.ID,
		Status:          status,
		OccurredAt:      time.Now().UTC(),
	}

	if subjectID, ok := sub.CustomData["subscriber_id"].(string); ok {
		ps.SubscriberID = subjectID
	}
	if sub.CurrentBillingPeriod != nil && sub.CurrentBillingPeriod.EndsAt != "" {
		if ends, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt); err == nil {
			ends = ends.UTC()
			ps.CurrentPeriodEnd = &ends
		}
	}
	if sub.UpdatedAt != "" {
		if updated, err := time.Parse(time.RFC3339, sub.UpdatedAt); err == nil {
			ps.OccurredAt = updated.UTC()
		}
	}

	return ps, nil
}

// mapPaddleStatus collapses Paddle subscription statuses into the closed
// internal set. Provider-managed trials grant access the same way a paid
// period does; the local trial window is tracked separately.
func mapPaddleStatus(paddleStatus string) (Status, bool) {
	switch strings.ToLower(paddleStatus) {
	case "active", "trialing":
		return StatusActive, true
	case "past_due":
		return StatusPastDue, true
	case "canceled", "cancelled":
		return StatusCancelled, true
	case "paused":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// mapPaddleError distinguishes an unresolvable reference from provider
// failure so the verification caller can react correctly.
func mapPaddleError(err error) error {
	var pErr *paddleerr.Error
	if errors.As(err, &pErr) && strings.Contains(pErr.Code, "not_found") {
		return fmt.Errorf("%w: %w", ErrCheckoutNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}
