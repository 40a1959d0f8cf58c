package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MollieConfig holds configuration for the Mollie billing provider.
type MollieConfig struct {
	APIKey        string        `env:"MOLLIE_API_KEY"`
	WebhookSecret string        `env:"MOLLIE_WEBHOOK_SECRET"`
	BaseURL       string        `env:"MOLLIE_BASE_URL" envDefault:"https://api.mollie.com"`
	WebhookURL    string        `env:"MOLLIE_WEBHOOK_URL"`
	HTTPTimeout   time.Duration `env:"MOLLIE_HTTP_TIMEOUT" envDefault:"10s"`
}

// MollieProvider implements PaymentProvider against the Mollie v2 REST API.
// Mollie has no official Go SDK, so this is a thin client over net/http.
// Mollie webhooks carry only an object id; the authoritative state is always
// fetched back from the API, which is why ParseEventToFact takes a context.
type MollieProvider struct {
	config MollieConfig
	http   *http.Client
}

// NewMollieProvider creates a new Mollie billing provider.
func NewMollieProvider(config MollieConfig) (*MollieProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.mollie.com"
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 10 * time.Second
	}

	return &MollieProvider{
		config: config,
		http:   &http.Client{Timeout: config.HTTPTimeout},
	}, nil
}

func (p *MollieProvider) Name() string { return "mollie" }

// molliePayment is the subset of Mollie's payment resource the core needs.
type molliePayment struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	CreatedAt      string            `json:"createdAt"`
	PaidAt         string            `json:"paidAt"`
	CanceledAt     string            `json:"canceledAt"`
	ExpiredAt      string            `json:"expiredAt"`
	CustomerID     string            `json:"customerId"`
	SubscriptionID string            `json:"subscriptionId"`
	Metadata       map[string]string `json:"metadata"`
	Links          struct {
		Checkout struct {
			Href string `json:"href"`
		} `json:"checkout"`
	} `json:"_links"`
}

type mollieSubscription struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	NextPaymentDate string `json:"nextPaymentDate"`
	CanceledAt      string `json:"canceledAt"`
}

// CreateCustomer provisions a Mollie customer and returns its cst_ ref.
func (p *MollieProvider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if name == "" {
		// Mollie requires a name; fall back to the mailbox like the
		// signup flow does.
		name, _, _ = strings.Cut(email, "@")
	}

	var out struct {
		ID string `json:"id"`
	}
	err := p.do(ctx, http.MethodPost, "/v2/customers", map[string]any{
		"email": email,
		"name":  name,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateSubscription creates the first payment of a recurring sequence and
// returns its hosted checkout. The recurring mandate is established when the
// customer completes this payment.
func (p *MollieProvider) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*CheckoutIntent, error) {
	if req.CustomerRef == "" {
		return nil, ErrMissingProviderCustomerRef
	}

	body := map[string]any{
		"amount": map[string]string{
			"currency": req.Amount.Currency,
			"value":    formatMollieAmount(req.Amount.Amount),
		},
		"description":  req.Description,
		"sequenceType": "first",
		"redirectUrl":  req.SuccessURL,
		"metadata": map[string]string{
			"subscriber_id": req.SubscriberID,
		},
	}
	if p.config.WebhookURL != "" {
		body["webhookUrl"] = p.config.WebhookURL
	}

	var payment molliePayment
	path := fmt.Sprintf("/v2/customers/%s/payments", url.PathEscape(req.CustomerRef))
	if err := p.do(ctx, http.MethodPost, path, body, &payment); err != nil {
		return nil, err
	}
	if payment.Links.Checkout.Href == "" {
		return nil, fmt.Errorf("no checkout URL returned from mollie for payment %s", payment.ID)
	}

	return &CheckoutIntent{
		CheckoutURL: payment.Links.Checkout.Href,
		Reference:   payment.ID,
		ExpiresAt:   time.Now().Add(time.Hour), // Mollie payment links expire after an hour of inactivity
	}, nil
}

// VerifyWebhookSignature checks the raw delivery against the pre-shared
// secret: HMAC-SHA256 over the body, hex encoded, constant-time comparison.
// A "sha256=" prefix on the header value is accepted.
func (p *MollieProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return fmt.Errorf("%w: signature header missing", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(p.config.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}
	return nil
}

// ParseEventToFact resolves a webhook poke ("id=tr_...") to a fact. The
// delivery itself carries no state; the payment is fetched back from the
// API, and for recurring payments the owning subscription supplies the
// subscription status and the next payment date.
func (p *MollieProvider) ParseEventToFact(ctx context.Context, payload []byte) (Fact, bool, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return Fact{}, false, fmt.Errorf("failed to parse mollie webhook body: %w", err)
	}

	paymentID := values.Get("id")
	if !strings.HasPrefix(paymentID, "tr_") {
		// Mollie announces subscription charges through their payment ids,
		// and a bare non-payment poke carries no customer ref to resolve
		// the object by, so those are acknowledged and ignored.
		return Fact{}, false, nil
	}

	payment, err := p.fetchPayment(ctx, paymentID)
	if err != nil {
		return Fact{}, false, err
	}

	// The owning subscription is the only authority on cancellation. A
	// payment status is never promoted to a subscription-level terminal
	// state on its own.
	sub := p.subscriptionForPayment(ctx, payment)
	if sub != nil && mollieSubscriptionRevoked(sub.Status) {
		return Fact{
			FactID:          fmt.Sprintf("mollie:%s:%s", sub.ID, strings.ToLower(sub.Status)),
			SubjectRef:      sub.ID,
			Origin:          OriginWebhook,
			OccurredAt:      mollieCancelTime(sub, payment),
			ClaimedStatus:   StatusCancelled,
			CustomerRef:     payment.CustomerID,
			SubscriptionRef: sub.ID,
		}, true, nil
	}

	status, ok := mapMolliePaymentStatus(payment)
	if !ok {
		return Fact{}, false, nil
	}

	fact := Fact{
		// Mollie redelivers the same payment id on every status change, so
		// the status is part of the fact identity.
		FactID:          fmt.Sprintf("mollie:%s:%s", payment.ID, payment.Status),
		SubjectRef:      subjectRefForPayment(payment),
		Origin:          OriginWebhook,
		OccurredAt:      mollieStatusTime(payment),
		ClaimedStatus:   status,
		CustomerRef:     payment.CustomerID,
		SubscriptionRef: payment.SubscriptionID,
	}

	if status == StatusActive {
		fact.ClaimedPeriodEnd = mollieNextPeriodEnd(sub)
	}

	return fact, true, nil
}

// FetchCheckout resolves a first-payment reference to the authoritative
// subscription state during verification.
func (p *MollieProvider) FetchCheckout(ctx context.Context, checkoutRef string) (*ProviderSubscription, error) {
	payment, err := p.fetchPayment(ctx, checkoutRef)
	if err != nil {
		return nil, err
	}

	status, ok := mapMolliePaymentStatus(payment)
	if !ok {
		switch strings.ToLower(payment.Status) {
		case "canceled", "expired":
			// The checkout lapsed before completion; there is nothing to
			// verify and the client starts a new checkout.
			return nil, fmt.Errorf("%w: checkout payment %s is %s", ErrCheckoutNotFound, payment.ID, payment.Status)
		default:
			return nil, fmt.Errorf("unexpected mollie payment status %q", payment.Status)
		}
	}

	ps := &ProviderSubscription{
		SubscriberID:    payment.Metadata["subscriber_id"],
		CustomerRef:     payment.CustomerID,
		SubscriptionRef: payment.SubscriptionID,
		Status:          status,
		OccurredAt:      mollieStatusTime(payment),
	}

	sub := p.subscriptionForPayment(ctx, payment)
	switch {
	case sub != nil && mollieSubscriptionRevoked(sub.Status):
		ps.Status = StatusCancelled
		ps.OccurredAt = mollieCancelTime(sub, payment)
	case status == StatusActive:
		ps.CurrentPeriodEnd = mollieNextPeriodEnd(sub)
	}
	return ps, nil
}

// subscriptionForPayment fetches the owning subscription of a recurring
// payment. Best effort: a paid fact without a period end still activates
// access, so a failed lookup degrades instead of erroring.
func (p *MollieProvider) subscriptionForPayment(ctx context.Context, payment molliePayment) *mollieSubscription {
	if payment.SubscriptionID == "" || payment.CustomerID == "" {
		return nil
	}

	var sub mollieSubscription
	path := fmt.Sprintf("/v2/customers/%s/subscriptions/%s",
		url.PathEscape(payment.CustomerID), url.PathEscape(payment.SubscriptionID))
	if err := p.do(ctx, http.MethodGet, path, nil, &sub); err != nil {
		return nil
	}
	return &sub
}

// mollieNextPeriodEnd converts a subscription's next payment date into a
// period-end instant. Mollie reports dates, not instants; end of that day
// keeps access through the whole billing day.
func mollieNextPeriodEnd(sub *mollieSubscription) *time.Time {
	if sub == nil || sub.NextPaymentDate == "" {
		return nil
	}
	day, err := time.Parse("2006-01-02", sub.NextPaymentDate)
	if err != nil {
		return nil
	}
	end := day.Add(24 * time.Hour).UTC()
	return &end
}

func (p *MollieProvider) fetchPayment(ctx context.Context, paymentID string) (molliePayment, error) {
	var payment molliePayment
	path := "/v2/payments/" + url.PathEscape(paymentID)
	if err := p.do(ctx, http.MethodGet, path, nil, &payment); err != nil {
		return molliePayment{}, err
	}
	return payment, nil
}

// do executes one API call, mapping 404 to ErrCheckoutNotFound and
// everything else non-2xx to ErrProviderUnavailable.
func (p *MollieProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode mollie request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: mollie %s %s", ErrCheckoutNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: mollie %s %s returned %d", ErrProviderUnavailable, method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: failed to decode mollie response: %w", ErrProviderUnavailable, err)
		}
	}
	return nil
}

// mapMolliePaymentStatus collapses a Mollie payment status into the closed
// internal set. Payment statuses never produce the terminal cancelled state:
// an abandoned first checkout established nothing to revoke, and a canceled
// or expired recurring charge is a collection problem, not a cancellation.
func mapMolliePaymentStatus(payment molliePayment) (Status, bool) {
	switch strings.ToLower(payment.Status) {
	case "paid":
		return StatusActive, true
	case "open", "pending", "authorized":
		return StatusPendingPayment, true
	case "failed":
		return StatusPastDue, true
	case "canceled", "expired":
		if payment.SubscriptionID == "" {
			return "", false
		}
		return StatusPastDue, true
	default:
		return "", false
	}
}

// mollieSubscriptionRevoked reports whether a subscription status means the
// recurring agreement no longer exists.
func mollieSubscriptionRevoked(status string) bool {
	switch strings.ToLower(status) {
	case "canceled", "suspended", "completed":
		return true
	}
	return false
}

// mollieCancelTime returns the instant the subscription was revoked, falling
// back to the triggering payment's status time.
func mollieCancelTime(sub *mollieSubscription, payment molliePayment) time.Time {
	if sub.CanceledAt != "" {
		if t, err := time.Parse(time.RFC3339, sub.CanceledAt); err == nil {
			return t.UTC()
		}
	}
	return mollieStatusTime(payment)
}

// subjectRefForPayment prefers the subscription ref for recurring payments
// and falls back to the customer ref for first payments.
func subjectRefForPayment(payment molliePayment) string {
	if payment.SubscriptionID != "" {
		return payment.SubscriptionID
	}
	return payment.CustomerID
}

// mollieStatusTime returns the instant at which the payment entered its
// current status, falling back to creation time.
func mollieStatusTime(payment molliePayment) time.Time {
	for _, ts := range []string{payment.PaidAt, payment.CanceledAt, payment.ExpiredAt, payment.CreatedAt} {
		if ts == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// formatMollieAmount renders cents as Mollie's decimal string ("19.99").
func formatMollieAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
