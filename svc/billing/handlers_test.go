package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	core "github.com/GabriellaKhayutin1/smartstorage/pkg/billing"
	svc "github.com/GabriellaKhayutin1/smartstorage/svc/billing"
)

type stubProvider struct {
	mock.Mock
}

func (m *stubProvider) Name() string { return "paddle" }

func (m *stubProvider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	args := m.Called(ctx, email, name)
	return args.String(0), args.Error(1)
}

func (m *stubProvider) CreateSubscription(ctx context.Context, req core.CreateSubscriptionRequest) (*core.CheckoutIntent, error) {
	args := m.Called(ctx, req)
	if intent := args.Get(0); intent != nil {
		return intent.(*core.CheckoutIntent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *stubProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	args := m.Called(payload, signature)
	return args.Error(0)
}

func (m *stubProvider) ParseEventToFact(ctx context.Context, payload []byte) (core.Fact, bool, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(core.Fact), args.Bool(1), args.Error(2)
}

func (m *stubProvider) FetchCheckout(ctx context.Context, checkoutRef string) (*core.ProviderSubscription, error) {
	args := m.Called(ctx, checkoutRef)
	if sub := args.Get(0); sub != nil {
		return sub.(*core.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

type testEnv struct {
	provider *stubProvider
	store    *core.MemoryStore
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	provider := new(stubProvider)
	store := core.NewMemoryStore()

	service := svc.NewService(
		svc.Config{TrialDays: 7},
		core.NewEventIngestor(provider, store, log),
		core.NewVerificationService(provider, store, log),
		core.NewCheckoutService(provider, store, core.DefaultCatalog(), log),
		core.NewAccessGate(store),
		store,
		svc.WebhookSignatureHeader(provider.Name()),
		log,
	)

	return &testEnv{provider: provider, store: store, router: service.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path string, subscriberID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if subscriberID != "" {
		req.Header.Set(svc.SubscriberHeader, subscriberID)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	subscriberID := uuid.NewString()

	rec := env.do(t, http.MethodPost, "/billing/register", subscriberID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, subscriberID, snap.SubscriberID)
	assert.Equal(t, core.StatusTrial, snap.Status)
	assert.True(t, snap.HasAccess)

	// Retried signup is a no-op.
	rec = env.do(t, http.MethodPost, "/billing/register", subscriberID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdentityRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/billing/register", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/billing/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/billing/status", "not-a-uuid", nil).Code)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	subscriberID := uuid.NewString()

	rec := env.do(t, http.MethodGet, "/billing/status", subscriberID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/billing/register", subscriberID, nil).Code)

	rec = env.do(t, http.MethodGet, "/billing/status", subscriberID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, core.StatusTrial, snap.Status)
}

func TestPlansEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/billing/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Plans []core.Plan `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Plans, 2)
	assert.Equal(t, "weekly", resp.Plans[0].ID)
	assert.Equal(t, "monthly", resp.Plans[1].ID)
}

func TestCheckoutEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	subscriberID := uuid.NewString()
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/billing/register", subscriberID, nil).Code)

	env.provider.On("CreateCustomer", mock.Anything, "user@example.com", "").Return("cst_1", nil)
	env.provider.On("CreateSubscription", mock.Anything, mock.Anything).
		Return(&core.CheckoutIntent{CheckoutURL: "https://pay.example.com/t1", Reference: "txn_1"}, nil)

	rec := env.do(t, http.MethodPost, "/billing/checkout", subscriberID,
		map[string]string{"plan_id": "monthly", "email": "user@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	var intent core.CheckoutIntent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intent))
	assert.Equal(t, "txn_1", intent.Reference)
}

func TestCheckoutEndpointValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	subscriberID := uuid.NewString()
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/billing/register", subscriberID, nil).Code)

	rec := env.do(t, http.MethodPost, "/billing/checkout", subscriberID,
		map[string]string{"email": "user@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/billing/checkout", subscriberID,
		map[string]string{"plan_id": "yearly", "email": "user@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	subscriberID := uuid.NewString()
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/billing/register", subscriberID, nil).Code)

	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	env.provider.On("FetchCheckout", mock.Anything, "txn_1").
		Return(&core.ProviderSubscription{
			SubscriberID:     subscriberID,
			CustomerRef:      "cst_1",
			SubscriptionRef:  "sub_1",
			Status:           core.StatusActive,
			CurrentPeriodEnd: &periodEnd,
			OccurredAt:       time.Now().UTC(),
		}, nil)

	rec := env.do(t, http.MethodPost, "/billing/verify", subscriberID,
		map[string]string{"checkout_reference": "txn_1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var snap core.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, core.StatusActive, snap.Status)
	assert.True(t, snap.HasAccess)
}

func TestVerifyEndpointErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	subscriberID := uuid.NewString()
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/billing/register", subscriberID, nil).Code)

	rec := env.do(t, http.MethodPost, "/billing/verify", subscriberID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.provider.On("FetchCheckout", mock.Anything, "txn_missing").
		Return(nil, core.ErrCheckoutNotFound)
	rec = env.do(t, http.MethodPost, "/billing/verify", subscriberID,
		map[string]string{"checkout_reference": "txn_missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.provider.On("FetchCheckout", mock.Anything, "txn_foreign").
		Return(&core.ProviderSubscription{
			SubscriberID:    uuid.NewString(),
			SubscriptionRef: "sub_2",
			Status:          core.StatusActive,
			OccurredAt:      time.Now().UTC(),
		}, nil)
	rec = env.do(t, http.MethodPost, "/billing/verify", subscriberID,
		map[string]string{"checkout_reference": "txn_foreign"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	env.provider.On("VerifyWebhookSignature", mock.Anything, "bad").Return(core.ErrSignatureInvalid)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Paddle-Signature", "bad")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.provider.On("VerifyWebhookSignature", mock.Anything, "good").Return(nil)
	env.provider.On("ParseEventToFact", mock.Anything, mock.Anything).Return(core.Fact{}, false, nil)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Paddle-Signature", "good")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAccessMiddleware(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.DiscardHandler)
	store := core.NewMemoryStore()
	gate := core.NewAccessGate(store)

	protected := svc.SubscriberIdentity(
		svc.RequireAccess(gate, log)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("premium"))
			})))

	call := func(subscriberID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/premium", nil)
		if subscriberID != "" {
			req.Header.Set(svc.SubscriberHeader, subscriberID)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	// No identity.
	assert.Equal(t, http.StatusUnauthorized, call("").Code)

	// No record on file.
	assert.Equal(t, http.StatusForbidden, call(uuid.NewString()).Code)

	// Active trial passes.
	trial := core.NewSubscriberRecord(uuid.New(), time.Now().UTC(), 7)
	require.NoError(t, store.Create(context.Background(), trial))
	rec := call(trial.SubscriberID.String())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "premium", rec.Body.String())

	// Expired, swept trial is rejected with the raw status in the body.
	inactive := core.NewSubscriberRecord(uuid.New(), time.Now().UTC().AddDate(0, 0, -30), 7)
	inactive.Status = core.StatusInactive
	require.NoError(t, store.Create(context.Background(), inactive))
	rec = call(inactive.SubscriberID.String())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(core.StatusInactive))
}
