package billing_test

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/billing"
)

// mockProvider implements billing.PaymentProvider for tests.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	args := m.Called(ctx, email, name)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateSubscription(ctx context.Context, req billing.CreateSubscriptionRequest) (*billing.CheckoutIntent, error) {
	args := m.Called(ctx, req)
	if intent := args.Get(0); intent != nil {
		return intent.(*billing.CheckoutIntent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	args := m.Called(payload, signature)
	return args.Error(0)
}

func (m *mockProvider) ParseEventToFact(ctx context.Context, payload []byte) (billing.Fact, bool, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(billing.Fact), args.Bool(1), args.Error(2)
}

func (m *mockProvider) FetchCheckout(ctx context.Context, checkoutRef string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, checkoutRef)
	if sub := args.Get(0); sub != nil {
		return sub.(*billing.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

// failingStore wraps a RecordStore and fails selected operations, for
// exercising transient-failure paths.
type failingStore struct {
	billing.RecordStore

	getByRefErr error
	updateErr   error
}

func (s *failingStore) GetByProviderRef(ctx context.Context, ref string) (*billing.SubscriberRecord, error) {
	if s.getByRefErr != nil {
		return nil, s.getByRefErr
	}
	return s.RecordStore.GetByProviderRef(ctx, ref)
}

func (s *failingStore) Update(ctx context.Context, rec *billing.SubscriberRecord) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.RecordStore.Update(ctx, rec)
}

// seedActiveRecord creates and stores a record already linked to provider refs.
func seedActiveRecord(ctx context.Context, store billing.RecordStore, status billing.Status) (*billing.SubscriberRecord, error) {
	rec := billing.NewSubscriberRecord(uuid.New(), testBase, 7)
	rec.Status = status
	rec.ProviderCustomerRef = "cst_123"
	rec.ProviderSubscriptionRef = "sub_456"
	if status == billing.StatusActive {
		periodEnd := testBase.AddDate(0, 1, 0)
		rec.CurrentPeriodEnd = &periodEnd
		rec.LastAppliedFactTime = testBase
	}
	if err := store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
