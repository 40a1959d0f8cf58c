package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/billing"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()
	rec := newTrialRecord(t)

	require.NoError(t, store.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	got, err := store.Get(ctx, rec.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	assert.ErrorIs(t, store.Create(ctx, rec), billing.ErrRecordAlreadyExists)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()
	rec := newTrialRecord(t)
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, rec.SubscriberID)
	require.NoError(t, err)
	got.Status = billing.StatusCancelled

	again, err := store.Get(ctx, rec.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrial, again.Status, "callers must not be able to mutate stored state")
}

func TestMemoryStoreGetByProviderRef(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()

	rec := newTrialRecord(t)
	rec.ProviderCustomerRef = "cst_123"
	rec.ProviderSubscriptionRef = "sub_456"
	require.NoError(t, store.Create(ctx, rec))

	byCustomer, err := store.GetByProviderRef(ctx, "cst_123")
	require.NoError(t, err)
	assert.Equal(t, rec.SubscriberID, byCustomer.SubscriberID)

	bySubscription, err := store.GetByProviderRef(ctx, "sub_456")
	require.NoError(t, err)
	assert.Equal(t, rec.SubscriberID, bySubscription.SubscriberID)

	_, err = store.GetByProviderRef(ctx, "sub_unknown")
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)

	// Records without refs must never match an empty lookup.
	_, err = store.GetByProviderRef(ctx, "")
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
}

func TestMemoryStoreUpdateVersionConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()
	rec := newTrialRecord(t)
	require.NoError(t, store.Create(ctx, rec))

	// Two writers load the same version.
	first, err := store.Get(ctx, rec.SubscriberID)
	require.NoError(t, err)
	second, err := store.Get(ctx, rec.SubscriberID)
	require.NoError(t, err)

	first.Status = billing.StatusActive
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = billing.StatusCancelled
	assert.ErrorIs(t, store.Update(ctx, second), billing.ErrVersionConflict)

	got, err := store.Get(ctx, rec.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Status, "losing writer must not overwrite")
}

func TestMemoryStoreUpdateMissingRecord(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	rec := newTrialRecord(t)
	assert.ErrorIs(t, store.Update(context.Background(), rec), billing.ErrRecordNotFound)
}

func TestMemoryStoreListExpiredTrials(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()

	expired := billing.NewSubscriberRecord(uuid.New(), testBase.AddDate(0, 0, -30), 7)
	stillRunning := billing.NewSubscriberRecord(uuid.New(), testBase, 7)
	active := billing.NewSubscriberRecord(uuid.New(), testBase.AddDate(0, 0, -30), 7)
	active.Status = billing.StatusActive

	for _, rec := range []*billing.SubscriberRecord{expired, stillRunning, active} {
		require.NoError(t, store.Create(ctx, rec))
	}

	got, err := store.ListExpiredTrials(ctx, testBase)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.SubscriberID, got[0].SubscriberID)
}

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()
	rec := newTrialRecord(t)
	require.NoError(t, store.Create(ctx, rec))

	// Many writers race on the same record; conditional writes guarantee
	// exactly one version increment per successful update.
	const writers = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, writers)

	for i := range writers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				cur, err := store.Get(ctx, rec.SubscriberID)
				if err != nil {
					return
				}
				cur.UpdatedAt = testBase.Add(time.Duration(n) * time.Second)
				if err := store.Update(ctx, cur); err == nil {
					successes <- struct{}{}
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	assert.Len(t, successes, writers)

	final, err := store.Get(ctx, rec.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers+1), final.Version)
}

func TestRegisterSubscriberIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()
	subscriberID := uuid.New()

	first, err := billing.RegisterSubscriber(ctx, store, subscriberID, testBase, 7)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrial, first.Status)
	assert.Equal(t, testBase.AddDate(0, 0, 7), first.TrialEnd)

	// A retried signup returns the existing record untouched.
	second, err := billing.RegisterSubscriber(ctx, store, subscriberID, testBase.Add(time.Hour), 14)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
