package billing_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/billing"
)

func TestSweepTransitionsExpiredTrials(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()

	expired := billing.NewSubscriberRecord(uuid.New(), testBase.AddDate(0, 0, -30), 7)
	running := billing.NewSubscriberRecord(uuid.New(), testBase, 7)
	paying, err := seedActiveRecord(ctx, store, billing.StatusActive)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, expired))
	require.NoError(t, store.Create(ctx, running))

	sweeper := billing.NewTrialSweeper(store, slog.New(slog.DiscardHandler))

	transitioned, err := sweeper.Sweep(ctx, testBase)
	require.NoError(t, err)
	assert.Equal(t, 1, transitioned)

	got, err := store.Get(ctx, expired.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusInactive, got.Status)
	assert.False(t, got.HasAccessAt(testBase))

	// Untouched: a trial still inside its window and a paying subscriber.
	stillRunning, err := store.Get(ctx, running.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrial, stillRunning.Status)

	stillPaying, err := store.Get(ctx, paying.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, stillPaying.Status)
}

func TestSweepIsIdempotentWithinHourBucket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()

	expired := billing.NewSubscriberRecord(uuid.New(), testBase.AddDate(0, 0, -30), 7)
	require.NoError(t, store.Create(ctx, expired))

	sweeper := billing.NewTrialSweeper(store, slog.New(slog.DiscardHandler))

	transitioned, err := sweeper.Sweep(ctx, testBase)
	require.NoError(t, err)
	require.Equal(t, 1, transitioned)

	afterFirst, err := store.Get(ctx, expired.SubscriberID)
	require.NoError(t, err)

	// A crashed-and-restarted sweeper re-runs inside the same hour.
	transitioned, err = sweeper.Sweep(ctx, testBase.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, transitioned)

	afterSecond, err := store.Get(ctx, expired.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, afterFirst.Status, afterSecond.Status)
}

func TestSweepLosesToConcurrentUpgrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemoryStore()

	expired := billing.NewSubscriberRecord(uuid.New(), testBase.AddDate(0, 0, -30), 7)
	require.NoError(t, store.Create(ctx, expired))

	// A payment lands between the sweeper's list and its apply: the record
	// is no longer in trial when the sweep fact reaches the state machine.
	periodEnd := testBase.AddDate(0, 1, 0)
	loaded, err := store.Get(ctx, expired.SubscriberID)
	require.NoError(t, err)
	upgraded, outcome := billing.Apply(loaded, billing.Fact{
		FactID:           "evt_payment",
		Origin:           billing.OriginWebhook,
		OccurredAt:       testBase.Add(-time.Minute),
		ClaimedStatus:    billing.StatusActive,
		ClaimedPeriodEnd: &periodEnd,
	})
	require.Equal(t, billing.OutcomeApplied, outcome)
	require.NoError(t, store.Update(ctx, upgraded))

	sweeper := billing.NewTrialSweeper(store, slog.New(slog.DiscardHandler))
	transitioned, err := sweeper.Sweep(ctx, testBase)
	require.NoError(t, err)
	assert.Zero(t, transitioned)

	got, err := store.Get(ctx, expired.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Status, "sweep must never demote a paying subscriber")

	// Even if the sweep fact reached the state machine after the upgrade,
	// active to inactive is not a legal edge.
	_, outcome = billing.Apply(got, billing.Fact{
		FactID:        "sweep:late",
		Origin:        billing.OriginSweep,
		OccurredAt:    testBase,
		ClaimedStatus: billing.StatusInactive,
	})
	assert.Equal(t, billing.OutcomeIgnoredInvalidTransition, outcome)
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := billing.NewTrialSweeper(billing.NewMemoryStore(), slog.New(slog.DiscardHandler),
		billing.WithSweepInterval(time.Hour))

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
