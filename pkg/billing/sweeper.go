package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultSweepInterval = 4 * time.Hour

// TrialSweeper periodically converts expired, never-upgraded trials to
// inactive by feeding synthetic facts through the regular state machine.
type TrialSweeper struct {
	store    RecordStore
	interval time.Duration
	log      *slog.Logger
}

// NewTrialSweeper creates a sweeper. Panics if the store is nil to fail
// fast during initialization.
func NewTrialSweeper(store RecordStore, log *slog.Logger, opts ...SweeperOption) *TrialSweeper {
	if store == nil {
		panic("billing: RecordStore is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &TrialSweeper{
		store:    store,
		interval: defaultSweepInterval,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweeperOption configures optional sweeper settings.
type SweeperOption func(*TrialSweeper)

// WithSweepInterval sets how often the periodic loop sweeps. Zero or
// negative values are ignored.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *TrialSweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// sweepFactID builds the synthetic fact id for one subscriber and hour
// bucket. Truncating the timestamp to the hour makes repeated sweeps within
// the same window reproduce the same id, so a second run is discarded as a
// duplicate without any extra locking.
func sweepFactID(subscriberID string, now time.Time) string {
	return fmt.Sprintf("sweep:%s:%s", subscriberID, now.UTC().Truncate(time.Hour).Format("2006-01-02T15"))
}

// Sweep transitions expired trials to inactive and returns how many records
// changed. Individual failures are logged and skipped so one bad record
// cannot stall the rest of the sweep.
func (s *TrialSweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredTrials(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired trials: %w", err)
	}

	var transitioned int
	for _, rec := range expired {
		fact := Fact{
			FactID:        sweepFactID(rec.SubscriberID.String(), now),
			Origin:        OriginSweep,
			OccurredAt:    now,
			ClaimedStatus: StatusInactive,
		}

		subscriberID := rec.SubscriberID
		load := func(ctx context.Context) (*SubscriberRecord, error) {
			return s.store.Get(ctx, subscriberID)
		}

		_, outcome, err := applyFact(ctx, s.store, load, fact, s.log)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to sweep trial",
				slog.String("subscriber_id", subscriberID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if outcome == OutcomeApplied {
			transitioned++
		}
	}

	if transitioned > 0 {
		s.log.InfoContext(ctx, "trial sweep finished",
			slog.Int("expired", len(expired)),
			slog.Int("transitioned", transitioned))
	}
	return transitioned, nil
}

// Run executes Sweep on the configured interval until the context is
// cancelled. The first sweep runs immediately on start.
func (s *TrialSweeper) Run(ctx context.Context) error {
	if _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
		s.log.ErrorContext(ctx, "trial sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "trial sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				s.log.ErrorContext(ctx, "trial sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
