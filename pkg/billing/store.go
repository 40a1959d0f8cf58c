package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RecordStore defines persistence for subscriber records. Implementations
// must support atomic conditional writes: Update succeeds only when the
// stored version matches the record's, so concurrent producers can run a
// read-apply-write loop without locks.
type RecordStore interface {
	// Get retrieves a record by internal subscriber id.
	// Returns ErrRecordNotFound if no record exists.
	Get(ctx context.Context, subscriberID uuid.UUID) (*SubscriberRecord, error)

	// GetByProviderRef retrieves a record whose provider customer or
	// subscription ref matches. Returns ErrRecordNotFound on no match.
	GetByProviderRef(ctx context.Context, ref string) (*SubscriberRecord, error)

	// Create inserts a new record. Returns ErrRecordAlreadyExists if the
	// subscriber id is taken.
	Create(ctx context.Context, rec *SubscriberRecord) error

	// Update writes the record conditioned on its Version matching the
	// stored one, incrementing it on success. Returns ErrVersionConflict
	// when another writer got there first.
	Update(ctx context.Context, rec *SubscriberRecord) error

	// ListExpiredTrials returns records still in trial whose trial window
	// ended before the given instant.
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*SubscriberRecord, error)
}

const (
	applyMaxAttempts  = 5
	applyRetryBackoff = 50 * time.Millisecond
)

// applyFact runs the optimistic read-apply-write loop: load the record,
// apply the fact through the pure state machine, and write conditioned on
// version. On conflict the record is re-read and the fact re-applied, which
// is always safe because Apply is idempotence- and staleness-aware. Bounded
// attempts with exponential backoff; exhaustion surfaces ErrTransientStore.
func applyFact(ctx context.Context, store RecordStore, load func(context.Context) (*SubscriberRecord, error), fact Fact, log *slog.Logger) (*SubscriberRecord, Outcome, error) {
	var lastErr error

	for attempt := range applyMaxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(applyRetryBackoff << (attempt - 1)):
			}
		}

		rec, err := load(ctx)
		if err != nil {
			return nil, "", err
		}

		next, outcome := Apply(rec, fact)
		if outcome != OutcomeApplied {
			// Nothing happened is a safe, fully-logged outcome.
			log.DebugContext(ctx, "fact ignored",
				slog.String("fact_id", fact.FactID),
				slog.String("subscriber_id", rec.SubscriberID.String()),
				slog.String("outcome", string(outcome)),
				slog.String("origin", string(fact.Origin)))
			return rec, outcome, nil
		}

		if err := store.Update(ctx, next); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				log.DebugContext(ctx, "concurrent write conflict, retrying",
					slog.String("fact_id", fact.FactID),
					slog.String("subscriber_id", rec.SubscriberID.String()),
					slog.Int("attempt", attempt+1))
				continue
			}
			return nil, "", err
		}

		log.InfoContext(ctx, "fact applied",
			slog.String("fact_id", fact.FactID),
			slog.String("subscriber_id", next.SubscriberID.String()),
			slog.String("status", string(next.Status)),
			slog.String("origin", string(fact.Origin)))
		return next, OutcomeApplied, nil
	}

	return nil, "", fmt.Errorf("%w: apply retries exhausted: %w", ErrTransientStore, lastErr)
}
