package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// EventIngestor receives provider webhook deliveries and merges them into
// subscriber state. Deliveries are at-least-once and unordered; the state
// machine absorbs duplicates and reordering, so the ingestor's only job is
// authenticity, parsing, and the read-apply-write loop.
type EventIngestor struct {
	provider PaymentProvider
	store    RecordStore
	log      *slog.Logger
}

// NewEventIngestor creates an ingestor. Panics if dependencies are nil to
// fail fast during initialization.
func NewEventIngestor(provider PaymentProvider, store RecordStore, log *slog.Logger) *EventIngestor {
	if provider == nil {
		panic("billing: PaymentProvider is required")
	}
	if store == nil {
		panic("billing: RecordStore is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &EventIngestor{provider: provider, store: store, log: log}
}

// HandleDelivery processes one raw webhook delivery and returns the HTTP
// status the endpoint should answer with.
//
// Only a signature failure returns 400: a forged or corrupted delivery must
// not touch state, and the provider's retry cannot fix it. Business-level
// outcomes (unsupported event, unknown subject, duplicate, stale, invalid
// transition) return 200 because redelivery cannot change them and any other
// code causes the provider to retry indefinitely. A transient store failure
// returns 500 so the provider redelivers an event that was never durably
// recorded as seen.
func (i *EventIngestor) HandleDelivery(ctx context.Context, rawBody []byte, signature string) int {
	if err := i.provider.VerifyWebhookSignature(rawBody, signature); err != nil {
		i.log.WarnContext(ctx, "rejected webhook with invalid signature",
			slog.String("provider", i.provider.Name()),
			slog.String("error", err.Error()))
		return http.StatusBadRequest
	}

	fact, ok, err := i.provider.ParseEventToFact(ctx, rawBody)
	if err != nil {
		// A payload the parser cannot represent is a boundary bug to fix,
		// not something redelivery can repair.
		i.log.ErrorContext(ctx, "failed to parse webhook payload",
			slog.String("provider", i.provider.Name()),
			slog.String("error", err.Error()))
		return http.StatusOK
	}
	if !ok {
		i.log.DebugContext(ctx, "ignored unsupported webhook event",
			slog.String("provider", i.provider.Name()))
		return http.StatusOK
	}

	// The subscription ref may not be linked yet if this event beat the
	// verification call, so fall back to the customer ref recorded at
	// checkout creation.
	load := func(ctx context.Context) (*SubscriberRecord, error) {
		rec, err := i.store.GetByProviderRef(ctx, fact.SubjectRef)
		if errors.Is(err, ErrRecordNotFound) && fact.CustomerRef != "" && fact.CustomerRef != fact.SubjectRef {
			return i.store.GetByProviderRef(ctx, fact.CustomerRef)
		}
		return rec, err
	}

	_, _, err = applyFact(ctx, i.store, load, fact, i.log)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		// The event may reference a subscriber not yet provisioned locally;
		// provider retries would not create the missing record.
		i.log.WarnContext(ctx, "webhook references unknown subscriber",
			slog.String("fact_id", fact.FactID),
			slog.String("subject_ref", fact.SubjectRef))
		return http.StatusOK
	case err != nil:
		i.log.ErrorContext(ctx, "failed to apply webhook fact",
			slog.String("fact_id", fact.FactID),
			slog.String("error", err.Error()))
		return http.StatusInternalServerError
	}

	return http.StatusOK
}
