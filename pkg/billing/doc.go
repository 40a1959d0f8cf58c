// Package billing keeps one authoritative subscription state per subscriber
// consistent under three independent, uncoordinated writers: provider
// webhooks delivered at-least-once and out of order, the synchronous
// verify-after-checkout call, and the periodic trial sweep.
//
// All three producers funnel through the same pure state machine (Apply)
// and a versioned store, so correctness never depends on arrival order:
//
//   - replayed facts are discarded by the per-subscriber idempotency ledger,
//   - reordered facts are discarded by comparing provider event time,
//   - concurrent writers are serialized by optimistic conditional writes
//     with a bounded retry loop.
//
// The rest of the application consumes only the AccessGate: a subscriber id
// in, an access decision and status snapshot out. Payment providers are
// abstracted behind PaymentProvider; Paddle and Mollie implementations are
// included, and nothing outside webhook parsing and the verification fetch
// is provider-specific.
//
// Basic wiring:
//
//	store := billing.NewPostgresStore(pool)
//	provider, _ := billing.NewPaddleProvider(paddleCfg)
//
//	ingestor := billing.NewEventIngestor(provider, store, log)
//	verifier := billing.NewVerificationService(provider, store, log)
//	sweeper := billing.NewTrialSweeper(store, log)
//	gate := billing.NewAccessGate(store)
//
//	go sweeper.Run(ctx)
package billing
