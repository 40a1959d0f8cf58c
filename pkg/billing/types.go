package billing

import "time"

// Status represents the authoritative billing state of a subscriber.
// The set is closed: provider-specific statuses ("trialing", "incomplete",
// "expired", ...) must be collapsed into one of these at the parsing
// boundary, never carried through as new implicit states.
type Status string

const (
	StatusTrial          Status = "trial"
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusPastDue        Status = "past_due"
	StatusCancelled      Status = "cancelled"
	StatusInactive       Status = "inactive"
)

// Valid reports whether s is one of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusTrial, StatusPendingPayment, StatusActive, StatusPastDue, StatusCancelled, StatusInactive:
		return true
	}
	return false
}

// Outcome is the result of applying a fact to a subscriber record.
// Only Applied mutates state; the Ignored* outcomes are expected
// steady-state results of the idempotent merge, not errors.
type Outcome string

const (
	OutcomeApplied                  Outcome = "applied"
	OutcomeIgnoredDuplicate         Outcome = "ignored_duplicate"
	OutcomeIgnoredStale             Outcome = "ignored_stale"
	OutcomeIgnoredInvalidTransition Outcome = "ignored_invalid_transition"
)

// FactOrigin identifies which producer constructed a fact.
type FactOrigin string

const (
	OriginWebhook      FactOrigin = "webhook"
	OriginVerification FactOrigin = "verification"
	OriginSweep        FactOrigin = "sweep"
)

// Fact is a timestamped claim about a subscriber's billing status. Facts are
// constructed from provider webhook payloads, verification-call responses,
// or synthetic sweep triggers, and are the only input the state machine
// consumes.
type Fact struct {
	// FactID is globally unique per origin: the provider event id for
	// webhooks, or a synthesized stable id for verification and sweep facts.
	FactID string

	// SubjectRef maps the fact to a subscriber record via its provider
	// customer or subscription ref. Empty for facts that already carry an
	// internal subscriber id (verification, sweep).
	SubjectRef string

	// Origin records which producer built the fact. Informational only;
	// the state machine treats all origins identically.
	Origin FactOrigin

	// OccurredAt is the time the provider claims the fact became true.
	// Arrival order is explicitly untrusted; this is the only clock used
	// to decide which of two facts is newer.
	OccurredAt time.Time

	ClaimedStatus    Status
	ClaimedPeriodEnd *time.Time // nil when the edge carries no period

	// CustomerRef and SubscriptionRef carry provider identifiers learned
	// from the fact's source, recorded on the subscriber on first apply.
	CustomerRef     string
	SubscriptionRef string
}

// AppliedFact is one entry of a subscriber's idempotency ledger.
type AppliedFact struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Money represents a monetary amount in the smallest currency unit.
// For example, EUR 19.99 is Amount: 1999, Currency: "EUR".
type Money struct {
	Amount   int64
	Currency string
}

// BillingInterval represents the billing frequency for a plan.
type BillingInterval string

const (
	BillingIntervalWeekly  BillingInterval = "weekly"
	BillingIntervalMonthly BillingInterval = "monthly"
)

// Snapshot is the read-only view of a subscriber's billing state returned
// to callers (verification response, status endpoint).
type Snapshot struct {
	SubscriberID     string     `json:"subscriber_id"`
	Status           Status     `json:"status"`
	TrialEndsAt      time.Time  `json:"trial_ends_at"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	HasAccess        bool       `json:"has_access"`
}
