package billing

import "time"

// ledgerRetention bounds the idempotency ledger. Entries older than this
// relative to the newest applied fact are pruned; provider replays arrive
// well inside this window.
const ledgerRetention = 90 * 24 * time.Hour

// legalEdges is the single source of truth for status transitions. A
// (current, claimed) pair absent from this table produces no mutation.
//
// trial → inactive is the synthetic sweep-only edge: only the sweeper
// constructs inactive claims for trial records.
var legalEdges = map[Status][]Status{
	StatusTrial:          {StatusActive, StatusCancelled, StatusInactive},
	StatusPendingPayment: {StatusActive, StatusPastDue, StatusCancelled},
	StatusActive:         {StatusActive, StatusPastDue, StatusCancelled},
	StatusPastDue:        {StatusActive, StatusCancelled},
	StatusCancelled:      {}, // terminal
	StatusInactive:       {StatusActive},
}

// isLegalEdge reports whether a claimed status is a valid transition from
// the current one.
func isLegalEdge(from, claimed Status) bool {
	for _, to := range legalEdges[from] {
		if to == claimed {
			return true
		}
	}
	return false
}

// Apply merges one fact into a subscriber record and returns the new record
// together with the outcome. Pure and deterministic: no I/O, no clock reads,
// the input record is never mutated. This purity is what makes Apply safely
// callable from three concurrent producers; a retry against a fresher read
// is always safe.
//
// The decision order is fixed:
//  1. fact id already in the ledger            → IgnoredDuplicate
//  2. occurredAt older than last applied fact  → IgnoredStale
//  3. (status, claimedStatus) not a legal edge → IgnoredInvalidTransition
//  4. otherwise apply: status, period end (never regressing), ledger entry.
func Apply(rec *SubscriberRecord, fact Fact) (*SubscriberRecord, Outcome) {
	if rec.HasAppliedFact(fact.FactID) {
		return rec, OutcomeIgnoredDuplicate
	}

	// Arrival order is untrusted; the provider-claimed event time is the
	// only meaningful clock for deciding which fact is newer.
	if fact.OccurredAt.Before(rec.LastAppliedFactTime) {
		return rec, OutcomeIgnoredStale
	}

	if !isLegalEdge(rec.Status, fact.ClaimedStatus) {
		return rec, OutcomeIgnoredInvalidTransition
	}

	next := rec.Clone()
	next.Status = fact.ClaimedStatus

	// Only edges into active carry a billing period. Renewals take the
	// later of the stored and claimed period end so a replayed or
	// reordered renewal can never shorten paid access.
	if fact.ClaimedStatus == StatusActive && fact.ClaimedPeriodEnd != nil {
		if next.CurrentPeriodEnd == nil || fact.ClaimedPeriodEnd.After(*next.CurrentPeriodEnd) {
			t := *fact.ClaimedPeriodEnd
			next.CurrentPeriodEnd = &t
		}
	}

	recordProviderRefs(next, rec.Status, fact)

	next.LastAppliedFactTime = fact.OccurredAt
	next.AppliedFacts = append(next.AppliedFacts, AppliedFact{ID: fact.FactID, OccurredAt: fact.OccurredAt})
	next.AppliedFacts = pruneLedger(next.AppliedFacts, fact.OccurredAt)
	next.UpdatedAt = fact.OccurredAt

	return next, OutcomeApplied
}

// recordProviderRefs records provider identifiers carried by the fact.
// Refs are first-write-wins, except a re-subscription from inactive which
// starts a fresh provider subscription and replaces the old ref.
func recordProviderRefs(next *SubscriberRecord, prevStatus Status, fact Fact) {
	if fact.CustomerRef != "" && next.ProviderCustomerRef == "" {
		next.ProviderCustomerRef = fact.CustomerRef
	}
	if fact.SubscriptionRef == "" {
		return
	}
	if next.ProviderSubscriptionRef == "" || prevStatus == StatusInactive {
		next.ProviderSubscriptionRef = fact.SubscriptionRef
	}
}

// pruneLedger drops ledger entries outside the retention window measured
// from the newest applied fact. Using the fact clock instead of wall time
// keeps Apply deterministic.
func pruneLedger(facts []AppliedFact, newest time.Time) []AppliedFact {
	cutoff := newest.Add(-ledgerRetention)
	kept := facts[:0]
	for _, f := range facts {
		if !f.OccurredAt.Before(cutoff) {
			kept = append(kept, f)
		}
	}
	return kept
}
