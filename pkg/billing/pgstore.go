package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/pg"
)

// PostgresStore is the durable RecordStore backed by PostgreSQL. The
// idempotency ledger is stored inline as JSONB; the ledger's rolling
// retention keeps it small. Conditional writes are a plain
// version-qualified UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

const recordColumns = `subscriber_id, provider_customer_ref, provider_subscription_ref, status,
	trial_start, trial_end, current_period_end, last_applied_fact_time,
	applied_facts, version, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, subscriberID uuid.UUID) (*SubscriberRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM subscriber_records WHERE subscriber_id = $1`,
		subscriberID)
	return scanRecord(row)
}

func (s *PostgresStore) GetByProviderRef(ctx context.Context, ref string) (*SubscriberRecord, error) {
	if ref == "" {
		return nil, ErrRecordNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM subscriber_records
		 WHERE provider_customer_ref = $1 OR provider_subscription_ref = $1`,
		ref)
	return scanRecord(row)
}

func (s *PostgresStore) Create(ctx context.Context, rec *SubscriberRecord) error {
	facts, err := json.Marshal(ledgerOrEmpty(rec.AppliedFacts))
	if err != nil {
		return fmt.Errorf("encode applied facts: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO subscriber_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`,
		rec.SubscriberID, rec.ProviderCustomerRef, rec.ProviderSubscriptionRef, rec.Status,
		rec.TrialStart, rec.TrialEnd, rec.CurrentPeriodEnd, rec.LastAppliedFactTime,
		facts, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrRecordAlreadyExists
		}
		return fmt.Errorf("insert subscriber record: %w", err)
	}

	rec.Version = 1
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *SubscriberRecord) error {
	facts, err := json.Marshal(ledgerOrEmpty(rec.AppliedFacts))
	if err != nil {
		return fmt.Errorf("encode applied facts: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriber_records SET
			provider_customer_ref = $2,
			provider_subscription_ref = $3,
			status = $4,
			current_period_end = $5,
			last_applied_fact_time = $6,
			applied_facts = $7,
			updated_at = $8,
			version = version + 1
		 WHERE subscriber_id = $1 AND version = $9`,
		rec.SubscriberID, rec.ProviderCustomerRef, rec.ProviderSubscriptionRef, rec.Status,
		rec.CurrentPeriodEnd, rec.LastAppliedFactTime, facts, rec.UpdatedAt, rec.Version)
	if err != nil {
		return fmt.Errorf("update subscriber record: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the record vanished (never happens: records are not
		// deleted) or another writer bumped the version first.
		if _, err := s.Get(ctx, rec.SubscriberID); errors.Is(err, ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return ErrVersionConflict
	}

	rec.Version++
	return nil
}

func (s *PostgresStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*SubscriberRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM subscriber_records
		 WHERE status = $1 AND trial_end < $2`,
		StatusTrial, now)
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}
	defer rows.Close()

	var records []*SubscriberRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*SubscriberRecord, error) {
	var (
		rec   SubscriberRecord
		facts []byte
	)
	err := row.Scan(
		&rec.SubscriberID, &rec.ProviderCustomerRef, &rec.ProviderSubscriptionRef, &rec.Status,
		&rec.TrialStart, &rec.TrialEnd, &rec.CurrentPeriodEnd, &rec.LastAppliedFactTime,
		&facts, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("scan subscriber record: %w", err)
	}

	if err := json.Unmarshal(facts, &rec.AppliedFacts); err != nil {
		return nil, fmt.Errorf("decode applied facts: %w", err)
	}
	return &rec, nil
}

// ledgerOrEmpty keeps the column a JSON array rather than null.
func ledgerOrEmpty(facts []AppliedFact) []AppliedFact {
	if facts == nil {
		return []AppliedFact{}
	}
	return facts
}
