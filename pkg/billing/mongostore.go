package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoRecordsCollection = "subscriber_records"

// MongoStore is a RecordStore backed by MongoDB, matching the original
// deployment of this system. Conditional writes filter on both the id and
// the version so a lost race surfaces as ErrVersionConflict.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	if db == nil {
		panic("billing: mongo database is required")
	}
	return &MongoStore{coll: db.Collection(mongoRecordsCollection)}
}

// EnsureIndexes creates the lookup indexes the ingestor and sweeper rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "provider_customer_ref", Value: 1}},
			Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "provider_subscription_ref", Value: 1}},
			Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "trial_end", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create subscriber record indexes: %w", err)
	}
	return nil
}

// mongoRecord is the persisted shape of a SubscriberRecord.
type mongoRecord struct {
	SubscriberID            string        `bson:"_id"`
	ProviderCustomerRef     string        `bson:"provider_customer_ref,omitempty"`
	ProviderSubscriptionRef string        `bson:"provider_subscription_ref,omitempty"`
	Status                  string        `bson:"status"`
	TrialStart              time.Time     `bson:"trial_start"`
	TrialEnd                time.Time     `bson:"trial_end"`
	CurrentPeriodEnd        *time.Time    `bson:"current_period_end,omitempty"`
	LastAppliedFactTime     time.Time     `bson:"last_applied_fact_time"`
	AppliedFacts            []AppliedFact `bson:"applied_facts"`
	Version                 int64         `bson:"version"`
	CreatedAt               time.Time     `bson:"created_at"`
	UpdatedAt               time.Time     `bson:"updated_at"`
}

func toMongoRecord(rec *SubscriberRecord) mongoRecord {
	return mongoRecord{
		SubscriberID:            rec.SubscriberID.String(),
		ProviderCustomerRef:     rec.ProviderCustomerRef,
		ProviderSubscriptionRef: rec.ProviderSubscriptionRef,
		Status:                  string(rec.Status),
		TrialStart:              rec.TrialStart,
		TrialEnd:                rec.TrialEnd,
		CurrentPeriodEnd:        rec.CurrentPeriodEnd,
		LastAppliedFactTime:     rec.LastAppliedFactTime,
		AppliedFacts:            ledgerOrEmpty(rec.AppliedFacts),
		Version:                 rec.Version,
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
	}
}

func (m mongoRecord) toRecord() (*SubscriberRecord, error) {
	id, err := uuid.Parse(m.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("invalid subscriber id %q: %w", m.SubscriberID, err)
	}
	return &SubscriberRecord{
		SubscriberID:            id,
		ProviderCustomerRef:     m.ProviderCustomerRef,
		ProviderSubscriptionRef: m.ProviderSubscriptionRef,
		Status:                  Status(m.Status),
		TrialStart:              m.TrialStart,
		TrialEnd:                m.TrialEnd,
		CurrentPeriodEnd:        m.CurrentPeriodEnd,
		LastAppliedFactTime:     m.LastAppliedFactTime,
		AppliedFacts:            m.AppliedFacts,
		Version:                 m.Version,
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}, nil
}

func (s *MongoStore) Get(ctx context.Context, subscriberID uuid.UUID) (*SubscriberRecord, error) {
	return s.findOne(ctx, bson.M{"_id": subscriberID.String()})
}

func (s *MongoStore) GetByProviderRef(ctx context.Context, ref string) (*SubscriberRecord, error) {
	if ref == "" {
		return nil, ErrRecordNotFound
	}
	return s.findOne(ctx, bson.M{"$or": bson.A{
		bson.M{"provider_customer_ref": ref},
		bson.M{"provider_subscription_ref": ref},
	}})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*SubscriberRecord, error) {
	var doc mongoRecord
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("find subscriber record: %w", err)
	}
	return doc.toRecord()
}

func (s *MongoStore) Create(ctx context.Context, rec *SubscriberRecord) error {
	doc := toMongoRecord(rec)
	doc.Version = 1

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrRecordAlreadyExists
		}
		return fmt.Errorf("insert subscriber record: %w", err)
	}

	rec.Version = 1
	return nil
}

func (s *MongoStore) Update(ctx context.Context, rec *SubscriberRecord) error {
	doc := toMongoRecord(rec)

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": doc.SubscriberID, "version": rec.Version},
		bson.M{
			"$set": bson.M{
				"provider_customer_ref":     doc.ProviderCustomerRef,
				"provider_subscription_ref": doc.ProviderSubscriptionRef,
				"status":                    doc.Status,
				"current_period_end":        doc.CurrentPeriodEnd,
				"last_applied_fact_time":    doc.LastAppliedFactTime,
				"applied_facts":             doc.AppliedFacts,
				"updated_at":                doc.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		})
	if err != nil {
		return fmt.Errorf("update subscriber record: %w", err)
	}

	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, rec.SubscriberID); errors.Is(err, ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return ErrVersionConflict
	}

	rec.Version++
	return nil
}

func (s *MongoStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*SubscriberRecord, error) {
	cursor, err := s.coll.Find(ctx, bson.M{
		"status":    string(StatusTrial),
		"trial_end": bson.M{"$lt": now},
	})
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*SubscriberRecord
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode subscriber record: %w", err)
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, cursor.Err()
}
