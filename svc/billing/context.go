package billing

import (
	"context"

	"github.com/google/uuid"
)

type subscriberContextKey struct{}

// SetSubscriberToContext stores the authenticated subscriber id for the
// middleware chain.
func SetSubscriberToContext(ctx context.Context, subscriberID uuid.UUID) context.Context {
	return context.WithValue(ctx, subscriberContextKey{}, subscriberID)
}

// GetSubscriberFromContext retrieves the authenticated subscriber id.
// Returns uuid.Nil and false if none was stored.
func GetSubscriberFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(subscriberContextKey{}).(uuid.UUID)
	return id, ok
}
