package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/billing"
	"github.com/GabriellaKhayutin1/smartstorage/pkg/logger"
)

// SubscriberHeader carries the authenticated subscriber id, set by the
// upstream auth layer after session validation.
const SubscriberHeader = "X-Subscriber-ID"

// SubscriberIdentity extracts the subscriber id from the request and stores
// it in the context. Requests without a valid id are rejected; billing
// endpoints never guess who is asking.
func SubscriberIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(SubscriberHeader))
		if err != nil || id == uuid.Nil {
			respondError(w, http.StatusUnauthorized, "missing subscriber identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetSubscriberToContext(r.Context(), id)))
	})
}

// RequireAccess gates premium features on the subscriber's billing state.
// No access answers 403 with the raw status so the client can route the
// subscriber to the right screen (renew, reactivate, subscribe). Store
// failures fail closed as 503.
func RequireAccess(gate *billing.AccessGate, log *slog.Logger) func(http.Handler) http.Handler {
	if gate == nil {
		panic("billing: AccessGate is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subscriberID, ok := GetSubscriberFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing subscriber identity")
				return
			}

			hasAccess, status, err := gate.HasAccess(r.Context(), subscriberID, time.Now().UTC())
			switch {
			case errors.Is(err, billing.ErrRecordNotFound):
				respondError(w, http.StatusForbidden, "no subscription on record")
				return
			case err != nil:
				log.ErrorContext(r.Context(), "access check failed",
					slog.String("subscriber_id", subscriberID.String()),
					logger.Error(err))
				respondError(w, http.StatusServiceUnavailable, "subscription state unavailable")
				return
			case !hasAccess:
				respondJSON(w, http.StatusForbidden, map[string]string{
					"error":  "subscription required",
					"status": string(status),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
