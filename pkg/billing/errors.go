package billing

import "errors"

var (
	ErrRecordNotFound      = errors.New("subscriber record not found")
	ErrRecordAlreadyExists = errors.New("subscriber record already exists")
	ErrVersionConflict     = errors.New("subscriber record version conflict")
	ErrTransientStore      = errors.New("transient store error")

	ErrSignatureInvalid = errors.New("webhook signature verification failed")

	ErrCheckoutNotFound    = errors.New("checkout reference not found")
	ErrSubjectMismatch     = errors.New("checkout does not belong to the caller")
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	ErrPlanNotFound = errors.New("billing plan not found")

	// Provider configuration errors
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrUnknownProvider            = errors.New("unknown billing provider")
	ErrMissingProviderCustomerRef = errors.New("provider customer ref is required")
)
