// Package billing exposes the subscription billing core over HTTP: webhook
// ingestion, checkout creation, post-checkout verification, status reads,
// and the access-gating middleware for premium routes.
package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GabriellaKhayutin1/smartstorage/pkg/billing"
	"github.com/GabriellaKhayutin1/smartstorage/pkg/logger"
)

// maxWebhookBody bounds webhook payload reads; provider events are small.
const maxWebhookBody = 1 << 20

// Config holds transport settings, loaded from the environment.
type Config struct {
	TrialDays  int    `env:"BILLING_TRIAL_DAYS" envDefault:"7"`
	SuccessURL string `env:"BILLING_SUCCESS_URL"`
	CancelURL  string `env:"BILLING_CANCEL_URL"`
}

// Service wires the billing core into HTTP handlers.
type Service struct {
	cfg      Config
	ingestor *billing.EventIngestor
	verifier *billing.VerificationService
	checkout *billing.CheckoutService
	gate     *billing.AccessGate
	store    billing.RecordStore
	sigHdr   string
	log      *slog.Logger
}

// NewService creates the HTTP service. Panics if required dependencies are
// nil to fail fast during initialization.
func NewService(
	cfg Config,
	ingestor *billing.EventIngestor,
	verifier *billing.VerificationService,
	checkout *billing.CheckoutService,
	gate *billing.AccessGate,
	store billing.RecordStore,
	signatureHeader string,
	log *slog.Logger,
) *Service {
	if ingestor == nil || verifier == nil || checkout == nil || gate == nil || store == nil {
		panic("billing: all core dependencies are required")
	}
	if signatureHeader == "" {
		signatureHeader = "X-Webhook-Signature"
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 7
	}
	return &Service{
		cfg:      cfg,
		ingestor: ingestor,
		verifier: verifier,
		checkout: checkout,
		gate:     gate,
		store:    store,
		sigHdr:   signatureHeader,
		log:      log,
	}
}

// WebhookSignatureHeader returns the signature header a provider sends.
func WebhookSignatureHeader(providerName string) string {
	switch providerName {
	case "paddle":
		return "Paddle-Signature"
	case "mollie":
		return "X-Mollie-Signature"
	default:
		return "X-Webhook-Signature"
	}
}

// Routes mounts all billing endpoints on a router.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	// Provider-facing; authenticity comes from the signature, not a session.
	r.Post("/webhooks/billing", s.handleWebhook)

	r.Get("/billing/plans", s.handlePlans)

	r.Group(func(r chi.Router) {
		r.Use(SubscriberIdentity)
		r.Post("/billing/register", s.handleRegister)
		r.Post("/billing/checkout", s.handleCheckout)
		r.Post("/billing/verify", s.handleVerify)
		r.Get("/billing/status", s.handleStatus)
	})

	return r
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to read webhook body", logger.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	status := s.ingestor.HandleDelivery(r.Context(), body, r.Header.Get(s.sigHdr))
	w.WriteHeader(status)
}

func (s *Service) handlePlans(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"plans": s.checkout.Plans()})
}

// handleRegister provisions the billing record at signup. Idempotent: a
// retried signup answers 200 with the existing record's snapshot.
func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	subscriberID, _ := GetSubscriberFromContext(r.Context())

	now := time.Now().UTC()
	rec, err := billing.RegisterSubscriber(r.Context(), s.store, subscriberID, now, s.cfg.TrialDays)
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to register subscriber",
			slog.String("subscriber_id", subscriberID.String()), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to register subscriber")
		return
	}

	respondJSON(w, http.StatusOK, rec.Snapshot(now))
}

type checkoutRequest struct {
	PlanID string `json:"plan_id"`
	Email  string `json:"email"`
}

func (s *Service) handleCheckout(w http.ResponseWriter, r *http.Request) {
	subscriberID, _ := GetSubscriberFromContext(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlanID == "" || req.Email == "" {
		respondError(w, http.StatusBadRequest, "plan_id and email are required")
		return
	}

	intent, err := s.checkout.CreateCheckout(r.Context(), subscriberID, req.PlanID, req.Email,
		s.cfg.SuccessURL, s.cfg.CancelURL)
	switch {
	case errors.Is(err, billing.ErrPlanNotFound):
		respondError(w, http.StatusNotFound, "unknown plan")
		return
	case errors.Is(err, billing.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "no subscription on record")
		return
	case err != nil:
		s.log.ErrorContext(r.Context(), "failed to create checkout",
			slog.String("subscriber_id", subscriberID.String()), logger.Error(err))
		respondError(w, http.StatusBadGateway, "failed to create checkout")
		return
	}

	respondJSON(w, http.StatusOK, intent)
}

type verifyRequest struct {
	CheckoutReference string `json:"checkout_reference"`
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	subscriberID, _ := GetSubscriberFromContext(r.Context())

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CheckoutReference == "" {
		respondError(w, http.StatusBadRequest, "checkout_reference is required")
		return
	}

	snap, err := s.verifier.Verify(r.Context(), subscriberID, req.CheckoutReference)
	switch {
	case errors.Is(err, billing.ErrCheckoutNotFound):
		respondError(w, http.StatusNotFound, "unknown checkout reference")
		return
	case errors.Is(err, billing.ErrSubjectMismatch):
		respondError(w, http.StatusForbidden, "checkout belongs to a different subscriber")
		return
	case errors.Is(err, billing.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "no subscription on record")
		return
	case errors.Is(err, billing.ErrProviderUnavailable):
		respondError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	case err != nil:
		s.log.ErrorContext(r.Context(), "verification failed",
			slog.String("subscriber_id", subscriberID.String()), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	subscriberID, _ := GetSubscriberFromContext(r.Context())

	snap, err := s.gate.Status(r.Context(), subscriberID, time.Now().UTC())
	switch {
	case errors.Is(err, billing.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "no subscription on record")
		return
	case err != nil:
		s.log.ErrorContext(r.Context(), "failed to read subscription status",
			slog.String("subscriber_id", subscriberID.String()), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read subscription status")
		return
	}

	respondJSON(w, http.StatusOK, snap)
}
