package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/oakmart/storefront-api/internal/payments"
	"github.com/oakmart/storefront-api/internal/platform/httpx"
	"github.com/oakmart/storefront-api/internal/services"
)

const maxWebhookBody = 64 * 1024

// StripeWebhookHandlers verifies and dispatches Stripe webhook events.
type StripeWebhookHandlers struct {
	checkout      services.CheckoutService
	signingSecret string
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewStripeWebhookHandlers constructs webhook handlers bound to a signing secret.
func NewStripeWebhookHandlers(checkout services.CheckoutService, signingSecret string, logger func(ctx context.Context, event string, fields map[string]any)) *StripeWebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeWebhookHandlers{
		checkout:      checkout,
		signingSecret: signingSecret,
		logger:        logger,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *StripeWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripeEvent)
}

// intentEventPayload is the slice of the event object the handlers act on.
type intentEventPayload struct {
	ID               string `json:"id"`
	LastPaymentError *struct {
		Code string `json:"code"`
	} `json:"last_payment_error"`
}

func (h *StripeWebhookHandlers) handleStripeEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.signingSecret == "" {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook signing secret not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		h.logger(ctx, "webhooks.signature_rejected", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	switch event.Type {
	case "payment_intent.payment_failed":
		h.paymentFailed(ctx, w, event.Data.Raw)
	default:
		// Other event types are acknowledged without action.
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
	}
}

// paymentFailed drops the intent-to-order association when the failure was an
// authentication rejection, so the next attempt starts with a fresh intent.
func (h *StripeWebhookHandlers) paymentFailed(ctx context.Context, w http.ResponseWriter, raw json.RawMessage) {
	var payload intentEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event object is not a payment intent", http.StatusBadRequest))
		return
	}

	if payload.LastPaymentError == nil || payload.LastPaymentError.Code != payments.ErrorCodeAuthenticationFailure {
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
		return
	}

	if err := h.checkout.MarkAuthenticationFailed(ctx, payload.ID); err != nil {
		h.logger(ctx, "webhooks.authentication_failure_cleanup_failed", map[string]any{
			"payment_intent_id": payload.ID, "error": err.Error(),
		})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process event", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": true})
}
