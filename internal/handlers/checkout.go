package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/payments"
	"github.com/oakmart/storefront-api/internal/platform/auth"
	"github.com/oakmart/storefront-api/internal/platform/httpx"
	"github.com/oakmart/storefront-api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// adminRole grants access to the administrative checkout surface, where card
// authentication cannot be collected interactively.
const adminRole = "admin"

// CheckoutHandlers exposes order placement endpoints for authenticated users.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutOption customises checkout handler construction.
type CheckoutOption func(*CheckoutHandlers)

// WithPlaceOrderLimit throttles place-order attempts per user.
func WithPlaceOrderLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/checkout/place-order", h.placeOrder)
	group.Post("/checkout/finalize", h.finalizeOrder)
}

type placeOrderRequest struct {
	QuoteID       string            `json:"quoteId"`
	MultiShipping bool              `json:"multishipping"`
	PaymentData   map[string]string `json:"paymentData"`
}

type placeOrderResponse struct {
	Status           string   `json:"status"`
	OrderIncrementID string   `json:"orderIncrementId,omitempty"`
	PaymentIntentID  string   `json:"paymentIntentId,omitempty"`
	ClientSecrets    []string `json:"clientSecrets,omitempty"`
	RedirectPath     string   `json:"redirectPath,omitempty"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, req, ok := h.decodeCheckoutRequest(w, r)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
		return
	}

	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		QuoteID:     req.QuoteID,
		Checkout:    h.checkoutContext(identity, req),
		PaymentData: req.PaymentData,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, placeOrderPayload(result))
}

func (h *CheckoutHandlers) finalizeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, req, ok := h.decodeCheckoutRequest(w, r)
	if !ok {
		return
	}

	result, err := h.checkout.FinalizeAuthenticatedOrder(ctx, services.FinalizeOrderCommand{
		QuoteID:     req.QuoteID,
		Checkout:    h.checkoutContext(identity, req),
		PaymentData: req.PaymentData,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, placeOrderPayload(result))
}

func (h *CheckoutHandlers) decodeCheckoutRequest(w http.ResponseWriter, r *http.Request) (*auth.Identity, placeOrderRequest, bool) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return nil, placeOrderRequest{}, false
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, placeOrderRequest{}, false
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return nil, placeOrderRequest{}, false
	}

	var req placeOrderRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return nil, placeOrderRequest{}, false
		}
	}

	req.QuoteID = strings.TrimSpace(req.QuoteID)
	if req.QuoteID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quoteId is required", http.StatusBadRequest))
		return nil, placeOrderRequest{}, false
	}
	return identity, req, true
}

func (h *CheckoutHandlers) checkoutContext(identity *auth.Identity, req placeOrderRequest) domain.CheckoutContext {
	area := domain.AreaStorefront
	if identity.HasRole(adminRole) {
		area = domain.AreaAdmin
	}
	return domain.CheckoutContext{
		Area:          area,
		APIRequest:    true,
		MultiShipping: req.MultiShipping,
	}
}

func placeOrderPayload(result services.PlaceOrderResult) placeOrderResponse {
	return placeOrderResponse{
		Status:           string(result.Status),
		OrderIncrementID: result.OrderIncrementID,
		PaymentIntentID:  result.PaymentIntentID,
		ClientSecrets:    result.ClientSecrets,
		RedirectPath:     result.RedirectPath,
	}
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var paymentErr *payments.PaymentError
	switch {
	case errors.As(err, &paymentErr):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", paymentErr.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutQuoteNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("quote_not_found", "quote not found", http.StatusNotFound))
	case errors.Is(err, payments.ErrIntentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_intent_not_found", "payment intent not found", http.StatusNotFound))
	case errors.Is(err, payments.ErrAuthenticationNotPossible):
		httpx.WriteError(ctx, w, httpx.NewError("authentication_not_possible", "payment requires customer authentication which cannot be completed here", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentNotSettled):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_settled", "payment has not settled yet", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "quote has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
