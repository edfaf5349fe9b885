package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const testSigningSecret = "whsec_test"

func signedWebhookRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	mac.Write([]byte(timestamp + "." + payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/stripe", bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, signature))
	return req
}

func TestStripeWebhookAuthenticationFailure(t *testing.T) {
	router := chi.NewRouter()
	var marked []string
	service := &stubCheckoutService{
		markFunc: func(_ context.Context, intentID string) error {
			marked = append(marked, intentID)
			return nil
		},
	}
	NewStripeWebhookHandlers(service, testSigningSecret, nil).Routes(router)

	payload := `{"id":"evt_1","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_failed","last_payment_error":{"code":"payment_intent_authentication_failure"}}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if len(marked) != 1 || marked[0] != "pi_failed" {
		t.Fatalf("marked intents = %v", marked)
	}
}

func TestStripeWebhookNonAuthenticationFailureIgnored(t *testing.T) {
	router := chi.NewRouter()
	service := &stubCheckoutService{
		markFunc: func(context.Context, string) error {
			t.Fatalf("cleanup ran for a non-authentication failure")
			return nil
		},
	}
	NewStripeWebhookHandlers(service, testSigningSecret, nil).Routes(router)

	payload := `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_declined","last_payment_error":{"code":"card_declined"}}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStripeWebhookUnknownEventAcknowledged(t *testing.T) {
	router := chi.NewRouter()
	NewStripeWebhookHandlers(&stubCheckoutService{}, testSigningSecret, nil).Routes(router)

	payload := `{"id":"evt_3","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhookRequest(t, payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	router := chi.NewRouter()
	NewStripeWebhookHandlers(&stubCheckoutService{}, testSigningSecret, nil).Routes(router)

	payload := `{"id":"evt_4","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_failed"}}}`
	req := httptest.NewRequest(http.MethodPost, "/stripe", bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestStripeWebhookWithoutSecretUnavailable(t *testing.T) {
	router := chi.NewRouter()
	NewStripeWebhookHandlers(&stubCheckoutService{}, "", nil).Routes(router)

	req := httptest.NewRequest(http.MethodPost, "/stripe", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}
