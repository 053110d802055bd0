package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"

	"github.com/javajoker/checkout-backend/internal/models"
)

const testWebhookSecret = "whsec_test_secret"

func signStripe(payload []byte, secret string, ts time.Time) string {
	signed := fmt.Sprintf("%d.%s", ts.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_123","object":"event","api_version":"2020-08-27","livemode":false,"type":%q,"data":{"object":%s}}`, eventType, object))
}

func TestStripeParseCallbackCompletedPaid(t *testing.T) {
	s := NewStripe(StripeConfig{TestSecretKey: "sk_test_x", WebhookSecret: testWebhookSecret})
	body := stripeEvent("checkout.session.completed",
		`{"id":"cs_test_1","object":"checkout.session","client_reference_id":"T1","payment_intent":"pi_1","payment_status":"paid"}`)
	header := http.Header{}
	header.Set("Stripe-Signature", signStripe(body, testWebhookSecret, time.Now()))

	ev, err := s.ParseCallback(header, body)

	require.NoError(t, err)
	assert.Equal(t, "evt_123", ev.EventID)
	assert.Equal(t, CallbackSucceeded, ev.Kind)
	assert.Equal(t, "T1", ev.TransactionID)
	assert.Equal(t, "cs_test_1", ev.SessionID)
	assert.Equal(t, "pi_1", ev.ProviderTransactionID)
	assert.Equal(t, models.EnvironmentTest, ev.Environment)
}

func TestStripeParseCallbackCompletedUnpaidIsIgnored(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testWebhookSecret})
	body := stripeEvent("checkout.session.completed",
		`{"id":"cs_test_1","object":"checkout.session","metadata":{"transaction_id":"T1"},"payment_status":"unpaid"}`)
	header := http.Header{}
	header.Set("Stripe-Signature", signStripe(body, testWebhookSecret, time.Now()))

	ev, err := s.ParseCallback(header, body)

	require.NoError(t, err)
	assert.Equal(t, CallbackIgnored, ev.Kind)
	assert.Equal(t, "T1", ev.TransactionID)
}

func TestStripeParseCallbackKinds(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testWebhookSecret})
	tests := map[string]CallbackKind{
		"checkout.session.async_payment_succeeded": CallbackSucceeded,
		"checkout.session.async_payment_failed":    CallbackFailed,
		"checkout.session.expired":                 CallbackExpired,
	}
	for eventType, kind := range tests {
		t.Run(eventType, func(t *testing.T) {
			body := stripeEvent(eventType, `{"id":"cs_1","object":"checkout.session","client_reference_id":"T9"}`)
			header := http.Header{}
			header.Set("Stripe-Signature", signStripe(body, testWebhookSecret, time.Now()))

			ev, err := s.ParseCallback(header, body)

			require.NoError(t, err)
			assert.Equal(t, kind, ev.Kind)
		})
	}
}

func TestStripeParseCallbackOtherObjectIgnored(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testWebhookSecret})
	body := stripeEvent("customer.created", `{"id":"cus_1","object":"customer"}`)
	header := http.Header{}
	header.Set("Stripe-Signature", signStripe(body, testWebhookSecret, time.Now()))

	ev, err := s.ParseCallback(header, body)

	require.NoError(t, err)
	assert.Equal(t, CallbackIgnored, ev.Kind)
	assert.Empty(t, ev.TransactionID)
}

func TestStripeParseCallbackRejectsBadSignature(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: testWebhookSecret})
	body := stripeEvent("checkout.session.completed", `{"id":"cs_1","object":"checkout.session"}`)
	header := http.Header{}
	header.Set("Stripe-Signature", signStripe(body, "whsec_other", time.Now()))

	_, err := s.ParseCallback(header, body)

	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func newStripeBackend(t *testing.T, handler http.HandlerFunc) stripe.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
}

func TestStripeCreateSession(t *testing.T) {
	var form map[string]string
	var idempotency string
	backend := newStripeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		idempotency = r.Header.Get("Idempotency-Key")
		form = map[string]string{
			"path":         r.URL.Path,
			"reference":    r.Form.Get("client_reference_id"),
			"unit_amount":  r.Form.Get("line_items[0][price_data][unit_amount]"),
			"currency":     r.Form.Get("line_items[0][price_data][currency]"),
			"metadata_txn": r.Form.Get("metadata[transaction_id]"),
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_abc","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_abc","expires_at":1767225600}`)
	})
	s := NewStripe(StripeConfig{TestSecretKey: "sk_test_x", Backend: backend})

	sess, err := s.CreateSession(context.Background(), SessionRequest{
		TransactionID: "T1",
		Environment:   models.EnvironmentTest,
		Amount:        decimal.RequireFromString("80.50"),
		Currency:      "usd",
		Description:   "Order T1",
		SuccessURL:    "https://shop.test/checkout/success",
		CancelURL:     "https://shop.test/checkout/cancel",
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_test_abc", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_abc", sess.URL)
	assert.Equal(t, "/v1/checkout/sessions", form["path"])
	assert.Equal(t, "T1", form["reference"])
	assert.Equal(t, "8050", form["unit_amount"])
	assert.Equal(t, "usd", form["currency"])
	assert.Equal(t, "T1", form["metadata_txn"])
	assert.Equal(t, "checkout-T1", idempotency)
}

func TestStripeFetchSession(t *testing.T) {
	backend := newStripeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_test_abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_abc","object":"checkout.session","status":"complete","payment_status":"paid","payment_intent":"pi_42"}`)
	})
	s := NewStripe(StripeConfig{TestSecretKey: "sk_test_x", Backend: backend})

	state, err := s.FetchSession(context.Background(), models.EnvironmentTest, "cs_test_abc")

	require.NoError(t, err)
	assert.True(t, state.Paid)
	assert.False(t, state.Expired)
	assert.Equal(t, "pi_42", state.ProviderTransactionID)
}

func TestStripeUnconfiguredEnvironment(t *testing.T) {
	s := NewStripe(StripeConfig{TestSecretKey: "sk_test_x"})

	_, err := s.CreateSession(context.Background(), SessionRequest{TransactionID: "T1", Environment: models.EnvironmentProduction})

	assert.ErrorContains(t, err, "production")
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), MinorUnits(decimal.RequireFromString("10")))
	assert.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.005")))
}
