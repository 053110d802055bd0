// internal/provider/stripe.go
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
	"github.com/tidwall/gjson"

	"github.com/javajoker/checkout-backend/internal/models"
)

const stripeSignatureHeader = "Stripe-Signature"

// Stripe creates Checkout Sessions. Test and production traffic use
// separate secret keys, chosen per request by environment.
type Stripe struct {
	clients       map[models.Environment]*client.API
	webhookSecret string
}

type StripeConfig struct {
	TestSecretKey string
	LiveSecretKey string
	WebhookSecret string
	// Backend overrides the HTTP backend; nil uses Stripe's.
	Backend stripe.Backend
}

func NewStripe(cfg StripeConfig) *Stripe {
	var backends *stripe.Backends
	if cfg.Backend != nil {
		backends = &stripe.Backends{API: cfg.Backend, Connect: cfg.Backend, Uploads: cfg.Backend}
	}

	clients := map[models.Environment]*client.API{}
	if cfg.TestSecretKey != "" {
		clients[models.EnvironmentTest] = client.New(cfg.TestSecretKey, backends)
	}
	if cfg.LiveSecretKey != "" {
		clients[models.EnvironmentProduction] = client.New(cfg.LiveSecretKey, backends)
	}
	return &Stripe{clients: clients, webhookSecret: cfg.WebhookSecret}
}

func (s *Stripe) Name() string {
	return "stripe"
}

func (s *Stripe) api(env models.Environment) (*client.API, error) {
	sc, ok := s.clients[env]
	if !ok {
		return nil, fmt.Errorf("stripe is not configured for %s environment", env)
	}
	return sc, nil
}

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	sc, err := s.api(req.Environment)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.TransactionID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(MinorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"transaction_id": req.TransactionID},
		},
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(req.ExpiresAt.Unix())
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.TransactionID)
	params.AddMetadata("transaction_id", req.TransactionID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &Session{ID: cs.ID, URL: cs.URL, ExpiresAt: time.Unix(cs.ExpiresAt, 0)}, nil
}

func (s *Stripe) FetchSession(ctx context.Context, env models.Environment, sessionID string) (*SessionState, error) {
	sc, err := s.api(env)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkout session: %w", err)
	}

	state := &SessionState{
		ID:      cs.ID,
		Paid:    cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Expired: cs.Status == stripe.CheckoutSessionStatusExpired,
	}
	if cs.PaymentIntent != nil {
		state.ProviderTransactionID = cs.PaymentIntent.ID
	}
	return state, nil
}

func (s *Stripe) ExpireSession(ctx context.Context, env models.Environment, sessionID string) error {
	sc, err := s.api(env)
	if err != nil {
		return err
	}

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := sc.CheckoutSessions.Expire(sessionID, params); err != nil {
		return fmt.Errorf("failed to expire checkout session: %w", err)
	}
	return nil
}

func (s *Stripe) Refund(ctx context.Context, env models.Environment, providerTransactionID string, amount decimal.Decimal) error {
	sc, err := s.api(env)
	if err != nil {
		return err
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerTransactionID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if amount.IsPositive() {
		params.Amount = stripe.Int64(MinorUnits(amount))
	}
	params.Context = ctx
	if _, err := sc.Refunds.New(params); err != nil {
		return fmt.Errorf("failed to process refund: %w", err)
	}
	return nil
}

// ParseCallback verifies the Stripe-Signature header and maps Checkout
// Session events onto callback kinds. Events for other objects are ignored.
func (s *Stripe) ParseCallback(header http.Header, body []byte) (*CallbackEvent, error) {
	event, err := webhook.ConstructEventWithOptions(body, header.Get(stripeSignatureHeader), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &CallbackEvent{
		EventID:     event.ID,
		Type:        string(event.Type),
		Kind:        CallbackIgnored,
		Environment: models.EnvironmentTest,
	}
	if event.Livemode {
		out.Environment = models.EnvironmentProduction
	}
	if event.Data == nil {
		return out, nil
	}

	obj := gjson.ParseBytes(event.Data.Raw)
	if obj.Get("object").Str != "checkout.session" {
		return out, nil
	}
	out.SessionID = obj.Get("id").Str
	out.TransactionID = obj.Get("client_reference_id").Str
	if out.TransactionID == "" {
		out.TransactionID = obj.Get("metadata.transaction_id").Str
	}
	if pi := obj.Get("payment_intent"); pi.Type == gjson.String {
		out.ProviderTransactionID = pi.Str
	} else {
		out.ProviderTransactionID = pi.Get("id").Str
	}

	switch event.Type {
	case "checkout.session.completed":
		if obj.Get("payment_status").Str == string(stripe.CheckoutSessionPaymentStatusPaid) {
			out.Kind = CallbackSucceeded
		}
	case "checkout.session.async_payment_succeeded":
		out.Kind = CallbackSucceeded
	case "checkout.session.async_payment_failed":
		out.Kind = CallbackFailed
	case "checkout.session.expired":
		out.Kind = CallbackExpired
	}
	return out, nil
}
