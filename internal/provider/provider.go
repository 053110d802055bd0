// internal/provider/provider.go
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/checkout-backend/internal/models"
)

var (
	ErrInvalidSignature = errors.New("invalid callback signature")
	ErrUnknownSession   = errors.New("unknown provider session")
)

type SessionRequest struct {
	TransactionID string
	Environment   models.Environment
	Amount        decimal.Decimal
	Currency      string
	Description   string
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
	Metadata      map[string]string
}

type Session struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// SessionState is what the provider currently reports for a session.
type SessionState struct {
	ID                    string
	Paid                  bool
	Expired               bool
	ProviderTransactionID string
}

type CallbackKind string

const (
	CallbackSucceeded CallbackKind = "succeeded"
	CallbackFailed    CallbackKind = "failed"
	CallbackExpired   CallbackKind = "expired"
	CallbackIgnored   CallbackKind = "ignored"
)

// CallbackEvent is a verified server-to-server notification.
type CallbackEvent struct {
	EventID               string
	Type                  string
	Kind                  CallbackKind
	TransactionID         string
	SessionID             string
	ProviderTransactionID string
	Environment           models.Environment
}

// Provider is the hosted payment surface the checkout is delegated to.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	FetchSession(ctx context.Context, env models.Environment, sessionID string) (*SessionState, error)
	ExpireSession(ctx context.Context, env models.Environment, sessionID string) error
	Refund(ctx context.Context, env models.Environment, providerTransactionID string, amount decimal.Decimal) error
	ParseCallback(header http.Header, body []byte) (*CallbackEvent, error)
}

// MinorUnits converts an amount to the provider's integer minor currency unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
