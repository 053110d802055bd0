// internal/provider/sandbox.go
package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/javajoker/checkout-backend/internal/models"
)

const SandboxSignatureHeader = "X-Sandbox-Signature"

// Sandbox is an in-process stand-in for a hosted payment provider. It is
// selected with PAYMENT_PROVIDER=sandbox and drives service tests.
type Sandbox struct {
	mu       sync.Mutex
	baseURL  string
	secret   string
	sessions map[string]*sandboxSession
	failNext error
	refunds  []string
}

type sandboxSession struct {
	req           SessionRequest
	paid          bool
	expired       bool
	transactionID string
}

func NewSandbox(baseURL, secret string) *Sandbox {
	return &Sandbox{
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   secret,
		sessions: map[string]*sandboxSession{},
	}
}

func (s *Sandbox) Name() string {
	return "sandbox"
}

// FailNext makes the next provider call return err.
func (s *Sandbox) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Sandbox) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Sandbox) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	for id, existing := range s.sessions {
		if existing.req.TransactionID == req.TransactionID {
			return &Session{ID: id, URL: s.sessionURL(id), ExpiresAt: existing.req.ExpiresAt}, nil
		}
	}

	id := "sbx_cs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.sessions[id] = &sandboxSession{req: req}
	return &Session{ID: id, URL: s.sessionURL(id), ExpiresAt: req.ExpiresAt}, nil
}

func (s *Sandbox) sessionURL(id string) string {
	return s.baseURL + "/sandbox/checkout/" + id
}

func (s *Sandbox) FetchSession(ctx context.Context, env models.Environment, sessionID string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return &SessionState{ID: sessionID, Paid: sess.paid, Expired: sess.expired, ProviderTransactionID: sess.transactionID}, nil
}

func (s *Sandbox) ExpireSession(ctx context.Context, env models.Environment, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if !sess.paid {
		sess.expired = true
	}
	return nil
}

func (s *Sandbox) Refund(ctx context.Context, env models.Environment, providerTransactionID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.refunds = append(s.refunds, providerTransactionID)
	return nil
}

// Refunds lists provider transaction ids refunded so far.
func (s *Sandbox) Refunds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refunds...)
}

// Pay marks a session paid, as if the buyer completed the hosted form,
// and returns the provider transaction id assigned to the charge.
func (s *Sandbox) Pay(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrUnknownSession
	}
	if sess.expired {
		return "", errors.New("session expired")
	}
	if sess.transactionID == "" {
		sess.transactionID = "sbx_pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	sess.paid = true
	return sess.transactionID, nil
}

// Sign returns the signature header value for a callback body.
func (s *Sandbox) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseCallback accepts bodies shaped like
//
//	{"id": "evt_1", "type": "session.paid", "session_id": "...", "transaction_id": "...", "provider_transaction_id": "..."}
//
// signed with HMAC-SHA256 over the raw body.
func (s *Sandbox) ParseCallback(header http.Header, body []byte) (*CallbackEvent, error) {
	got, err := hex.DecodeString(header.Get(SandboxSignatureHeader))
	if err != nil || !hmac.Equal(got, mustHex(s.Sign(body))) {
		return nil, ErrInvalidSignature
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed callback body")
	}

	doc := gjson.ParseBytes(body)
	ev := &CallbackEvent{
		EventID:               doc.Get("id").Str,
		Type:                  doc.Get("type").Str,
		Kind:                  CallbackIgnored,
		SessionID:             doc.Get("session_id").Str,
		TransactionID:         doc.Get("transaction_id").Str,
		ProviderTransactionID: doc.Get("provider_transaction_id").Str,
		Environment:           models.EnvironmentTest,
	}
	if ev.EventID == "" {
		return nil, fmt.Errorf("callback is missing an event id")
	}

	switch ev.Type {
	case "session.paid":
		ev.Kind = CallbackSucceeded
	case "session.failed":
		ev.Kind = CallbackFailed
	case "session.expired":
		ev.Kind = CallbackExpired
	}
	return ev, nil
}

func mustHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
