// internal/services/payment_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/config"
	"github.com/javajoker/checkout-backend/internal/lock"
	"github.com/javajoker/checkout-backend/internal/metrics"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/provider"
	"github.com/javajoker/checkout-backend/internal/repository"
)

var errCartChanged = errors.New("cart items changed before the session was bound")

// Outcome is the user-facing reading of a checkout's state.
type Outcome string

const (
	OutcomePaid            Outcome = "paid"
	OutcomeCancelledByUser Outcome = "cancelled_by_user"
	OutcomeFailed          Outcome = "failed"
	OutcomeUnconfirmed     Outcome = "unconfirmed"
	OutcomeAbandoned       Outcome = "abandoned"
	OutcomeRefunded        Outcome = "refunded"
	OutcomeCancelled       Outcome = "cancelled"
)

type PaymentService struct {
	store      repository.Store
	purchases  *PurchaseService
	coupons    *CouponService
	reconciler *ReconcilerService
	provider   provider.Provider
	locker     lock.Locker
	metrics    *metrics.Metrics
	config     *config.Config
	log        logrus.FieldLogger
	now        func() time.Time
}

type CreateSessionRequest struct {
	CartItemIDs    []string           `json:"cart_item_ids" validate:"required,min=1,dive,uuid"`
	AppliedCoupons []string           `json:"applied_coupons" validate:"omitempty,dive,max=50"`
	Environment    models.Environment `json:"environment" validate:"omitempty,oneof=test production"`
}

type SessionResponse struct {
	TransactionID  string               `json:"transaction_id"`
	PaymentURL     string               `json:"payment_url"`
	Status         models.PaymentStatus `json:"status"`
	SubtotalAmount decimal.Decimal      `json:"subtotal_amount"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	TotalAmount    decimal.Decimal      `json:"total_amount"`
	Currency       string               `json:"currency"`
	AppliedCoupons []string             `json:"applied_coupons"`
	ExpiresAt      time.Time            `json:"expires_at"`
	Reused         bool                 `json:"reused"`
}

type UpdateStatusRequest struct {
	TransactionID string               `json:"transaction_id" validate:"required"`
	Status        models.PaymentStatus `json:"status" validate:"required"`
}

type PaymentStatusResponse struct {
	TransactionID string               `json:"transaction_id"`
	Status        models.PaymentStatus `json:"status"`
	Outcome       Outcome              `json:"outcome"`
	CartPreserved bool                 `json:"cart_preserved"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	Currency      string               `json:"currency"`
	PaymentURL    string               `json:"payment_url,omitempty"`
	FinalizedAt   *time.Time           `json:"finalized_at,omitempty"`
	FinalizedBy   models.SignalSource  `json:"finalized_by,omitempty"`
}

type RefundRequest struct {
	TransactionID string          `json:"transaction_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	Reason        string          `json:"reason" validate:"required"`
}

func NewPaymentService(
	store repository.Store,
	purchases *PurchaseService,
	coupons *CouponService,
	reconciler *ReconcilerService,
	paymentProvider provider.Provider,
	locker lock.Locker,
	m *metrics.Metrics,
	config *config.Config,
	log logrus.FieldLogger,
) *PaymentService {
	return &PaymentService{
		store:      store,
		purchases:  purchases,
		coupons:    coupons,
		reconciler: reconciler,
		provider:   paymentProvider,
		locker:     locker,
		metrics:    m,
		config:     config,
		log:        log,
		now:        time.Now,
	}
}

// CreateSession prices the cart, records a pending checkout and opens a
// hosted payment session for it. A repeat request for the same items and
// total returns the checkout already in flight.
func (s *PaymentService) CreateSession(ctx context.Context, owner models.Owner, req *CreateSessionRequest) (*SessionResponse, error) {
	env := req.Environment
	if env == "" {
		env = models.EnvironmentTest
	}
	if !env.Valid() {
		return nil, apperr.Invalid(apperr.ReasonInvalidRequest, "unknown payment environment")
	}

	ids, err := parseIDs(req.CartItemIDs)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperr.Invalid(apperr.ReasonEmptyCart, "cart is empty")
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	guard := guardKey(owner, env, ids)

	lk, err := s.locker.Obtain(ctx, "guard:"+guard, time.Duration(s.config.Payment.CreationLockSeconds)*time.Second)
	if errors.Is(err, lock.ErrNotObtained) {
		s.metrics.Session("rejected")
		return nil, apperr.Conflict(apperr.ReasonSessionInFlight, "a checkout for these items is already being created")
	}
	if err != nil {
		return nil, apperr.Internal(err, "failed to acquire checkout guard")
	}
	defer func() {
		if err := lk.Release(context.Background()); err != nil {
			s.log.WithError(err).WithField("guard", guard).Warn("Failed to release checkout guard")
		}
	}()

	items, err := s.purchases.OwnedItems(ctx, owner, ids)
	if err != nil {
		return nil, err
	}
	quote, err := s.coupons.Quote(ctx, owner, items, req.AppliedCoupons)
	if err != nil {
		return nil, err
	}
	if len(quote.Rejected) > 0 {
		rejected := quote.Rejected[0]
		return nil, apperr.Invalid(rejected.Reason, "coupon cannot be applied").WithDetail("code", rejected.Code)
	}

	existing, err := s.store.FindPendingIntentByGuard(ctx, guard)
	if err == nil && s.orphaned(existing) {
		if err := s.store.DeletePendingIntent(ctx, existing.TransactionID); err != nil {
			return nil, apperr.Internal(err, "failed to discard stale checkout")
		}
		s.log.WithFields(logrus.Fields{
			"transaction_id": existing.TransactionID,
			"owner":          existing.OwnerKey,
		}).Warn("Discarded checkout left without a payment session")
		existing, err = nil, repository.ErrNotFound
	}
	switch {
	case err == nil:
		if existing.TotalAmount.Equal(quote.Total) && existing.PaymentURL != "" {
			s.metrics.Session("reused")
			return sessionResponse(existing, true), nil
		}
		s.metrics.Session("rejected")
		return nil, apperr.Conflict(apperr.ReasonSessionInFlight, "a checkout for these items is already in progress")
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Internal(err, "failed to look up checkout")
	}

	for _, item := range items {
		if item.PaymentStatus != models.PaymentStatusCart {
			return nil, apperr.Conflict(apperr.ReasonInvalidState, "item is not in the cart").
				WithDetail("cart_item_id", item.ID.String())
		}
	}

	now := s.now()
	intent := &models.PaymentIntent{
		BaseModel:      models.BaseModel{CreatedAt: now},
		TransactionID:  newTransactionID(),
		OwnerKey:       owner.Key(),
		GuardKey:       guard,
		CartItemIDs:    uuidStrings(ids),
		AppliedCoupons: quote.AppliedCodes(),
		SubtotalAmount: quote.Subtotal,
		DiscountAmount: quote.DiscountTotal,
		TotalAmount:    quote.Total,
		Currency:       s.config.Payment.Currency,
		Environment:    env,
		Status:         models.PaymentStatusPending,
		ExpiresAt:      now.Add(s.config.Reconciler.AbandonAfter()),
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.metrics.Session("rejected")
			return nil, apperr.Conflict(apperr.ReasonSessionInFlight, "a checkout for these items is already in progress")
		}
		return nil, apperr.Internal(err, "failed to record checkout")
	}

	logger := s.log.WithFields(logrus.Fields{
		"transaction_id": intent.TransactionID,
		"owner":          intent.OwnerKey,
		"total":          intent.TotalAmount.StringFixed(2),
		"environment":    env,
	})

	if quote.Total.IsZero() {
		if _, err := s.reconciler.Finalize(ctx, intent.TransactionID, models.SourceZeroTotal, ""); err != nil {
			return nil, err
		}
		s.metrics.Session("zero_total")
		logger.Info("Zero-total checkout completed without a payment session")
		intent.Status = models.PaymentStatusPaid
		return sessionResponse(intent, false), nil
	}

	sess, err := s.provider.CreateSession(ctx, provider.SessionRequest{
		TransactionID: intent.TransactionID,
		Environment:   env,
		Amount:        intent.TotalAmount,
		Currency:      intent.Currency,
		Description:   checkoutDescription(items),
		SuccessURL:    s.returnURL("success", intent.TransactionID),
		CancelURL:     s.returnURL("cancel", intent.TransactionID),
		ExpiresAt:     now.Add(s.config.Payment.SessionTTL()),
		Metadata:      map[string]string{"owner": intent.OwnerKey},
	})
	if err != nil {
		if derr := s.store.DeletePendingIntent(ctx, intent.TransactionID); derr != nil {
			logger.WithError(derr).Error("Failed to discard checkout after provider error")
		}
		s.metrics.Session("failed")
		logger.WithError(err).Warn("Payment provider rejected session creation")
		return nil, apperr.Unavailable(err, "payment provider is unavailable, please try again")
	}

	if err := s.bindSession(ctx, intent, ids, sess); err != nil {
		if errors.Is(err, errCartChanged) {
			s.cancelIntent(ctx, intent, sess, logger)
			s.metrics.Session("rejected")
			return nil, apperr.Conflict(apperr.ReasonCartChanged, "cart changed while the checkout was being prepared")
		}
		return nil, apperr.Internal(err, "failed to bind payment session")
	}
	s.purchases.InvalidateOwner(owner.Key())

	intent.ProviderSessionID = sess.ID
	intent.PaymentURL = sess.URL
	s.metrics.Session("created")
	logger.WithField("session_id", sess.ID).Info("Payment session created")

	latest, err := s.store.FindIntent(ctx, intent.TransactionID)
	if err != nil {
		return sessionResponse(intent, false), nil
	}
	return sessionResponse(latest, false), nil
}

// orphaned reports a pending checkout whose creator stopped before a
// provider session was attached. Nothing can settle it, and the guard lock
// it was created under has expired.
func (s *PaymentService) orphaned(intent *models.PaymentIntent) bool {
	if intent.ProviderSessionID != "" || intent.SubmittedAt != nil {
		return false
	}
	lockTTL := time.Duration(s.config.Payment.CreationLockSeconds) * time.Second
	return s.now().Sub(intent.CreatedAt) > lockTTL
}

// bindSession stores the provider session on the intent and moves its rows
// from cart to pending. A success signal can finalize the intent before
// this runs; then only the session reference is recorded.
func (s *PaymentService) bindSession(ctx context.Context, intent *models.PaymentIntent, ids []uuid.UUID, sess *provider.Session) error {
	return s.store.Transaction(ctx, func(tx repository.Store) error {
		changes := repository.IntentChanges{ProviderSessionID: &sess.ID, PaymentURL: &sess.URL}
		bound, err := tx.UpdateIntent(ctx, intent.TransactionID, models.PaymentStatusPending, changes)
		if err != nil {
			return err
		}
		if !bound {
			latest, err := tx.FindIntent(ctx, intent.TransactionID)
			if err != nil {
				return err
			}
			_, err = tx.UpdateIntent(ctx, intent.TransactionID, latest.Status, changes)
			return err
		}

		n, err := tx.TransitionPurchases(ctx, repository.PurchaseTransition{
			IDs: ids, From: models.PaymentStatusCart, To: models.PaymentStatusPending, TransactionID: intent.TransactionID,
		})
		if err != nil {
			return err
		}
		if int(n) == len(ids) {
			return nil
		}

		// A submission signal may already have moved some rows.
		rows, err := tx.GetPurchases(ctx, ids)
		if err != nil {
			return err
		}
		if len(rows) != len(ids) {
			return errCartChanged
		}
		for _, p := range rows {
			if p.PaymentStatus != models.PaymentStatusPending || p.TransactionID == nil || *p.TransactionID != intent.TransactionID {
				return errCartChanged
			}
		}
		return nil
	})
}

func (s *PaymentService) cancelIntent(ctx context.Context, intent *models.PaymentIntent, sess *provider.Session, logger logrus.FieldLogger) {
	cancelled := models.PaymentStatusCancelled
	if _, err := s.store.UpdateIntent(ctx, intent.TransactionID, models.PaymentStatusPending, repository.IntentChanges{
		Status:            &cancelled,
		ProviderSessionID: &sess.ID,
	}); err != nil {
		logger.WithError(err).Error("Failed to cancel unbound checkout")
	}
	if err := s.provider.ExpireSession(ctx, intent.Environment, sess.ID); err != nil {
		logger.WithError(err).Warn("Failed to expire unbound payment session")
	}
	logger.Warn("Checkout cancelled because its cart changed")
}

// Confirm is the client's best-effort note that a submission happened.
// Failures are logged and never surfaced.
func (s *PaymentService) Confirm(ctx context.Context, transactionID string) {
	s.metrics.Signal("confirm", "received")
	if err := s.reconciler.RecordSubmission(ctx, transactionID); err != nil {
		s.log.WithError(err).WithField("transaction_id", transactionID).Warn("Failed to record client confirmation")
	}
}

// UpdateStatus lets the client move a checkout into pending the moment it
// sees a submission. No other status can be set this way.
func (s *PaymentService) UpdateStatus(ctx context.Context, owner models.Owner, req *UpdateStatusRequest) (*PaymentStatusResponse, error) {
	if req.Status != models.PaymentStatusPending {
		return nil, apperr.Invalid(apperr.ReasonInvalidRequest, "only the pending status can be reported by clients")
	}
	if _, err := s.ownedIntent(ctx, owner, req.TransactionID); err != nil {
		return nil, err
	}
	if err := s.reconciler.RecordSubmission(ctx, req.TransactionID); err != nil {
		return nil, err
	}
	return s.Status(ctx, owner, req.TransactionID)
}

func (s *PaymentService) Status(ctx context.Context, owner models.Owner, transactionID string) (*PaymentStatusResponse, error) {
	intent, err := s.ownedIntent(ctx, owner, transactionID)
	if err != nil {
		return nil, err
	}

	resp := &PaymentStatusResponse{
		TransactionID: intent.TransactionID,
		Status:        intent.Status,
		Outcome:       outcomeOf(intent),
		TotalAmount:   intent.TotalAmount,
		Currency:      intent.Currency,
		FinalizedAt:   intent.FinalizedAt,
		FinalizedBy:   intent.FinalizedBy,
	}
	if intent.Status == models.PaymentStatusPending {
		resp.PaymentURL = intent.PaymentURL
	}
	resp.CartPreserved = intent.Status == models.PaymentStatusAbandoned
	return resp, nil
}

// Refund returns a paid checkout's money through the provider, then marks
// the checkout and its rows refunded.
func (s *PaymentService) Refund(ctx context.Context, req *RefundRequest) (*PaymentStatusResponse, error) {
	intent, err := findIntent(ctx, s.store, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !intent.Status.CanTransition(models.PaymentStatusRefunded) {
		return nil, apperr.Conflict(apperr.ReasonInvalidState, "only paid checkouts can be refunded")
	}

	amount := req.Amount
	if !amount.IsPositive() || amount.GreaterThan(intent.TotalAmount) {
		amount = intent.TotalAmount
	}
	if intent.ProviderTransactionID != "" {
		if err := s.provider.Refund(ctx, intent.Environment, intent.ProviderTransactionID, amount); err != nil {
			return nil, apperr.Unavailable(err, "payment provider could not process the refund")
		}
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		now := s.now()
		refunded := models.PaymentStatusRefunded
		ok, err := tx.UpdateIntent(ctx, intent.TransactionID, models.PaymentStatusPaid, repository.IntentChanges{
			Status:       &refunded,
			RefundedAt:   &now,
			RefundReason: &req.Reason,
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict(apperr.ReasonInvalidState, "checkout changed while the refund was processed")
		}
		_, err = tx.TransitionPurchases(ctx, repository.PurchaseTransition{
			IDs: intent.ItemIDs(), From: models.PaymentStatusPaid, To: refunded, TransactionID: intent.TransactionID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.purchases.InvalidateOwner(intent.OwnerKey)

	s.log.WithFields(logrus.Fields{
		"transaction_id": intent.TransactionID,
		"source":         models.SourceRefund,
		"from":           models.PaymentStatusPaid,
		"to":             models.PaymentStatusRefunded,
		"amount":         amount.StringFixed(2),
	}).Info("Payment refunded")

	return s.Status(ctx, ownerFromKey(intent.OwnerKey), intent.TransactionID)
}

func (s *PaymentService) ownedIntent(ctx context.Context, owner models.Owner, transactionID string) (*models.PaymentIntent, error) {
	intent, err := findIntent(ctx, s.store, transactionID)
	if err != nil {
		return nil, err
	}
	if intent.OwnerKey != owner.Key() {
		return nil, apperr.NotFound("payment not found").WithDetail("transaction_id", transactionID)
	}
	return intent, nil
}

func (s *PaymentService) returnURL(result, transactionID string) string {
	return fmt.Sprintf("%s/checkout/%s?transaction_id=%s", strings.TrimRight(s.config.Frontend.BaseURL, "/"), result, transactionID)
}

func outcomeOf(intent *models.PaymentIntent) Outcome {
	switch intent.Status {
	case models.PaymentStatusPaid:
		return OutcomePaid
	case models.PaymentStatusRefunded:
		return OutcomeRefunded
	case models.PaymentStatusFailed:
		return OutcomeFailed
	case models.PaymentStatusAbandoned:
		return OutcomeAbandoned
	case models.PaymentStatusCancelled:
		return OutcomeCancelled
	}
	switch {
	case intent.ExplicitFailure():
		return OutcomeFailed
	case intent.SurfaceOutcome == models.SurfaceOutcomeCancel:
		return OutcomeCancelledByUser
	}
	return OutcomeUnconfirmed
}

func sessionResponse(intent *models.PaymentIntent, reused bool) *SessionResponse {
	return &SessionResponse{
		TransactionID:  intent.TransactionID,
		PaymentURL:     intent.PaymentURL,
		Status:         intent.Status,
		SubtotalAmount: intent.SubtotalAmount,
		DiscountAmount: intent.DiscountAmount,
		TotalAmount:    intent.TotalAmount,
		Currency:       intent.Currency,
		AppliedCoupons: []string(intent.AppliedCoupons),
		ExpiresAt:      intent.ExpiresAt,
		Reused:         reused,
	}
}

// guardKey identifies one owner's checkout of one exact item set.
func guardKey(owner models.Owner, env models.Environment, sortedIDs []uuid.UUID) string {
	h := sha256.New()
	h.Write([]byte(owner.Key()))
	h.Write([]byte{0})
	h.Write([]byte(env))
	for _, id := range sortedIDs {
		h.Write([]byte{0})
		h.Write([]byte(id.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

const maxDescriptionBytes = 250

func checkoutDescription(items []models.Purchase) string {
	titles := make([]string, 0, len(items))
	for i := range items {
		if t := items[i].Title(); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return fmt.Sprintf("%d item(s)", len(items))
	}
	return truncate(strings.Join(titles, ", "), maxDescriptionBytes)
}

// truncate cuts s to at most limit bytes on a rune boundary, marking the cut
// with an ellipsis.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const ellipsis = "..."
	cut := 0
	for i := range s {
		if i > limit-len(ellipsis) {
			break
		}
		cut = i
	}
	return s[:cut] + ellipsis
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func ownerFromKey(key string) models.Owner {
	if rest, ok := strings.CutPrefix(key, "user:"); ok {
		if id, err := uuid.Parse(rest); err == nil {
			return models.UserOwner(id, nil)
		}
	}
	return models.Owner{GuestID: strings.TrimPrefix(key, "guest:")}
}

func newTransactionID() string {
	return uuid.NewString()
}
