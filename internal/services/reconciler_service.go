// internal/services/reconciler_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/config"
	"github.com/javajoker/checkout-backend/internal/metrics"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/provider"
	"github.com/javajoker/checkout-backend/internal/repository"
	"github.com/javajoker/checkout-backend/internal/signals"
)

var (
	errLatePayment      = errors.New("payment succeeded after the checkout was closed")
	errUnmatchedPayment = errors.New("callback does not match any checkout")
)

type FinalizeResult string

const (
	FinalizeApplied FinalizeResult = "applied"
	FinalizeNoop    FinalizeResult = "noop"
	FinalizeLate    FinalizeResult = "late"
)

// ReconcilerService owns every move of a checkout out of pending. All of
// them are conditional writes against the stored status, so signals may
// arrive from any process in any order.
type ReconcilerService struct {
	store     repository.Store
	purchases *PurchaseService
	coupons   *CouponService
	provider  provider.Provider
	archive   *EventArchive
	metrics   *metrics.Metrics
	cfg       config.ReconcilerConfig
	log       logrus.FieldLogger
	now       func() time.Time
}

// CallbackResult is what the callback endpoint reports back to the provider.
type CallbackResult struct {
	EventID       string                `json:"event_id"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Kind          provider.CallbackKind `json:"kind"`
	Duplicate     bool                  `json:"duplicate"`
}

type SweepReport struct {
	Polled     int `json:"polled"`
	Finalized  int `json:"finalized"`
	Classified int `json:"classified"`
	Errors     int `json:"errors"`
}

func NewReconcilerService(
	store repository.Store,
	purchases *PurchaseService,
	coupons *CouponService,
	paymentProvider provider.Provider,
	archive *EventArchive,
	m *metrics.Metrics,
	cfg config.ReconcilerConfig,
	log logrus.FieldLogger,
) *ReconcilerService {
	return &ReconcilerService{
		store:     store,
		purchases: purchases,
		coupons:   coupons,
		provider:  paymentProvider,
		archive:   archive,
		metrics:   m,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Finalize moves a pending checkout and its rows to paid. Only the first
// success signal for a transaction takes effect; later ones are no-ops, and
// a success for a checkout already closed without payment is reported as
// late and never applied.
func (r *ReconcilerService) Finalize(ctx context.Context, transactionID string, source models.SignalSource, providerTransactionID string) (FinalizeResult, error) {
	result := FinalizeNoop
	var intent *models.PaymentIntent
	var current models.PaymentStatus

	err := r.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		intent, err = findIntent(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		now := r.now()
		paid := models.PaymentStatusPaid
		changes := repository.IntentChanges{Status: &paid, FinalizedAt: &now, FinalizedBy: &source}
		if providerTransactionID != "" {
			changes.ProviderTransactionID = &providerTransactionID
		}

		won, err := tx.UpdateIntent(ctx, transactionID, models.PaymentStatusPending, changes)
		if err != nil {
			return fmt.Errorf("failed to finalize payment intent: %w", err)
		}
		if !won {
			latest, err := findIntent(ctx, tx, transactionID)
			if err != nil {
				return err
			}
			current = latest.Status
			switch current {
			case models.PaymentStatusAbandoned, models.PaymentStatusFailed, models.PaymentStatusCancelled:
				result = FinalizeLate
			}
			return nil
		}

		current = paid
		ids := intent.ItemIDs()

		// Rows a fast callback reaches before session binding are still in cart.
		if _, err := tx.TransitionPurchases(ctx, repository.PurchaseTransition{
			IDs: ids, From: models.PaymentStatusCart, To: models.PaymentStatusPending, TransactionID: transactionID,
		}); err != nil {
			return fmt.Errorf("failed to bind purchases: %w", err)
		}

		var meta models.JSONB
		if providerTransactionID != "" {
			meta = models.JSONB{"transactionUid": providerTransactionID}
		}
		if _, err := tx.TransitionPurchases(ctx, repository.PurchaseTransition{
			IDs: ids, From: models.PaymentStatusPending, To: paid, TransactionID: transactionID, Metadata: meta,
		}); err != nil {
			return fmt.Errorf("failed to mark purchases paid: %w", err)
		}

		if err := r.coupons.Redeem(ctx, tx, intent.AppliedCoupons); err != nil {
			return err
		}
		result = FinalizeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	r.purchases.InvalidateOwner(intent.OwnerKey)
	r.metrics.Finalization(string(source), string(result))

	entry := r.log.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"source":         source,
		"from":           intent.Status,
		"to":             current,
		"noop":           result != FinalizeApplied,
	})
	switch result {
	case FinalizeApplied:
		entry.Info("Payment finalized")
	case FinalizeLate:
		entry.WithField("provider_transaction_id", providerTransactionID).
			Error("Payment succeeded for a checkout already closed without payment")
	default:
		entry.Debug("Duplicate success signal ignored")
	}

	return result, nil
}

// RecordSubmission notes that the buyer submitted the hosted form. It only
// ever stamps the first submission time.
func (r *ReconcilerService) RecordSubmission(ctx context.Context, transactionID string) error {
	var changed bool
	err := r.store.Transaction(ctx, func(tx repository.Store) error {
		intent, err := findIntent(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if intent.Status != models.PaymentStatusPending || intent.SubmittedAt != nil {
			return nil
		}

		now := r.now()
		changed, err = tx.UpdateIntent(ctx, transactionID, models.PaymentStatusPending, repository.IntentChanges{SubmittedAt: &now})
		if err != nil || !changed {
			return err
		}
		_, err = tx.TransitionPurchases(ctx, repository.PurchaseTransition{
			IDs: intent.ItemIDs(), From: models.PaymentStatusCart, To: models.PaymentStatusPending, TransactionID: transactionID,
		})
		return err
	})
	if err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"noop":           !changed,
	}).Debug("Payment submission recorded")
	return nil
}

// RecordFailure remembers that a signal path reported failure or
// cancellation. The checkout stays pending: a later success still wins, and
// the sweeper decides between failed and abandoned once it times out.
func (r *ReconcilerService) RecordFailure(ctx context.Context, transactionID string, source models.SignalSource, outcome models.SurfaceOutcome) error {
	intent, err := findIntent(ctx, r.store, transactionID)
	if err != nil {
		return err
	}
	if intent.Status != models.PaymentStatusPending {
		return nil
	}

	var changes repository.IntentChanges
	switch {
	case source == models.SourceCallback:
		failed := true
		changes.ProviderFailed = &failed
	case intent.SurfaceOutcome == models.SurfaceOutcomeFailure:
		// failure already recorded; a later cancel does not soften it
		return nil
	default:
		changes.SurfaceOutcome = &outcome
	}

	changed, err := r.store.UpdateIntent(ctx, transactionID, models.PaymentStatusPending, changes)
	if err != nil {
		return fmt.Errorf("failed to record payment failure: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"source":         source,
		"outcome":        outcome,
		"noop":           !changed,
	}).Info("Payment failure reported")
	return nil
}

// Classify closes a pending checkout that will not be paid: failed when
// any path reported an explicit failure, abandoned otherwise. Abandoned
// items are put back in the owner's cart.
func (r *ReconcilerService) Classify(ctx context.Context, transactionID string, source models.SignalSource) (models.PaymentStatus, error) {
	var intent *models.PaymentIntent
	var to models.PaymentStatus
	var changed bool

	err := r.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		intent, err = findIntent(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		to = intent.Status
		if intent.Status != models.PaymentStatusPending {
			return nil
		}

		to = models.PaymentStatusAbandoned
		if intent.ExplicitFailure() {
			to = models.PaymentStatusFailed
		}
		changed, err = tx.UpdateIntent(ctx, transactionID, models.PaymentStatusPending, repository.IntentChanges{Status: &to})
		if err != nil {
			return fmt.Errorf("failed to classify payment intent: %w", err)
		}
		if !changed {
			latest, err := findIntent(ctx, tx, transactionID)
			if err != nil {
				return err
			}
			to = latest.Status
			return nil
		}

		if _, err := tx.TransitionPurchases(ctx, repository.PurchaseTransition{
			IDs: intent.ItemIDs(), From: models.PaymentStatusPending, To: to, TransactionID: transactionID,
		}); err != nil {
			return fmt.Errorf("failed to close purchases: %w", err)
		}
		if to == models.PaymentStatusAbandoned {
			return r.restoreCart(ctx, tx, intent)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if changed {
		r.purchases.InvalidateOwner(intent.OwnerKey)
		r.metrics.Classification(string(source), string(to))
	}
	r.log.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"source":         source,
		"from":           models.PaymentStatusPending,
		"to":             to,
		"noop":           !changed,
	}).Info("Pending payment classified")

	return to, nil
}

func (r *ReconcilerService) restoreCart(ctx context.Context, tx repository.Store, intent *models.PaymentIntent) error {
	rows, err := tx.ListPurchases(ctx, intent.OwnerKey)
	if err != nil {
		return fmt.Errorf("failed to load purchases: %w", err)
	}

	inCart := func(p *models.Purchase) bool {
		for i := range rows {
			if rows[i].PaymentStatus != models.PaymentStatusCart {
				continue
			}
			if rows[i].Targets(p.PurchasableType, p.PurchasableID) &&
				(p.ProductID == nil || (rows[i].ProductID != nil && *rows[i].ProductID == *p.ProductID)) {
				return true
			}
		}
		return false
	}

	for i := range rows {
		old := &rows[i]
		if old.PaymentStatus != models.PaymentStatusAbandoned || old.TransactionID == nil || *old.TransactionID != intent.TransactionID {
			continue
		}
		if inCart(old) {
			continue
		}

		restored := &models.Purchase{
			OwnerKey:        old.OwnerKey,
			BuyerUserID:     old.BuyerUserID,
			GuestIdentifier: old.GuestIdentifier,
			PurchasableType: old.PurchasableType,
			PurchasableID:   old.PurchasableID,
			ProductID:       old.ProductID,
			PaymentAmount:   old.PaymentAmount,
			PaymentStatus:   models.PaymentStatusCart,
			Metadata:        models.JSONB{"productTitle": old.Title(), "restoredFrom": old.ID.String()},
		}
		if err := tx.CreatePurchase(ctx, restored); err != nil {
			return fmt.Errorf("failed to restore cart item: %w", err)
		}
		rows = append(rows, *restored)
	}
	return nil
}

// HandleCallback verifies, dedupes, archives and applies one provider
// notification. Errors while applying a verified event are stored on the
// event and logged; the sweeper's poll covers anything left pending.
func (r *ReconcilerService) HandleCallback(ctx context.Context, header http.Header, body []byte) (*CallbackResult, error) {
	ev, err := r.provider.ParseCallback(header, body)
	if err != nil {
		r.metrics.Signal(string(models.SourceCallback), "rejected")
		r.log.WithError(err).Warn("Rejected provider callback")
		if errors.Is(err, provider.ErrInvalidSignature) {
			return nil, apperr.Wrap(err, apperr.KindUnauthorized, apperr.ReasonInvalidSignature, "callback signature is invalid")
		}
		return nil, apperr.Wrap(err, apperr.KindInvalid, apperr.ReasonInvalidRequest, "callback body is malformed")
	}

	result := &CallbackResult{EventID: ev.EventID, TransactionID: ev.TransactionID, Kind: ev.Kind}
	record := &models.ProviderEvent{
		Provider:      r.provider.Name(),
		EventID:       ev.EventID,
		EventType:     ev.Type,
		TransactionID: ev.TransactionID,
		Payload:       string(body),
		ReceivedAt:    r.now(),
	}
	duplicate, err := r.store.RecordProviderEvent(ctx, record)
	if err != nil {
		return nil, apperr.Internal(err, "failed to record provider event")
	}
	if duplicate {
		r.metrics.Signal(string(models.SourceCallback), "duplicate")
		r.log.WithField("event_id", ev.EventID).Info("Duplicate provider callback acknowledged")
		result.Duplicate = true
		return result, nil
	}

	if _, err := r.archive.Store(ctx, r.provider.Name(), ev.EventID, body); err != nil {
		r.log.WithError(err).WithField("event_id", ev.EventID).Warn("Failed to archive provider callback")
	}

	transactionID, procErr := r.applyCallback(ctx, ev)
	result.TransactionID = transactionID
	if procErr != nil {
		r.metrics.Signal(string(models.SourceCallback), "error")
		r.log.WithError(procErr).WithFields(logrus.Fields{
			"event_id":       ev.EventID,
			"transaction_id": transactionID,
			"kind":           ev.Kind,
		}).Error("Failed to apply provider callback")
	} else {
		r.metrics.Signal(string(models.SourceCallback), "handled")
	}

	if err := r.store.MarkProviderEvent(ctx, record.ID, procErr); err != nil {
		r.log.WithError(err).WithField("event_id", ev.EventID).Warn("Failed to mark provider event")
	}
	return result, nil
}

func (r *ReconcilerService) applyCallback(ctx context.Context, ev *provider.CallbackEvent) (string, error) {
	if ev.Kind == provider.CallbackIgnored {
		return ev.TransactionID, nil
	}

	transactionID := ev.TransactionID
	if transactionID == "" && ev.SessionID != "" {
		intent, err := r.store.FindIntentBySession(ctx, ev.SessionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
		if intent != nil {
			transactionID = intent.TransactionID
		}
	}
	if transactionID == "" {
		return "", errUnmatchedPayment
	}

	switch ev.Kind {
	case provider.CallbackSucceeded:
		res, err := r.Finalize(ctx, transactionID, models.SourceCallback, ev.ProviderTransactionID)
		if err != nil {
			return transactionID, err
		}
		if res == FinalizeLate {
			return transactionID, errLatePayment
		}
	case provider.CallbackFailed:
		return transactionID, r.RecordFailure(ctx, transactionID, models.SourceCallback, models.SurfaceOutcomeFailure)
	case provider.CallbackExpired:
		_, err := r.Classify(ctx, transactionID, models.SourceProviderExpired)
		return transactionID, err
	}
	return transactionID, nil
}

// Sweep runs the poll fallback for submitted checkouts and closes the
// ones past their abandon deadline.
func (r *ReconcilerService) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := r.now()

	submittedBefore := now.Add(-r.cfg.PollAfter())
	submitted, err := r.store.ListPendingIntents(ctx, repository.IntentFilter{SubmittedBefore: &submittedBefore, Limit: r.cfg.BatchSize})
	if err != nil {
		return report, fmt.Errorf("failed to list submitted intents: %w", err)
	}
	for i := range submitted {
		intent := &submitted[i]
		if intent.ProviderSessionID == "" || !intent.ExpiresAt.After(now) {
			continue
		}
		report.Polled++
		state, err := r.provider.FetchSession(ctx, intent.Environment, intent.ProviderSessionID)
		if err != nil {
			report.Errors++
			r.log.WithError(err).WithField("transaction_id", intent.TransactionID).Warn("Failed to poll payment session")
			continue
		}
		r.applySessionState(ctx, intent, state, models.SourceProviderExpired, &report)
	}

	expired, err := r.store.ListPendingIntents(ctx, repository.IntentFilter{ExpiresBefore: &now, Limit: r.cfg.BatchSize})
	if err != nil {
		return report, fmt.Errorf("failed to list expired intents: %w", err)
	}
	for i := range expired {
		intent := &expired[i]
		if intent.ProviderSessionID != "" {
			// one last look before giving up on it
			state, err := r.provider.FetchSession(ctx, intent.Environment, intent.ProviderSessionID)
			if err != nil {
				r.log.WithError(err).WithField("transaction_id", intent.TransactionID).Warn("Failed to poll payment session")
			} else if state.Paid {
				r.applySessionState(ctx, intent, state, models.SourceTimeout, &report)
				continue
			}
		}
		if _, err := r.Classify(ctx, intent.TransactionID, models.SourceTimeout); err != nil {
			report.Errors++
			r.log.WithError(err).WithField("transaction_id", intent.TransactionID).Error("Failed to classify expired payment")
			continue
		}
		report.Classified++
	}

	r.log.WithFields(logrus.Fields{
		"polled":     report.Polled,
		"finalized":  report.Finalized,
		"classified": report.Classified,
		"errors":     report.Errors,
	}).Debug("Reconciliation sweep finished")
	return report, nil
}

func (r *ReconcilerService) applySessionState(ctx context.Context, intent *models.PaymentIntent, state *provider.SessionState, expiredSource models.SignalSource, report *SweepReport) {
	switch {
	case state.Paid:
		res, err := r.Finalize(ctx, intent.TransactionID, models.SourcePoll, state.ProviderTransactionID)
		if err != nil {
			report.Errors++
			r.log.WithError(err).WithField("transaction_id", intent.TransactionID).Error("Failed to finalize polled payment")
			return
		}
		if res == FinalizeApplied {
			report.Finalized++
		}
	case state.Expired:
		if _, err := r.Classify(ctx, intent.TransactionID, expiredSource); err != nil {
			report.Errors++
			r.log.WithError(err).WithField("transaction_id", intent.TransactionID).Error("Failed to classify expired payment")
			return
		}
		report.Classified++
	}
}

// SubmissionStarted and Completed make the reconciler the consumer of
// embedded payment surface messages.
func (r *ReconcilerService) SubmissionStarted(ctx context.Context, transactionID string) error {
	r.metrics.Signal(string(models.SourceSurface), "submitted")
	return r.RecordSubmission(ctx, transactionID)
}

func (r *ReconcilerService) Completed(ctx context.Context, transactionID string, msg signals.Message) error {
	r.metrics.Signal(string(models.SourceSurface), string(msg.Status))
	switch msg.Status {
	case signals.StatusSuccess:
		return r.verifySurfaceSuccess(ctx, transactionID)
	case signals.StatusFailure:
		return r.RecordFailure(ctx, transactionID, models.SourceSurface, models.SurfaceOutcomeFailure)
	case signals.StatusCancel:
		return r.RecordFailure(ctx, transactionID, models.SourceSurface, models.SurfaceOutcomeCancel)
	}
	return nil
}

// verifySurfaceSuccess finalizes only when the provider reports the
// session paid. The surface message is relayed by the buyer's browser, so
// without that confirmation it counts as a submission and the callback or
// the poll settles the checkout later.
func (r *ReconcilerService) verifySurfaceSuccess(ctx context.Context, transactionID string) error {
	intent, err := findIntent(ctx, r.store, transactionID)
	if err != nil {
		return err
	}
	if intent.Status == models.PaymentStatusPaid || intent.Status == models.PaymentStatusRefunded {
		return nil
	}

	logger := r.log.WithField("transaction_id", transactionID)
	if intent.ProviderSessionID == "" {
		logger.Debug("Surface success before session binding, recorded as submission")
		return r.RecordSubmission(ctx, transactionID)
	}

	state, err := r.provider.FetchSession(ctx, intent.Environment, intent.ProviderSessionID)
	if err != nil {
		logger.WithError(err).Warn("Failed to verify surface success with provider")
		return r.RecordSubmission(ctx, transactionID)
	}
	if !state.Paid {
		r.metrics.Signal(string(models.SourceSurface), "unverified")
		logger.WithField("session_id", intent.ProviderSessionID).Warn("Surface reported success for an unpaid session")
		return r.RecordSubmission(ctx, transactionID)
	}

	_, err = r.Finalize(ctx, transactionID, models.SourceSurface, state.ProviderTransactionID)
	return err
}

var _ signals.Handler = (*ReconcilerService)(nil)

func findIntent(ctx context.Context, store repository.Store, transactionID string) (*models.PaymentIntent, error) {
	intent, err := store.FindIntent(ctx, transactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("payment not found").WithDetail("transaction_id", transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment intent: %w", err)
	}
	return intent, nil
}
