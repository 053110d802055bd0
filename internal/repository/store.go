// internal/repository/store.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/checkout-backend/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrStateConflict = errors.New("operation not allowed in current state")
)

// PurchaseTransition is a conditional status move over a set of rows. Only
// rows currently in From move. Rows leaving cart are stamped with
// TransactionID; rows in any other state must already carry it.
type PurchaseTransition struct {
	IDs           []uuid.UUID
	From          models.PaymentStatus
	To            models.PaymentStatus
	TransactionID string
	Metadata      models.JSONB
}

// checkTransition rejects status moves with no edge in the payment status graph.
func checkTransition(from, to models.PaymentStatus) error {
	if from.CanTransition(to) {
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrStateConflict, from, to)
}

func (t PurchaseTransition) validate() error {
	return checkTransition(t.From, t.To)
}

// IntentChanges lists the PaymentIntent columns to write. Nil fields are left alone.
type IntentChanges struct {
	Status                *models.PaymentStatus
	ProviderSessionID     *string
	ProviderTransactionID *string
	PaymentURL            *string
	SubmittedAt           *time.Time
	SurfaceOutcome        *models.SurfaceOutcome
	ProviderFailed        *bool
	FinalizedAt           *time.Time
	FinalizedBy           *models.SignalSource
	RefundedAt            *time.Time
	RefundReason          *string
}

// validate checks a status change against the graph. Writes that leave
// the status alone always pass.
func (c IntentChanges) validate(expect models.PaymentStatus) error {
	if c.Status == nil || *c.Status == expect {
		return nil
	}
	return checkTransition(expect, *c.Status)
}

func (c IntentChanges) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if c.Status != nil {
		cols["status"] = *c.Status
	}
	if c.ProviderSessionID != nil {
		cols["provider_session_id"] = *c.ProviderSessionID
	}
	if c.ProviderTransactionID != nil {
		cols["provider_transaction_id"] = *c.ProviderTransactionID
	}
	if c.PaymentURL != nil {
		cols["payment_url"] = *c.PaymentURL
	}
	if c.SubmittedAt != nil {
		cols["submitted_at"] = *c.SubmittedAt
	}
	if c.SurfaceOutcome != nil {
		cols["surface_outcome"] = *c.SurfaceOutcome
	}
	if c.ProviderFailed != nil {
		cols["provider_failed"] = *c.ProviderFailed
	}
	if c.FinalizedAt != nil {
		cols["finalized_at"] = *c.FinalizedAt
	}
	if c.FinalizedBy != nil {
		cols["finalized_by"] = *c.FinalizedBy
	}
	if c.RefundedAt != nil {
		cols["refunded_at"] = *c.RefundedAt
	}
	if c.RefundReason != nil {
		cols["refund_reason"] = *c.RefundReason
	}
	return cols
}

func (c IntentChanges) apply(in *models.PaymentIntent) {
	if c.Status != nil {
		in.Status = *c.Status
	}
	if c.ProviderSessionID != nil {
		in.ProviderSessionID = *c.ProviderSessionID
	}
	if c.ProviderTransactionID != nil {
		in.ProviderTransactionID = *c.ProviderTransactionID
	}
	if c.PaymentURL != nil {
		in.PaymentURL = *c.PaymentURL
	}
	if c.SubmittedAt != nil {
		t := *c.SubmittedAt
		in.SubmittedAt = &t
	}
	if c.SurfaceOutcome != nil {
		in.SurfaceOutcome = *c.SurfaceOutcome
	}
	if c.ProviderFailed != nil {
		in.ProviderFailed = *c.ProviderFailed
	}
	if c.FinalizedAt != nil {
		t := *c.FinalizedAt
		in.FinalizedAt = &t
	}
	if c.FinalizedBy != nil {
		in.FinalizedBy = *c.FinalizedBy
	}
	if c.RefundedAt != nil {
		t := *c.RefundedAt
		in.RefundedAt = &t
	}
	if c.RefundReason != nil {
		in.RefundReason = *c.RefundReason
	}
}

// IntentFilter selects pending intents for the sweeper.
type IntentFilter struct {
	ExpiresBefore   *time.Time
	SubmittedBefore *time.Time
	Limit           int
}

// AuditLogFilter selects audit entries, newest first.
type AuditLogFilter struct {
	ResourceType string
	ResourceID   string
	OwnerKey     string
	Limit        int
	Offset       int
}

// Store is the persistence contract for purchases, products, coupons,
// payment intents and provider events. Every status change is a
// conditional write that reports whether it took effect.
type Store interface {
	ListPurchases(ctx context.Context, ownerKey string) ([]models.Purchase, error)
	GetPurchases(ctx context.Context, ids []uuid.UUID) ([]models.Purchase, error)
	CreatePurchase(ctx context.Context, p *models.Purchase) error
	DeleteCartPurchase(ctx context.Context, ownerKey string, id uuid.UUID) error
	TransitionPurchases(ctx context.Context, t PurchaseTransition) (int64, error)

	FindProduct(ctx context.Context, productType, entityID string) (*models.Product, error)
	FindProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)

	FindCoupons(ctx context.Context, codes []string) ([]models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, codes []string) error

	CreateIntent(ctx context.Context, in *models.PaymentIntent) error
	FindIntent(ctx context.Context, transactionID string) (*models.PaymentIntent, error)
	FindIntentBySession(ctx context.Context, sessionID string) (*models.PaymentIntent, error)
	FindPendingIntentByGuard(ctx context.Context, guardKey string) (*models.PaymentIntent, error)
	UpdateIntent(ctx context.Context, transactionID string, expect models.PaymentStatus, changes IntentChanges) (bool, error)
	DeletePendingIntent(ctx context.Context, transactionID string) error
	ListPendingIntents(ctx context.Context, filter IntentFilter) ([]models.PaymentIntent, error)

	RecordProviderEvent(ctx context.Context, ev *models.ProviderEvent) (duplicate bool, err error)
	MarkProviderEvent(ctx context.Context, id uuid.UUID, processErr error) error

	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]models.AuditLog, int64, error)

	// Transaction runs fn against a Store bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
