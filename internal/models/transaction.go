// internal/models/transaction.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PaymentIntent records one checkout attempt. TransactionID is the key every
// signal path uses to find it; GuardKey is unique among pending intents.
type PaymentIntent struct {
	BaseModel
	TransactionID         string          `json:"transaction_id" gorm:"size:64;not null;uniqueIndex"`
	OwnerKey              string          `json:"-" gorm:"size:80;not null;index"`
	GuardKey              string          `json:"-" gorm:"size:64;not null;index"`
	CartItemIDs           pq.StringArray  `json:"cart_item_ids" gorm:"type:text[]"`
	AppliedCoupons        pq.StringArray  `json:"applied_coupons" gorm:"type:text[]"`
	SubtotalAmount        decimal.Decimal `json:"subtotal_amount" gorm:"type:decimal(10,2);not null"`
	DiscountAmount        decimal.Decimal `json:"discount_amount" gorm:"type:decimal(10,2);not null"`
	TotalAmount           decimal.Decimal `json:"total_amount" gorm:"type:decimal(10,2);not null"`
	Currency              string          `json:"currency" gorm:"size:3;not null"`
	Environment           Environment     `json:"environment" gorm:"type:varchar(20);not null"`
	ProviderSessionID     string          `json:"provider_session_id,omitempty" gorm:"size:255;index"`
	ProviderTransactionID string          `json:"provider_transaction_id,omitempty" gorm:"size:255"`
	PaymentURL            string          `json:"payment_url,omitempty" gorm:"type:text"`
	Status                PaymentStatus   `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	SubmittedAt           *time.Time      `json:"submitted_at"`
	SurfaceOutcome        SurfaceOutcome  `json:"surface_outcome,omitempty" gorm:"type:varchar(20)"`
	ProviderFailed        bool            `json:"provider_failed" gorm:"default:false"`
	ExpiresAt             time.Time       `json:"expires_at" gorm:"index"`
	FinalizedAt           *time.Time      `json:"finalized_at"`
	FinalizedBy           SignalSource    `json:"finalized_by,omitempty" gorm:"type:varchar(20)"`
	RefundedAt            *time.Time      `json:"refunded_at"`
	RefundReason          string          `json:"refund_reason,omitempty" gorm:"type:text"`
}

// ItemIDs parses the cart snapshot. Malformed entries are skipped.
func (p *PaymentIntent) ItemIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.CartItemIDs))
	for _, raw := range p.CartItemIDs {
		if id, err := uuid.Parse(raw); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// ExplicitFailure is true once any path reported an outright failure.
func (p *PaymentIntent) ExplicitFailure() bool {
	return p.ProviderFailed || p.SurfaceOutcome == SurfaceOutcomeFailure
}

// ProviderEvent is one inbound provider callback, kept for dedupe and replay.
type ProviderEvent struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Provider      string     `json:"provider" gorm:"size:30;not null;uniqueIndex:ux_provider_events_event"`
	EventID       string     `json:"event_id" gorm:"size:255;not null;uniqueIndex:ux_provider_events_event"`
	EventType     string     `json:"event_type" gorm:"size:100;not null"`
	TransactionID string     `json:"transaction_id" gorm:"size:64;index"`
	Payload       string     `json:"-" gorm:"type:text"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	ProcessError  *string    `json:"process_error,omitempty" gorm:"type:text"`
}
