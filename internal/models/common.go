// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Clone returns a shallow copy, nil stays nil.
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	out := make(JSONB, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}

// Merge returns a copy of j with every key of other written over it.
func (j JSONB) Merge(other JSONB) JSONB {
	out := j.Clone()
	if out == nil {
		out = JSONB{}
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Enums
type PaymentStatus string

const (
	PaymentStatusCart      PaymentStatus = "cart"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusAbandoned PaymentStatus = "abandoned"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCart:    {PaymentStatusPending},
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusAbandoned},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransition reports whether the status graph has an edge from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

type TargetingType string

const (
	TargetingGeneral     TargetingType = "general"
	TargetingProductType TargetingType = "product_type"
	TargetingProductID   TargetingType = "product_id"
	TargetingUserSegment TargetingType = "user_segment"
)

type Environment string

const (
	EnvironmentTest       Environment = "test"
	EnvironmentProduction Environment = "production"
)

func (e Environment) Valid() bool {
	return e == EnvironmentTest || e == EnvironmentProduction
}

// SignalSource names the path a finalization or classification arrived through.
type SignalSource string

const (
	SourceSurface         SignalSource = "surface"
	SourceCallback        SignalSource = "callback"
	SourcePoll            SignalSource = "poll"
	SourceZeroTotal       SignalSource = "zero_total"
	SourceTimeout         SignalSource = "timeout"
	SourceProviderExpired SignalSource = "provider_expired"
	SourceRefund          SignalSource = "refund"
)

type SurfaceOutcome string

const (
	SurfaceOutcomeNone    SurfaceOutcome = ""
	SurfaceOutcomeFailure SurfaceOutcome = "failure"
	SurfaceOutcomeCancel  SurfaceOutcome = "cancel"
)
