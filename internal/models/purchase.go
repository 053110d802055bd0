// internal/models/purchase.go
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Owner identifies whoever a cart belongs to: an authenticated user or a
// guest keyed by a hash of their network identity.
type Owner struct {
	UserID   *uuid.UUID
	GuestID  string
	Segments []string
}

func GuestOwner(networkID string) Owner {
	sum := sha256.Sum256([]byte(strings.TrimSpace(networkID)))
	return Owner{GuestID: hex.EncodeToString(sum[:])[:32]}
}

func UserOwner(id uuid.UUID, segments []string) Owner {
	return Owner{UserID: &id, Segments: segments}
}

// Key is the stable owner reference stored on rows and used in cache keys.
func (o Owner) Key() string {
	if o.UserID != nil {
		return "user:" + o.UserID.String()
	}
	return "guest:" + o.GuestID
}

func (o Owner) IsGuest() bool {
	return o.UserID == nil
}

type Purchase struct {
	BaseModel
	OwnerKey        string          `json:"-" gorm:"size:80;not null;index"`
	BuyerUserID     *uuid.UUID      `json:"buyer_user_id,omitempty" gorm:"type:uuid;index"`
	GuestIdentifier *string         `json:"guest_identifier,omitempty" gorm:"size:64;index"`
	PurchasableType string          `json:"purchasable_type" gorm:"size:50;index:idx_purchases_target"`
	PurchasableID   string          `json:"purchasable_id" gorm:"size:100;index:idx_purchases_target"`
	ProductID       *uuid.UUID      `json:"product_id,omitempty" gorm:"type:uuid;index"`
	PaymentAmount   decimal.Decimal `json:"payment_amount" gorm:"type:decimal(10,2);not null"`
	PaymentStatus   PaymentStatus   `json:"payment_status" gorm:"type:varchar(20);default:'cart';index"`
	TransactionID   *string         `json:"transaction_id,omitempty" gorm:"size:64;index"`
	Metadata        JSONB           `json:"metadata" gorm:"type:jsonb"`
}

func NewPurchase(owner Owner, product *Product, purchasableType, purchasableID string) *Purchase {
	p := &Purchase{
		OwnerKey:        owner.Key(),
		BuyerUserID:     owner.UserID,
		PurchasableType: purchasableType,
		PurchasableID:   purchasableID,
		PaymentAmount:   product.Price,
		PaymentStatus:   PaymentStatusCart,
		Metadata:        JSONB{"productTitle": product.Title},
	}
	if owner.IsGuest() {
		guest := owner.GuestID
		p.GuestIdentifier = &guest
	}
	if purchasableType == "" {
		id := product.ID
		p.ProductID = &id
	}
	return p
}

// Targets reports whether the row points at the same purchasable entity.
func (p *Purchase) Targets(purchasableType, purchasableID string) bool {
	return p.PurchasableType == purchasableType && p.PurchasableID == purchasableID
}

// ProductKind is the type used for coupon targeting.
func (p *Purchase) ProductKind() string {
	if p.PurchasableType == "" {
		return "product"
	}
	return p.PurchasableType
}

// TargetID is the identifier coupons of targeting type product_id match against.
func (p *Purchase) TargetID() string {
	if p.PurchasableID != "" {
		return p.PurchasableID
	}
	if p.ProductID != nil {
		return p.ProductID.String()
	}
	return ""
}

func (p *Purchase) Title() string {
	if v, ok := p.Metadata["productTitle"].(string); ok {
		return v
	}
	return ""
}
