// internal/models/coupon.go
package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Coupon struct {
	BaseModel
	Code          string              `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Description   string              `json:"description" gorm:"type:text"`
	DiscountType  DiscountType        `json:"discount_type" gorm:"type:varchar(20);not null"`
	DiscountValue decimal.Decimal     `json:"discount_value" gorm:"type:decimal(10,2);not null"`
	MinimumAmount decimal.NullDecimal `json:"minimum_amount" gorm:"type:decimal(10,2)"`
	TargetingType TargetingType       `json:"targeting_type" gorm:"type:varchar(20);default:'general'"`
	TargetValues  pq.StringArray      `json:"target_values" gorm:"type:text[]"`
	PriorityLevel int                 `json:"priority_level" gorm:"default:0"`
	CanStack      bool                `json:"can_stack" gorm:"default:false"`
	UsageLimit    *int                `json:"usage_limit"`
	UsageCount    int                 `json:"usage_count" gorm:"default:0"`
	ValidFrom     *time.Time          `json:"valid_from"`
	ValidUntil    *time.Time          `json:"valid_until"`
	IsActive      bool                `json:"is_active" gorm:"default:true;index"`
}

// NormalizeCode is the canonical form codes are stored and looked up in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) BeforeSave(tx *gorm.DB) error {
	c.Code = NormalizeCode(c.Code)
	return nil
}

func (c *Coupon) HasTarget(value string) bool {
	for _, v := range c.TargetValues {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
