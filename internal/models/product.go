// internal/models/product.go
package models

import (
	"github.com/shopspring/decimal"
)

// Product is a purchasable entity. Newer rows are addressed by
// (ProductType, EntityID); rows created before polymorphic purchases
// existed are only reachable by their ID.
type Product struct {
	BaseModel
	ProductType string          `json:"product_type" gorm:"size:50;index:idx_products_type_entity"`
	EntityID    string          `json:"entity_id" gorm:"size:100;index:idx_products_type_entity"`
	Title       string          `json:"title" gorm:"size:255;not null"`
	Description string          `json:"description" gorm:"type:text"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	IsActive    bool            `json:"is_active" gorm:"default:true"`
}

// Kind is the product type used for coupon targeting. Legacy rows
// without a type fall back to "product".
func (p *Product) Kind() string {
	if p.ProductType == "" {
		return "product"
	}
	return p.ProductType
}
