// internal/pricing/eligibility.go
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/models"
)

// Evaluate checks a coupon against the cart. Checks run in a fixed order so
// the reported reason is stable: the validity window comes first, which
// means an expired coupon is rejected as expired even when inactive.
func Evaluate(c models.Coupon, lines []Line, subtotal decimal.Decimal, ctx Context) (apperr.Reason, bool) {
	if c.ValidUntil != nil && ctx.Now.After(*c.ValidUntil) {
		return apperr.ReasonExpired, false
	}
	if c.ValidFrom != nil && ctx.Now.Before(*c.ValidFrom) {
		return apperr.ReasonNotYetValid, false
	}
	if !c.IsActive {
		return apperr.ReasonInactive, false
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return apperr.ReasonUsageExceeded, false
	}
	if !matchesTarget(c, lines, ctx) {
		return apperr.ReasonTargetingMismatch, false
	}
	if c.MinimumAmount.Valid && subtotal.LessThan(c.MinimumAmount.Decimal) {
		return apperr.ReasonBelowMinimum, false
	}
	return "", true
}

func matchesTarget(c models.Coupon, lines []Line, ctx Context) bool {
	switch c.TargetingType {
	case models.TargetingGeneral, "":
		return true
	case models.TargetingProductType:
		for _, l := range lines {
			if c.HasTarget(l.ProductType) {
				return true
			}
		}
	case models.TargetingProductID:
		for _, l := range lines {
			if l.ProductID != "" && c.HasTarget(l.ProductID) {
				return true
			}
		}
	case models.TargetingUserSegment:
		for _, s := range ctx.Segments {
			if c.HasTarget(s) {
				return true
			}
		}
	}
	return false
}
