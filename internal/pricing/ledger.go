// internal/pricing/ledger.go
package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Line is one cart item as seen by the ledger.
type Line struct {
	ID          string
	Amount      decimal.Decimal
	ProductType string
	ProductID   string
}

// LinesFromPurchases adapts cart rows into ledger lines.
func LinesFromPurchases(rows []models.Purchase) []Line {
	lines := make([]Line, 0, len(rows))
	for i := range rows {
		lines = append(lines, Line{
			ID:          rows[i].ID.String(),
			Amount:      rows[i].PaymentAmount,
			ProductType: rows[i].ProductKind(),
			ProductID:   rows[i].TargetID(),
		})
	}
	return lines
}

// Context carries the facts eligibility depends on besides the cart itself.
type Context struct {
	Now      time.Time
	Segments []string
}

type AppliedCoupon struct {
	Code     string              `json:"code"`
	Type     models.DiscountType `json:"discount_type"`
	Value    decimal.Decimal     `json:"discount_value"`
	Priority int                 `json:"priority"`
	Amount   decimal.Decimal     `json:"discount_amount"`
}

type RejectedCoupon struct {
	Code   string        `json:"code"`
	Reason apperr.Reason `json:"reason"`
}

type Quote struct {
	Subtotal      decimal.Decimal  `json:"subtotal"`
	Applied       []AppliedCoupon  `json:"applied_coupons"`
	Rejected      []RejectedCoupon `json:"rejected_coupons,omitempty"`
	Skipped       []string         `json:"skipped_coupons,omitempty"`
	DiscountTotal decimal.Decimal  `json:"discount_amount"`
	Total         decimal.Decimal  `json:"total_amount"`
}

// AppliedCodes lists the codes that contributed a discount, in application order.
func (q Quote) AppliedCodes() []string {
	codes := make([]string, 0, len(q.Applied))
	for _, a := range q.Applied {
		codes = append(codes, a.Code)
	}
	return codes
}

// Subtotal sums the charged amount of every line.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	return sum
}

// ComputeTotal prices a cart against candidate coupons. Every percentage
// discount is taken from the original subtotal, so stacked coupons add up
// and never compound. The result is never negative.
func ComputeTotal(lines []Line, candidates []models.Coupon, ctx Context) Quote {
	subtotal := Subtotal(lines)
	q := Quote{Subtotal: subtotal, Applied: []AppliedCoupon{}, DiscountTotal: decimal.Zero}

	seen := make(map[string]bool, len(candidates))
	eligible := make([]models.Coupon, 0, len(candidates))
	for _, c := range candidates {
		code := models.NormalizeCode(c.Code)
		if seen[code] {
			continue
		}
		seen[code] = true
		if reason, ok := Evaluate(c, lines, subtotal, ctx); !ok {
			q.Rejected = append(q.Rejected, RejectedCoupon{Code: code, Reason: reason})
			continue
		}
		eligible = append(eligible, c)
	}

	for _, c := range resolve(eligible) {
		if !c.applied {
			q.Skipped = append(q.Skipped, models.NormalizeCode(c.coupon.Code))
			continue
		}
		amount := Discount(c.coupon, subtotal)
		q.Applied = append(q.Applied, AppliedCoupon{
			Code:     models.NormalizeCode(c.coupon.Code),
			Type:     c.coupon.DiscountType,
			Value:    c.coupon.DiscountValue,
			Priority: c.coupon.PriorityLevel,
			Amount:   amount,
		})
		q.DiscountTotal = q.DiscountTotal.Add(amount)
	}

	q.Total = subtotal.Sub(q.DiscountTotal)
	if q.Total.IsNegative() {
		q.Total = decimal.Zero
	}
	return q
}

// Discount is the amount a single coupon takes off the given subtotal,
// rounded half-up to cents.
func Discount(c models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountTypePercentage:
		amount = c.DiscountValue.Div(hundred).Mul(subtotal)
	case models.DiscountTypeFixedAmount:
		amount = c.DiscountValue
	default:
		return decimal.Zero
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}

type resolved struct {
	coupon  models.Coupon
	applied bool
}

// resolve orders eligible coupons by priority (ties broken by code) and
// marks which ones apply. A non-stackable leader applies alone; otherwise
// the run of stackable coupons from the top applies and stops at the first
// non-stackable one.
func resolve(eligible []models.Coupon) []resolved {
	sorted := make([]models.Coupon, len(eligible))
	copy(sorted, eligible)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PriorityLevel != sorted[j].PriorityLevel {
			return sorted[i].PriorityLevel > sorted[j].PriorityLevel
		}
		return models.NormalizeCode(sorted[i].Code) < models.NormalizeCode(sorted[j].Code)
	})

	out := make([]resolved, len(sorted))
	stacking := true
	for i, c := range sorted {
		out[i].coupon = c
		switch {
		case i == 0:
			out[i].applied = true
			stacking = c.CanStack
		case stacking && c.CanStack:
			out[i].applied = true
		default:
			stacking = false
		}
	}
	return out
}
