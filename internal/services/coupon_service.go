// internal/services/coupon_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/pricing"
	"github.com/javajoker/checkout-backend/internal/repository"
)

type CouponService struct {
	store     repository.Store
	purchases *PurchaseService
	log       logrus.FieldLogger
	now       func() time.Time
}

type ApplyCouponRequest struct {
	Code         string   `json:"code" validate:"required,max=50"`
	CartItemIDs  []string `json:"cart_item_ids" validate:"required,min=1,dive,uuid"`
	AppliedCodes []string `json:"applied_codes" validate:"omitempty,dive,max=50"`
}

// CouponPreview describes what applying one more code does to the cart.
type CouponPreview struct {
	Code           string                   `json:"code"`
	Applied        bool                     `json:"applied"`
	Skipped        bool                     `json:"skipped"`
	DiscountAmount decimal.Decimal          `json:"discount_amount"`
	DiscountType   models.DiscountType      `json:"discount_type"`
	Priority       int                      `json:"priority"`
	Subtotal       decimal.Decimal          `json:"subtotal"`
	TotalDiscount  decimal.Decimal          `json:"total_discount"`
	FinalAmount    decimal.Decimal          `json:"final_amount"`
	AppliedCoupons []pricing.AppliedCoupon  `json:"applied_coupons"`
	Rejected       []pricing.RejectedCoupon `json:"rejected_coupons,omitempty"`
}

func NewCouponService(store repository.Store, purchases *PurchaseService, log logrus.FieldLogger) *CouponService {
	return &CouponService{store: store, purchases: purchases, log: log, now: time.Now}
}

// Apply validates code against the cart on top of the codes already
// applied. An ineligible code fails with its specific reason.
func (s *CouponService) Apply(ctx context.Context, owner models.Owner, req *ApplyCouponRequest) (*CouponPreview, error) {
	ids, err := parseIDs(req.CartItemIDs)
	if err != nil {
		return nil, err
	}
	items, err := s.purchases.OwnedItems(ctx, owner, ids)
	if err != nil {
		return nil, err
	}

	code := models.NormalizeCode(req.Code)
	coupons, err := s.Resolve(ctx, append([]string{code}, req.AppliedCodes...))
	if err != nil {
		return nil, err
	}

	var target models.Coupon
	for _, c := range coupons {
		if c.Code == code {
			target = c
		}
	}

	lines := pricing.LinesFromPurchases(items)
	subtotal := pricing.Subtotal(lines)
	pctx := s.pricingContext(owner)
	if reason, ok := pricing.Evaluate(target, lines, subtotal, pctx); !ok {
		return nil, apperr.Invalid(reason, "coupon cannot be applied").WithDetail("code", code)
	}

	quote := pricing.ComputeTotal(lines, coupons, pctx)
	preview := &CouponPreview{
		Code:           code,
		DiscountType:   target.DiscountType,
		Priority:       target.PriorityLevel,
		DiscountAmount: decimal.Zero,
		Subtotal:       quote.Subtotal,
		TotalDiscount:  quote.DiscountTotal,
		FinalAmount:    quote.Total,
		AppliedCoupons: quote.Applied,
		Rejected:       quote.Rejected,
	}
	for _, a := range quote.Applied {
		if a.Code == code {
			preview.Applied = true
			preview.DiscountAmount = a.Amount
		}
	}
	preview.Skipped = !preview.Applied

	return preview, nil
}

// Quote prices the given cart rows with the requested codes. Unknown codes
// fail the whole quote.
func (s *CouponService) Quote(ctx context.Context, owner models.Owner, items []models.Purchase, codes []string) (pricing.Quote, error) {
	coupons, err := s.Resolve(ctx, codes)
	if err != nil {
		return pricing.Quote{}, err
	}
	return pricing.ComputeTotal(pricing.LinesFromPurchases(items), coupons, s.pricingContext(owner)), nil
}

// Resolve loads coupons by code, case-insensitively.
func (s *CouponService) Resolve(ctx context.Context, codes []string) ([]models.Coupon, error) {
	wanted := normalizedUnique(codes)
	if len(wanted) == 0 {
		return nil, nil
	}

	coupons, err := s.store.FindCoupons(ctx, wanted)
	if err != nil {
		return nil, fmt.Errorf("failed to load coupons: %w", err)
	}

	found := make(map[string]bool, len(coupons))
	for _, c := range coupons {
		found[models.NormalizeCode(c.Code)] = true
	}
	for _, code := range wanted {
		if !found[code] {
			return nil, apperr.Invalid(apperr.ReasonCouponNotFound, "coupon code does not exist").WithDetail("code", code)
		}
	}
	return coupons, nil
}

// Redeem consumes one use of each code. It runs inside the transaction that
// moves a checkout to paid, never earlier.
func (s *CouponService) Redeem(ctx context.Context, tx repository.Store, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	if err := tx.IncrementCouponUsage(ctx, codes); err != nil {
		return fmt.Errorf("failed to redeem coupons: %w", err)
	}

	// Checkouts quoted concurrently can each pass the limit check.
	coupons, err := tx.FindCoupons(ctx, codes)
	if err != nil {
		return fmt.Errorf("failed to reload redeemed coupons: %w", err)
	}
	for _, c := range coupons {
		if c.UsageLimit != nil && c.UsageCount > *c.UsageLimit {
			s.log.WithFields(logrus.Fields{
				"code":        c.Code,
				"usage_count": c.UsageCount,
				"usage_limit": *c.UsageLimit,
			}).Warn("Coupon redeemed past its usage limit")
		}
	}
	return nil
}

func (s *CouponService) pricingContext(owner models.Owner) pricing.Context {
	return pricing.Context{Now: s.now(), Segments: owner.Segments}
}

func normalizedUnique(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		n := models.NormalizeCode(c)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool, len(raw))
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, apperr.Invalid(apperr.ReasonInvalidRequest, "invalid cart item id").WithDetail("cart_item_id", r)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
