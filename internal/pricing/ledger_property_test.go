package pricing

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/javajoker/checkout-backend/internal/models"
)

type couponSpec struct {
	Percent  bool
	Cents    int64
	Priority int
	Stack    bool
}

func genCouponSpec() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.Int64Range(0, 20000),
		gen.IntRange(0, 10),
		gen.Bool(),
	).Map(func(v []interface{}) couponSpec {
		return couponSpec{Percent: v[0].(bool), Cents: v[1].(int64), Priority: v[2].(int), Stack: v[3].(bool)}
	})
}

func buildCoupons(specs []couponSpec) []models.Coupon {
	out := make([]models.Coupon, 0, len(specs))
	for i, s := range specs {
		c := models.Coupon{
			Code:          fmt.Sprintf("C%03d", i),
			DiscountType:  models.DiscountTypeFixedAmount,
			DiscountValue: decimal.New(s.Cents, -2),
			TargetingType: models.TargetingGeneral,
			PriorityLevel: s.Priority,
			CanStack:      s.Stack,
			IsActive:      true,
		}
		if s.Percent {
			c.DiscountType = models.DiscountTypePercentage
			c.DiscountValue = decimal.New(s.Cents%10001, -2)
		}
		out = append(out, c)
	}
	return out
}

func buildCart(cents []int64) []Line {
	lines := make([]Line, 0, len(cents))
	for i, c := range cents {
		lines = append(lines, Line{ID: fmt.Sprintf("l%d", i), Amount: decimal.New(c, -2), ProductType: "course"})
	}
	return lines
}

func TestLedgerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	cartGen := gen.SliceOf(gen.Int64Range(0, 50000))
	couponsGen := gen.SliceOf(genCouponSpec())

	properties.Property("total is never negative and equals max(0, subtotal - discounts)", prop.ForAll(
		func(cents []int64, specs []couponSpec) bool {
			q := ComputeTotal(buildCart(cents), buildCoupons(specs), Context{Now: now})
			if q.Total.IsNegative() {
				return false
			}
			expected := q.Subtotal.Sub(q.DiscountTotal)
			if expected.IsNegative() {
				expected = decimal.Zero
			}
			return q.Total.Equal(expected)
		},
		cartGen, couponsGen,
	))

	properties.Property("a non-stackable leader is the only discount", prop.ForAll(
		func(cents []int64, specs []couponSpec) bool {
			coupons := buildCoupons(specs)
			q := ComputeTotal(buildCart(cents), coupons, Context{Now: now})
			if len(coupons) == 0 {
				return len(q.Applied) == 0
			}
			leader := resolve(coupons)[0].coupon
			if leader.CanStack {
				return len(q.Applied) >= 1
			}
			return len(q.Applied) == 1 && q.Applied[0].Code == leader.Code
		},
		cartGen, couponsGen,
	))

	properties.Property("every applied coupon after the first can stack", prop.ForAll(
		func(cents []int64, specs []couponSpec) bool {
			coupons := buildCoupons(specs)
			byCode := make(map[string]models.Coupon, len(coupons))
			for _, c := range coupons {
				byCode[c.Code] = c
			}
			q := ComputeTotal(buildCart(cents), coupons, Context{Now: now})
			if len(q.Applied) <= 1 {
				return true
			}
			for _, a := range q.Applied {
				if !byCode[a.Code].CanStack {
					return false
				}
			}
			return true
		},
		cartGen, couponsGen,
	))

	properties.Property("discount total is the sum of applied amounts", prop.ForAll(
		func(cents []int64, specs []couponSpec) bool {
			q := ComputeTotal(buildCart(cents), buildCoupons(specs), Context{Now: now})
			sum := decimal.Zero
			for _, a := range q.Applied {
				sum = sum.Add(a.Amount)
			}
			return sum.Equal(q.DiscountTotal)
		},
		cartGen, couponsGen,
	))

	properties.TestingRun(t)
}
