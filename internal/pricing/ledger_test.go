package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cart(amounts ...string) []Line {
	lines := make([]Line, 0, len(amounts))
	for i, a := range amounts {
		lines = append(lines, Line{ID: string(rune('a' + i)), Amount: dec(a), ProductType: "workshop", ProductID: "w-1"})
	}
	return lines
}

func coupon(code string, typ models.DiscountType, value string, priority int, stack bool) models.Coupon {
	return models.Coupon{
		Code:          code,
		DiscountType:  typ,
		DiscountValue: dec(value),
		TargetingType: models.TargetingGeneral,
		PriorityLevel: priority,
		CanStack:      stack,
		IsActive:      true,
	}
}

func TestHighestPriorityNonStackableAppliesAlone(t *testing.T) {
	a := coupon("A", models.DiscountTypePercentage, "20", 5, false)
	b := coupon("B", models.DiscountTypeFixedAmount, "10", 3, false)

	q := ComputeTotal(cart("100"), []models.Coupon{b, a}, Context{Now: now})

	require.Len(t, q.Applied, 1)
	assert.Equal(t, "A", q.Applied[0].Code)
	assert.True(t, q.Total.Equal(dec("80")), "total %s", q.Total)
	assert.Equal(t, []string{"B"}, q.Skipped)
}

func TestBelowMinimumRejected(t *testing.T) {
	c := coupon("BIG", models.DiscountTypeFixedAmount, "15", 1, false)
	c.MinimumAmount = decimal.NewNullDecimal(dec("100"))

	q := ComputeTotal(cart("50"), []models.Coupon{c}, Context{Now: now})

	require.Len(t, q.Rejected, 1)
	assert.Equal(t, apperr.ReasonBelowMinimum, q.Rejected[0].Reason)
	assert.Empty(t, q.Applied)
	assert.True(t, q.Total.Equal(dec("50")))
}

func TestStackablePercentagesAddAgainstOriginalSubtotal(t *testing.T) {
	first := coupon("TEN1", models.DiscountTypePercentage, "10", 5, true)
	second := coupon("TEN2", models.DiscountTypePercentage, "10", 4, true)

	q := ComputeTotal(cart("100"), []models.Coupon{first, second}, Context{Now: now})

	require.Len(t, q.Applied, 2)
	assert.True(t, q.DiscountTotal.Equal(dec("20")))
	assert.True(t, q.Total.Equal(dec("80")), "additive stacking gives 80, got %s", q.Total)

	// Compounding would have taken the second 10% from 90 and charged 81.
	compounded := dec("100").Mul(dec("0.9")).Mul(dec("0.9"))
	assert.False(t, q.Total.Equal(compounded))
	assert.True(t, compounded.Equal(dec("81")))
}

func TestStackingStopsAtFirstNonStackable(t *testing.T) {
	top := coupon("TOP", models.DiscountTypeFixedAmount, "5", 9, true)
	mid := coupon("MID", models.DiscountTypeFixedAmount, "5", 7, true)
	wall := coupon("WALL", models.DiscountTypeFixedAmount, "30", 5, false)
	low := coupon("LOW", models.DiscountTypeFixedAmount, "5", 1, true)

	q := ComputeTotal(cart("100"), []models.Coupon{low, wall, mid, top}, Context{Now: now})

	assert.Equal(t, []string{"TOP", "MID"}, q.AppliedCodes())
	assert.ElementsMatch(t, []string{"WALL", "LOW"}, q.Skipped)
	assert.True(t, q.Total.Equal(dec("90")))
}

func TestStackableLeaderFollowedByNonStackable(t *testing.T) {
	top := coupon("TOP", models.DiscountTypePercentage, "10", 9, true)
	next := coupon("NEXT", models.DiscountTypePercentage, "50", 8, false)

	q := ComputeTotal(cart("200"), []models.Coupon{top, next}, Context{Now: now})

	assert.Equal(t, []string{"TOP"}, q.AppliedCodes())
	assert.True(t, q.Total.Equal(dec("180")))
}

func TestPriorityTieBrokenByCode(t *testing.T) {
	b := coupon("BETA", models.DiscountTypeFixedAmount, "10", 3, false)
	a := coupon("ALPHA", models.DiscountTypeFixedAmount, "20", 3, false)

	q := ComputeTotal(cart("100"), []models.Coupon{b, a}, Context{Now: now})

	assert.Equal(t, []string{"ALPHA"}, q.AppliedCodes())
}

func TestTotalClampedAtZero(t *testing.T) {
	c := coupon("HUGE", models.DiscountTypeFixedAmount, "500", 1, false)

	q := ComputeTotal(cart("30", "20"), []models.Coupon{c}, Context{Now: now})

	assert.True(t, q.Subtotal.Equal(dec("50")))
	assert.True(t, q.DiscountTotal.Equal(dec("500")))
	assert.True(t, q.Total.IsZero())
}

func TestExpiredRejectedEvenWhenInactive(t *testing.T) {
	past := now.Add(-time.Hour)
	c := coupon("OLD", models.DiscountTypeFixedAmount, "5", 1, false)
	c.ValidUntil = &past
	c.IsActive = false

	reason, ok := Evaluate(c, cart("10"), dec("10"), Context{Now: now})

	assert.False(t, ok)
	assert.Equal(t, apperr.ReasonExpired, reason)
}

func TestEligibilityReasons(t *testing.T) {
	future := now.Add(time.Hour)
	limit := 3

	tests := []struct {
		name   string
		mutate func(c *models.Coupon)
		ctx    Context
		reason apperr.Reason
	}{
		{"not yet valid", func(c *models.Coupon) { c.ValidFrom = &future }, Context{Now: now}, apperr.ReasonNotYetValid},
		{"inactive", func(c *models.Coupon) { c.IsActive = false }, Context{Now: now}, apperr.ReasonInactive},
		{"usage exhausted", func(c *models.Coupon) { c.UsageLimit = &limit; c.UsageCount = 3 }, Context{Now: now}, apperr.ReasonUsageExceeded},
		{"product type mismatch", func(c *models.Coupon) {
			c.TargetingType = models.TargetingProductType
			c.TargetValues = []string{"course"}
		}, Context{Now: now}, apperr.ReasonTargetingMismatch},
		{"product id mismatch", func(c *models.Coupon) {
			c.TargetingType = models.TargetingProductID
			c.TargetValues = []string{"w-9"}
		}, Context{Now: now}, apperr.ReasonTargetingMismatch},
		{"segment mismatch", func(c *models.Coupon) {
			c.TargetingType = models.TargetingUserSegment
			c.TargetValues = []string{"vip"}
		}, Context{Now: now, Segments: []string{"student"}}, apperr.ReasonTargetingMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := coupon("X", models.DiscountTypeFixedAmount, "5", 1, false)
			tt.mutate(&c)

			reason, ok := Evaluate(c, cart("100"), dec("100"), tt.ctx)

			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestTargetingMatches(t *testing.T) {
	byType := coupon("TYPE", models.DiscountTypeFixedAmount, "5", 1, false)
	byType.TargetingType = models.TargetingProductType
	byType.TargetValues = []string{"Workshop"}

	bySegment := coupon("SEG", models.DiscountTypeFixedAmount, "5", 1, false)
	bySegment.TargetingType = models.TargetingUserSegment
	bySegment.TargetValues = []string{"student"}

	_, ok := Evaluate(byType, cart("10"), dec("10"), Context{Now: now})
	assert.True(t, ok)

	_, ok = Evaluate(bySegment, cart("10"), dec("10"), Context{Now: now, Segments: []string{"student"}})
	assert.True(t, ok)
}

func TestUsageUnderLimitAllowed(t *testing.T) {
	limit := 2
	c := coupon("ONE", models.DiscountTypePercentage, "15", 1, false)
	c.UsageLimit = &limit
	c.UsageCount = 1

	q := ComputeTotal(cart("40"), []models.Coupon{c}, Context{Now: now})

	require.Len(t, q.Applied, 1)
	assert.True(t, q.Applied[0].Amount.Equal(dec("6")))
	assert.True(t, q.Total.Equal(dec("34")))
}

func TestPercentageRoundedToCents(t *testing.T) {
	c := coupon("THIRD", models.DiscountTypePercentage, "33.333", 1, false)

	assert.True(t, Discount(c, dec("10")).Equal(dec("3.33")))
	assert.True(t, Discount(coupon("HALF", models.DiscountTypePercentage, "12.5", 1, false), dec("0.20")).Equal(dec("0.03")))
}

func TestDuplicateCodesCountedOnce(t *testing.T) {
	c := coupon("save5", models.DiscountTypeFixedAmount, "5", 1, true)
	dup := coupon("SAVE5", models.DiscountTypeFixedAmount, "5", 1, true)

	q := ComputeTotal(cart("20"), []models.Coupon{c, dup}, Context{Now: now})

	assert.Equal(t, []string{"SAVE5"}, q.AppliedCodes())
	assert.True(t, q.Total.Equal(dec("15")))
}

func TestEmptyCartPricesToZero(t *testing.T) {
	q := ComputeTotal(nil, nil, Context{Now: now})

	assert.True(t, q.Subtotal.IsZero())
	assert.True(t, q.Total.IsZero())
	assert.NotNil(t, q.Applied)
}
