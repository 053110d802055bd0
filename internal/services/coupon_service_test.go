package services

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/models"
)

func TestApplyCouponPreview(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	ids := env.fillCart(t, owner)
	env.seedCoupon(pct("SAVE20", 20, 2, false))

	preview, err := env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{Code: " save20 ", CartItemIDs: ids})
	require.NoError(t, err)

	assert.Equal(t, "SAVE20", preview.Code)
	assert.True(t, preview.Applied)
	assert.False(t, preview.Skipped)
	assert.True(t, preview.DiscountAmount.Equal(decimal.NewFromInt(20)))
	assert.True(t, preview.Subtotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, preview.FinalAmount.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, models.DiscountTypePercentage, preview.DiscountType)
}

func TestApplyCouponBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	ids := env.fillCart(t, owner)
	c := fixed("BIG50", 50, 1, false)
	c.MinimumAmount = decimal.NewNullDecimal(decimal.NewFromInt(150))
	env.seedCoupon(c)

	_, err := env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{Code: "BIG50", CartItemIDs: ids})

	require.Error(t, err)
	assert.Equal(t, apperr.ReasonBelowMinimum, apperr.ReasonOf(err))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "BIG50", e.Details["code"])
}

func TestApplyCouponUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	ids := env.fillCart(t, owner)

	_, err := env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{Code: "GHOST", CartItemIDs: ids})
	assert.Equal(t, apperr.ReasonCouponNotFound, apperr.ReasonOf(err))
}

func TestApplyCouponReportsReasons(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	ids := env.fillCart(t, owner)
	past := env.clock.Now().Add(-time.Hour)
	future := env.clock.Now().Add(time.Hour)
	limit := 3

	expired := pct("OLD", 10, 1, false)
	expired.ValidUntil = &past
	early := pct("SOON", 10, 1, false)
	early.ValidFrom = &future
	used := pct("USEDUP", 10, 1, false)
	used.UsageLimit = &limit
	used.UsageCount = 3
	for _, c := range []models.Coupon{expired, early, used} {
		env.seedCoupon(c)
	}
	off := env.seedCoupon(pct("OFF", 10, 1, false))
	off.IsActive = false
	env.store.SeedCoupon(*off)

	cases := map[string]apperr.Reason{
		"OLD":    apperr.ReasonExpired,
		"SOON":   apperr.ReasonNotYetValid,
		"USEDUP": apperr.ReasonUsageExceeded,
		"OFF":    apperr.ReasonInactive,
	}
	for code, want := range cases {
		_, err := env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{Code: code, CartItemIDs: ids})
		assert.Equal(t, want, apperr.ReasonOf(err), code)
	}
}

func TestApplyCouponSkippedByStacking(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	ids := env.fillCart(t, owner)
	env.seedCoupon(pct("VIP", 30, 10, false))
	env.seedCoupon(pct("EXTRA5", 5, 1, true))

	preview, err := env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{
		Code: "EXTRA5", CartItemIDs: ids, AppliedCodes: []string{"VIP"},
	})
	require.NoError(t, err)

	assert.False(t, preview.Applied)
	assert.True(t, preview.Skipped)
	assert.True(t, preview.DiscountAmount.IsZero())
	assert.True(t, preview.FinalAmount.Equal(decimal.NewFromInt(70)))
	require.Len(t, preview.AppliedCoupons, 1)
	assert.Equal(t, "VIP", preview.AppliedCoupons[0].Code)
}

func TestApplyCouponTargeting(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user()
	ids := env.fillCart(t, owner)

	byType := pct("WORKSHOPS", 50, 1, false)
	byType.TargetingType = models.TargetingProductType
	byType.TargetValues = pq.StringArray{"workshop"}
	env.seedCoupon(byType)

	bySegment := pct("STUDENTS", 50, 1, false)
	bySegment.TargetingType = models.TargetingUserSegment
	bySegment.TargetValues = pq.StringArray{"student"}
	env.seedCoupon(bySegment)

	_, err := env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{Code: "WORKSHOPS", CartItemIDs: ids})
	assert.NoError(t, err)

	// only the course in the cart: the type target misses
	_, err = env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{Code: "WORKSHOPS", CartItemIDs: ids[:1]})
	assert.Equal(t, apperr.ReasonTargetingMismatch, apperr.ReasonOf(err))

	_, err = env.coupons.Apply(env.ctx, owner, &ApplyCouponRequest{Code: "STUDENTS", CartItemIDs: ids})
	assert.Equal(t, apperr.ReasonTargetingMismatch, apperr.ReasonOf(err))

	student := models.UserOwner(*owner.UserID, []string{"student"})
	_, err = env.coupons.Apply(env.ctx, student, &ApplyCouponRequest{Code: "STUDENTS", CartItemIDs: ids})
	assert.NoError(t, err)
}

func TestRedeemWarnsWhenLimitIsOvershot(t *testing.T) {
	env := newTestEnv(t)
	limit := 1
	c := pct("LASTONE", 10, 1, false)
	c.UsageLimit = &limit
	env.seedCoupon(c)

	first := env.user()
	second := models.GuestOwner("198.51.100.4")
	a := env.checkout(t, first, env.fillCart(t, first), "LASTONE")
	b := env.checkout(t, second, env.fillCart(t, second), "LASTONE")

	for _, txID := range []string{a.TransactionID, b.TransactionID} {
		res, err := env.reconciler.Finalize(env.ctx, txID, models.SourceCallback, "pi_"+txID)
		require.NoError(t, err)
		require.Equal(t, FinalizeApplied, res)
	}

	coupons, err := env.store.FindCoupons(env.ctx, []string{"LASTONE"})
	require.NoError(t, err)
	assert.Equal(t, 2, coupons[0].UsageCount)

	var warned []*logrus.Entry
	for _, entry := range env.logs.AllEntries() {
		if entry.Message == "Coupon redeemed past its usage limit" {
			warned = append(warned, entry)
		}
	}
	require.Len(t, warned, 1)
	assert.Equal(t, logrus.WarnLevel, warned[0].Level)
	assert.Equal(t, "LASTONE", warned[0].Data["code"])
}

func TestResolveNormalizesAndDedupes(t *testing.T) {
	env := newTestEnv(t)
	env.seedCoupon(pct("SPRING", 10, 1, true))

	coupons, err := env.coupons.Resolve(env.ctx, []string{"spring", " SPRING", ""})
	require.NoError(t, err)
	assert.Len(t, coupons, 1)

	coupons, err = env.coupons.Resolve(env.ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, coupons)
}

func TestParseIDsDedupes(t *testing.T) {
	ids, err := parseIDs([]string{
		"0b0c5a8e-8f7e-4c39-bb53-2f8e0f1a9d01",
		"0b0c5a8e-8f7e-4c39-bb53-2f8e0f1a9d01",
	})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}
