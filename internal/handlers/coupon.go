// internal/handlers/coupon.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/checkout-backend/internal/services"
	"github.com/javajoker/checkout-backend/internal/utils"
)

type CouponHandler struct {
	couponService *services.CouponService
}

func NewCouponHandler(couponService *services.CouponService) *CouponHandler {
	return &CouponHandler{
		couponService: couponService,
	}
}

// POST /coupons/apply
func (h *CouponHandler) ApplyCoupon(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	var req services.ApplyCouponRequest
	if !bindAndValidate(c, &req) {
		return
	}

	preview, err := h.couponService.Apply(c.Request.Context(), owner, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, preview)
}
