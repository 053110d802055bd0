// internal/handlers/admin.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/checkout-backend/internal/services"
	"github.com/javajoker/checkout-backend/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
}

func NewAdminHandler(adminService *services.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
	}
}

// GET /admin/audit-logs
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	filter := services.AdminAuditFilter{
		PaginationParams: params,
		ResourceType:     c.Query("resource_type"),
		ResourceID:       c.Query("resource_id"),
		OwnerKey:         c.Query("owner_key"),
	}

	entries, total, err := h.adminService.GetAuditLogs(c.Request.Context(), filter)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	result := utils.CreatePaginationResult(entries, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /admin/payments/pending
func (h *AdminHandler) GetPendingPayments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	intents, err := h.adminService.GetPendingPayments(c.Request.Context(), limit)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, intents)
}

// POST /admin/sweeps
func (h *AdminHandler) RunSweep(c *gin.Context) {
	report, err := h.adminService.RunSweep(c.Request.Context())
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, report)
}

// DELETE /admin/cache/products
func (h *AdminHandler) FlushProductCache(c *gin.Context) {
	removed := h.adminService.FlushProductCache(c.Query("product_type"))

	utils.SuccessResponse(c, gin.H{"removed": removed})
}
