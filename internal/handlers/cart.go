// internal/handlers/cart.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/checkout-backend/internal/i18n"
	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/services"
	"github.com/javajoker/checkout-backend/internal/utils"
)

type CartHandler struct {
	purchaseService *services.PurchaseService
}

func NewCartHandler(purchaseService *services.PurchaseService) *CartHandler {
	return &CartHandler{
		purchaseService: purchaseService,
	}
}

// GET /cart
func (h *CartHandler) GetCart(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	items, err := h.purchaseService.ListCart(c.Request.Context(), owner)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, items)
}

// POST /cart
func (h *CartHandler) AddToCart(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	var req services.AddToCartRequest
	if !bindAndValidate(c, &req) {
		return
	}

	item, err := h.purchaseService.AddToCart(c.Request.Context(), owner, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.MessageResponse(c, http.StatusCreated, i18n.KeyCartItemAdded, item)
}

// DELETE /cart/:id
func (h *CartHandler) RemoveFromCart(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(utils.GetLangFromContext(c), i18n.KeyValidationInvalid, "id"), nil)
		return
	}

	if err := h.purchaseService.RemoveFromCart(c.Request.Context(), owner, id); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.MessageResponse(c, http.StatusOK, i18n.KeyCartItemRemoved, gin.H{"id": id})
}

// GET /purchases
func (h *CartHandler) GetPurchases(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	rows, err := h.purchaseService.ListPurchases(c.Request.Context(), owner)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := rows[:0]
		for _, p := range rows {
			if string(p.PaymentStatus) == status {
				filtered = append(filtered, p)
			}
		}
		rows = filtered
	}

	utils.PaginatedResponse(c, utils.Paginate(rows, params))
}

func requireOwner(c *gin.Context) (models.Owner, bool) {
	owner, ok := utils.GetOwnerFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return models.Owner{}, false
	}
	return owner, true
}

// bindAndValidate decodes the JSON body into req and runs the validator,
// writing the error response itself when either step fails.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}

	// Validate request
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}
