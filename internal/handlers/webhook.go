// internal/handlers/webhook.go
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/checkout-backend/internal/apperr"
	"github.com/javajoker/checkout-backend/internal/i18n"
	"github.com/javajoker/checkout-backend/internal/services"
	"github.com/javajoker/checkout-backend/internal/utils"
)

const maxCallbackBytes = 64 << 10

type WebhookHandler struct {
	reconciler *services.ReconcilerService
	provider   string
}

func NewWebhookHandler(reconciler *services.ReconcilerService, providerName string) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		provider:   providerName,
	}
}

// POST /webhooks/:provider
func (h *WebhookHandler) HandleProviderCallback(c *gin.Context) {
	if c.Param("provider") != h.provider {
		utils.AppErrorResponse(c, apperr.NotFound("unknown payment provider").WithDetail("provider", c.Param("provider")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		utils.BadRequestResponse(c, "", nil)
		return
	}

	result, err := h.reconciler.HandleCallback(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.MessageResponse(c, http.StatusOK, i18n.KeyPaymentCallbackOK, result)
}
