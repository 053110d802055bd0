// internal/handlers/payment.go
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/javajoker/checkout-backend/internal/i18n"
	"github.com/javajoker/checkout-backend/internal/services"
	"github.com/javajoker/checkout-backend/internal/signals"
	"github.com/javajoker/checkout-backend/internal/utils"
)

const (
	maxSurfaceMessageBytes = 16 << 10
	maxSurfaceBatch        = 20
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	dispatcher     *signals.Dispatcher
	log            logrus.FieldLogger
}

func NewPaymentHandler(paymentService *services.PaymentService, dispatcher *signals.Dispatcher, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		dispatcher:     dispatcher,
		log:            log,
	}
}

// POST /payments/intent
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	var req services.CreateSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	response, err := h.paymentService.CreateSession(c.Request.Context(), owner, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	if response.Reused {
		utils.SuccessResponse(c, response)
		return
	}
	utils.CreatedResponse(c, response)
}

// POST /payments/confirm/:transactionId
//
// Best effort: the answer is always 202 and the work happens after the
// response is written.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	transactionID := c.Param("transactionId")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.paymentService.Confirm(ctx, transactionID)
	}()

	utils.MessageResponse(c, http.StatusAccepted, i18n.KeyPaymentConfirmReceived, gin.H{
		"transaction_id": transactionID,
	})
}

// POST /payments/update-status
func (h *PaymentHandler) UpdateStatus(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	var req services.UpdateStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	status, err := h.paymentService.UpdateStatus(c.Request.Context(), owner, &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, status)
}

// POST /payments/:transactionId/surface-events
//
// Relays messages posted by the embedded payment surface: one message
// object, or an array the page buffered while offline. Messages that are
// not recognized are acknowledged and dropped.
func (h *PaymentHandler) SurfaceEvent(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	transactionID := c.Param("transactionId")

	// only the checkout's owner may speak for its surface
	if _, err := h.paymentService.Status(c.Request.Context(), owner, transactionID); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSurfaceMessageBytes))
	if err != nil {
		utils.BadRequestResponse(c, "", nil)
		return
	}
	messages := splitSurfaceMessages(raw)
	if len(messages) > maxSurfaceBatch {
		utils.BadRequestResponse(c, "", gin.H{"max_messages": maxSurfaceBatch})
		return
	}

	in := make(chan []byte, len(messages))
	for _, msg := range messages {
		in <- msg
	}
	close(in)

	// the subscription ends with the request
	summary := h.dispatcher.Listen(c.Request.Context(), transactionID, in)
	if summary.Err != nil {
		utils.AppErrorResponse(c, summary.Err)
		return
	}

	status, err := h.paymentService.Status(c.Request.Context(), owner, transactionID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"handled":       summary.Handled > 0,
		"handled_count": summary.Handled,
		"ignored_count": summary.Ignored,
		"payment":       status,
	})
}

func splitSurfaceMessages(raw []byte) [][]byte {
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return [][]byte{raw}
	}
	var out [][]byte
	doc.ForEach(func(_, el gjson.Result) bool {
		out = append(out, []byte(el.Raw))
		return true
	})
	return out
}

// GET /payments/:transactionId
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}

	status, err := h.paymentService.Status(c.Request.Context(), owner, c.Param("transactionId"))
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	c.JSON(http.StatusOK, utils.APIResponse{
		Success: true,
		Data:    status,
		Message: i18n.T(utils.GetLangFromContext(c), i18n.OutcomeKey(string(status.Outcome))),
	})
}

// POST /payments/refund
func (h *PaymentHandler) ProcessRefund(c *gin.Context) {
	var req services.RefundRequest
	if !bindAndValidate(c, &req) {
		return
	}

	status, err := h.paymentService.Refund(c.Request.Context(), &req)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"transaction_id": req.TransactionID,
		"reason":         req.Reason,
	}).Info("Refund issued by admin")

	utils.MessageResponse(c, http.StatusOK, i18n.KeyPaymentRefunded, status)
}
