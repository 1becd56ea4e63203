package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upshift01/upshift-sub003/model"
	"github.com/upshift01/upshift-sub003/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
	verifier *service.CheckoutClient
}

func NewPaymentHandler(payments *service.PaymentService, verifier *service.CheckoutClient) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		verifier: verifier,
	}
}

// WebhookRequest is the provider's notification payload. The checksum covers
// the raw content; the status inside content is never trusted directly.
type WebhookRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Checksum  string `json:"checksum" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

// Status verifies a session against the provider and returns its current
// status. Pending and failed outcomes are reported as normal payloads so a
// polling client can distinguish them from transport errors.
func (h *PaymentHandler) Status(c *gin.Context) {
	sessionID := c.Param("session_id")

	session, err := h.payments.VerifyAndCommit(c.Request.Context(), sessionID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"session": session})
	case errors.Is(err, model.ErrPaymentPending):
		c.JSON(http.StatusOK, gin.H{
			"session": session,
			"code":    model.ErrorCode(err),
		})
	case errors.Is(err, model.ErrPaymentFailed):
		c.JSON(http.StatusOK, gin.H{
			"session": session,
			"code":    model.ErrorCode(err),
		})
	default:
		writeError(c, err, nil)
	}
}

// Return handles the browser redirect from the provider's hosted checkout.
// The payment/cancelled query flags are advisory only; the outcome is always
// re-verified against the provider before anything is credited.
func (h *PaymentHandler) Return(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session_id"})
		return
	}

	session, err := h.payments.VerifyAndCommit(c.Request.Context(), sessionID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"session": session})
	case errors.Is(err, model.ErrPaymentPending), errors.Is(err, model.ErrPaymentFailed):
		c.JSON(http.StatusOK, gin.H{
			"session": session,
			"code":    model.ErrorCode(err),
		})
	default:
		writeError(c, err, nil)
	}
}

// Webhook handles provider push notifications. The checksum is validated
// first, then the session is re-verified against the provider API: the
// webhook only tells us when to look, never what we saw.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if !h.verifier.VerifyWebhook(req.Checksum, req.Content, req.SessionID) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid checksum"})
		return
	}

	session, err := h.payments.VerifyAndCommit(c.Request.Context(), req.SessionID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"session": session})
	case errors.Is(err, model.ErrPaymentPending), errors.Is(err, model.ErrPaymentFailed):
		// Acknowledged; the sweep will keep watching pending sessions.
		c.JSON(http.StatusOK, gin.H{
			"session": session,
			"code":    model.ErrorCode(err),
		})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
	default:
		writeError(c, err, nil)
	}
}
