package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lensbook/services/payment"
)

const maxWebhookBody = 64 << 10

// PaymentEventApplier settles processor events.
type PaymentEventApplier interface {
	OnPaymentConfirmed(ctx context.Context, event payment.PaymentEvent) (*payment.PaymentResult, error)
}

// WebhookParser verifies and decodes a signed processor webhook.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (payment.PaymentEvent, error)
}

// WebhookHandler receives processor callbacks. Delivery is at-least-once, so
// every accepted event is answered 200, duplicates included.
type WebhookHandler struct {
	Payments PaymentEventApplier
	Parser   WebhookParser
	// AllowRaw enables the unsigned processor-neutral endpoint.
	AllowRaw bool
}

func NewWebhookHandler(payments PaymentEventApplier, parser WebhookParser, allowRaw bool) *WebhookHandler {
	return &WebhookHandler{Payments: payments, Parser: parser, AllowRaw: allowRaw}
}

// StripeWebhookHandler handles signed Stripe events.
func (h *WebhookHandler) StripeWebhookHandler(c *gin.Context) {
	if h.Parser == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "webhooks are not configured"})
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, err)
		return
	}
	event, err := h.Parser.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, payment.ErrIgnoredEvent) {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.apply(c, event)
}

// RawWebhookHandler accepts a PaymentEvent as plain JSON.
func (h *WebhookHandler) RawWebhookHandler(c *gin.Context) {
	if !h.AllowRaw {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "raw webhooks are disabled"})
		return
	}
	var event payment.PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		badRequest(c, err)
		return
	}
	h.apply(c, event)
}

func (h *WebhookHandler) apply(c *gin.Context, event payment.PaymentEvent) {
	result, err := h.Payments.OnPaymentConfirmed(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}
	getLogger(c).Debug("webhook applied", zap.String("eventId", event.EventID), zap.Bool("duplicate", result.Duplicate))
	c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": result.Duplicate, "reservation": result.Reservation})
}
