package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
	"lensbook/services/payment"
	"lensbook/services/reservation"
)

// CheckoutStarter opens processor checkout sessions for a reservation's legs.
type CheckoutStarter interface {
	InitiateDepositCheckout(ctx context.Context, reservationID string) (*payment.CheckoutHandle, error)
	InitiateBalanceCheckout(ctx context.Context, reservationID string) (*payment.CheckoutHandle, error)
}

// ReservationHandler exposes reservation history and the entry points that move one.
type ReservationHandler struct {
	Service  reservation.ReservationService
	Checkout CheckoutStarter
}

func NewReservationHandler(s reservation.ReservationService, checkout CheckoutStarter) *ReservationHandler {
	return &ReservationHandler{Service: s, Checkout: checkout}
}

func (h *ReservationHandler) GetReservationHandler(c *gin.Context) {
	r, err := h.Service.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *ReservationHandler) ListReservationsHandler(c *gin.Context) {
	f := bookingRepo.ReservationFilter{
		ProviderID: c.Query("providerId"),
		ClientID:   c.Query("clientId"),
		Status:     models.ReservationStatus(c.Query("status")),
	}
	out, err := h.Service.ListReservations(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out})
}

func (h *ReservationHandler) ListTransactionsHandler(c *gin.Context) {
	out, err := h.Service.ListTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	var net models.Money
	for _, t := range out {
		net += t.GrossAmount
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out, "net": net})
}

func (h *ReservationHandler) RefundPreviewHandler(c *gin.Context) {
	preview, err := h.Service.RefundPreview(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *ReservationHandler) DepositCheckoutHandler(c *gin.Context) {
	handle, err := h.Checkout.InitiateDepositCheckout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

func (h *ReservationHandler) BalanceCheckoutHandler(c *gin.Context) {
	handle, err := h.Checkout.InitiateBalanceCheckout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

func (h *ReservationHandler) MarkDeliveredHandler(c *gin.Context) {
	r, err := h.Service.MarkServiceDelivered(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CancelReservationHandler accepts an optional {"reason": "..."} body.
func (h *ReservationHandler) CancelReservationHandler(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	result, err := h.Service.RequestCancellation(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.RetryScheduled {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}
