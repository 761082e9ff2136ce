package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	bookingRepo "lensbook/database/repository/booking"
	"lensbook/models"
	"lensbook/services/quote"
)

// QuoteHandler exposes quote management and acceptance.
type QuoteHandler struct {
	Service quote.QuoteService
}

func NewQuoteHandler(s quote.QuoteService) *QuoteHandler {
	return &QuoteHandler{Service: s}
}

func (h *QuoteHandler) CreateQuoteHandler(c *gin.Context) {
	var in quote.CreateQuoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.Service.CreateQuote(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (h *QuoteHandler) ReviseQuoteHandler(c *gin.Context) {
	var in quote.ReviseQuoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.Service.ReviseQuote(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QuoteHandler) GetQuoteHandler(c *gin.Context) {
	q, err := h.Service.GetQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// ListQuotesHandler filters by providerId, clientId, demandId and status query parameters.
func (h *QuoteHandler) ListQuotesHandler(c *gin.Context) {
	f := bookingRepo.QuoteFilter{
		ProviderID: c.Query("providerId"),
		ClientID:   c.Query("clientId"),
		DemandID:   c.Query("demandId"),
		Status:     models.QuoteStatus(c.Query("status")),
	}
	quotes, err := h.Service.ListQuotes(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

func (h *QuoteHandler) AcceptQuoteHandler(c *gin.Context) {
	r, err := h.Service.AcceptQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *QuoteHandler) RejectQuoteHandler(c *gin.Context) {
	q, err := h.Service.RejectQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QuoteHandler) CancelQuoteHandler(c *gin.Context) {
	q, err := h.Service.CancelQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}
