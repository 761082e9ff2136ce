package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lensbook/services/booking"
	"lensbook/utils"
)

// StatusFor maps a booking error to its HTTP status.
func StatusFor(err error) int {
	var pe *booking.ProcessorError
	if errors.As(err, &pe) {
		if pe.Transient() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	switch booking.Code(err) {
	case booking.CodeValidation:
		return http.StatusBadRequest
	case booking.CodeNotFound:
		return http.StatusNotFound
	case booking.CodeQuoteState, booking.CodeSlotConflict, booking.CodeInvalidTransition, booking.CodeIdempotency:
		return http.StatusConflict
	case booking.CodeRefundExceedsPaid:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	code := string(booking.Code(err))
	message := err.Error()
	if status == http.StatusInternalServerError {
		code = "internal_error"
		message = "Internal Server Error"
		_ = c.Error(err)
	}
	utils.JSONError(c, getLogger(c), status, code, message)
}

func badRequest(c *gin.Context, err error) {
	utils.JSONError(c, getLogger(c), http.StatusBadRequest, string(booking.CodeValidation), "Invalid request payload: "+err.Error())
}
