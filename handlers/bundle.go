package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lensbook/utils"
)

// HandlerBundle groups all endpoint handlers into one struct.
type HandlerBundle struct {
	Quotes       *QuoteHandler
	Reservations *ReservationHandler
	Webhooks     *WebhookHandler
	Health       *utils.HealthMonitor
	Metrics      http.Handler
}

// HealthHandler reports the latest dependency snapshot.
func (hb *HandlerBundle) HealthHandler(c *gin.Context) {
	if hb.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	status := hb.Health.Status()
	code := http.StatusOK
	if !status.Healthy && !status.CheckedAt.IsZero() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
