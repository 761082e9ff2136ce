package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"lensbook/handlers"
)

// RegisterQuoteRoutes registers quote endpoints.
func RegisterQuoteRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/quotes")
	{
		api.POST("", hb.Quotes.CreateQuoteHandler)
		api.GET("", hb.Quotes.ListQuotesHandler)
		api.GET("/:id", hb.Quotes.GetQuoteHandler)
		api.PUT("/:id", hb.Quotes.ReviseQuoteHandler)
		api.POST("/:id/accept", hb.Quotes.AcceptQuoteHandler)
		api.POST("/:id/reject", hb.Quotes.RejectQuoteHandler)
		api.POST("/:id/cancel", hb.Quotes.CancelQuoteHandler)
	}
}

// RegisterReservationRoutes registers reservation history and lifecycle endpoints.
func RegisterReservationRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/reservations")
	{
		api.GET("", hb.Reservations.ListReservationsHandler)
		api.GET("/:id", hb.Reservations.GetReservationHandler)
		api.GET("/:id/transactions", hb.Reservations.ListTransactionsHandler)
		api.GET("/:id/refund-preview", hb.Reservations.RefundPreviewHandler)
		api.POST("/:id/checkout/deposit", hb.Reservations.DepositCheckoutHandler)
		api.POST("/:id/checkout/balance", hb.Reservations.BalanceCheckoutHandler)
		api.POST("/:id/delivered", hb.Reservations.MarkDeliveredHandler)
		api.POST("/:id/cancel", hb.Reservations.CancelReservationHandler)
	}
}

// RegisterWebhookRoutes registers the payment processor callbacks.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/webhooks")
	{
		api.POST("/payments", hb.Webhooks.StripeWebhookHandler)
		api.POST("/payments/raw", hb.Webhooks.RawWebhookHandler)
	}
}

// RegisterHealthRoute registers the health-check and metrics endpoints.
func RegisterHealthRoute(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/health", hb.HealthHandler)
	if hb.Metrics != nil {
		r.GET("/metrics", gin.WrapH(hb.Metrics))
	}
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	RegisterQuoteRoutes(r, hb)
	RegisterReservationRoutes(r, hb)
	RegisterWebhookRoutes(r, hb)
	RegisterHealthRoute(r, hb)
}
