package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lensbook/handlers"
	"lensbook/middleware"
	"lensbook/routes"
	"lensbook/utils"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.repo.EnsureIndexes(ctx); err != nil {
		return err
	}

	monitor := utils.NewHealthMonitor(a.health)
	monitor.Start(ctx, 60*time.Second)

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(a, monitor)

	srv := &http.Server{
		Addr:    "0.0.0.0:" + a.cfg.AppPort,
		Handler: router,
	}

	a.logger.Info("starting server", zap.String("addr", srv.Addr))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("server is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("server stopped gracefully")
	return nil
}

func newRouter(a *app, monitor *utils.HealthMonitor) *gin.Engine {
	router := gin.New()
	router.Use(utils.ErrorHandler(a.logger))
	router.Use(middleware.RequestLogger(a.logger.Named("http")))
	router.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiterStore(a.cfg.MaxRequestsPerMin), a.logger))

	var parser handlers.WebhookParser
	if a.cfg.StripeWebhookSecret != "" {
		parser = a.stripe
	}
	hb := &handlers.HandlerBundle{
		Quotes:       handlers.NewQuoteHandler(a.quotes),
		Reservations: handlers.NewReservationHandler(a.reservations, a.orchestrator),
		Webhooks:     handlers.NewWebhookHandler(a.orchestrator, parser, a.cfg.StripeWebhookSecret == "" && !a.cfg.IsProduction()),
		Health:       monitor,
		Metrics:      promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}
	routes.RegisterRoutes(router, hb)
	return router
}
