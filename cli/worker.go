package cli

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lensbook/cron"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the task worker (balance checkouts, refund retries)",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.queue == nil {
		return errors.New("worker needs REDIS_ADDR for its task queue")
	}
	logger := a.logger.Named("worker")
	mux := cron.NewBookingMux(a.orchestrator, a.reservations, logger)
	return cron.RunBookingWorker(ctx, a.queueOpts, mux, logger)
}
