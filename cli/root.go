package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lensbook",
	Short: "Booking and settlement engine for the photography marketplace",
	Long: `lensbook turns accepted provider quotes into paid, scheduled reservations.
It claims provider slots, splits payments into deposit and balance legs,
settles processor webhooks into an append-only ledger and computes
tiered cancellation refunds.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
