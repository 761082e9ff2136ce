package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables and indexes, including the active-slot unique index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadBase()
		if err != nil {
			return err
		}
		defer logger.Sync()

		repo, _, closer, err := openRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closer()

		if err := repo.EnsureIndexes(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema ready", zap.String("driver", cfg.StorageDriver))
		return nil
	},
}
