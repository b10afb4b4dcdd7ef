package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kurve-cli",
	Short: "Water meter ingestion and reconciliation",
	Long:  "Fetches consumption pages from the Kurve portal, reconciles readings, averages and tariffs into a local store, and merges per-run stores into one canonical store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
