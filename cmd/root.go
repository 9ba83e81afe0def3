package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/config"
)

var (
	cfg    *config.Config
	dbFlag string
)

var rootCmd = &cobra.Command{
	Use:   "gazetteer",
	Short: "Geographic gazetteer build pipeline",
	Long:  "Ingests place-name sources into a normalized gazetteer, scores name and location bias, deduplicates, and publishes taggable names to the search index.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dbFlag != "" {
			c.Store.DatabaseURL = dbFlag
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

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "gazetteer database path or URL (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
