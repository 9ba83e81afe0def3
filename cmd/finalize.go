package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/dedup"
	"github.com/geotag/gazetteer/internal/store"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Finalize the gazetteer before indexing",
	Long:  "Run adjust-id, dedup and adjust-bias, in that order, after every source is loaded.",
}

// withDeduplicator opens the store, runs fn and optionally optimizes.
func withDeduplicator(cmd *cobra.Command, fn func(ctx context.Context, d *dedup.Deduplicator) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("finalize"); err != nil {
		return err
	}
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.CreateIndices(ctx); err != nil {
		return err
	}
	d := dedup.New(st, dedup.Options{
		Concurrency: cfg.Dedup.Concurrency,
		BatchSize:   cfg.Dedup.BatchSize,
	})
	if err := fn(ctx, d); err != nil {
		return err
	}
	return optimizeIfRequested(ctx, cmd, st)
}

func optimizeIfRequested(ctx context.Context, cmd *cobra.Command, st store.Store) error {
	optimize, _ := cmd.Flags().GetBool("optimize")
	if !optimize {
		return nil
	}
	zap.L().Info("optimizing database")
	return st.Optimize(ctx)
}

var finalizeDedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Mark duplicate names per country",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDeduplicator(cmd, func(ctx context.Context, d *dedup.Deduplicator) error {
			report, err := d.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "dedup: countries=%d scanned=%d duplicates=%d elapsed=%s\n",
				report.Countries, report.Scanned, report.Duplicates, report.Elapsed)
			return nil
		})
	},
}

var finalizeAdjustBiasCmd = &cobra.Command{
	Use:   "adjust-bias",
	Short: "Make names of significant features taggable everywhere",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDeduplicator(cmd, func(ctx context.Context, d *dedup.Deduplicator) error {
			report, err := d.AdjustBias(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "adjust-bias: names=%d rows=%d\n", report.Names, report.Rows)
			return nil
		})
	},
}

var finalizeAdjustIDCmd = &cobra.Command{
	Use:   "adjust-id",
	Short: "Resolve boundary rows without a place ID to a neighboring feature",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDeduplicator(cmd, func(ctx context.Context, d *dedup.Deduplicator) error {
			report, err := d.AdjustPlaceID(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "adjust-id: names=%d rows=%d ambiguous=%d unresolved=%d\n",
				report.Names, report.Rows, report.Ambiguous, report.Unresolved)
			return nil
		})
	},
}

func init() {
	finalizeCmd.PersistentFlags().Bool("optimize", false, "optimize the database when done")
	finalizeCmd.AddCommand(finalizeDedupCmd, finalizeAdjustBiasCmd, finalizeAdjustIDCmd)
	rootCmd.AddCommand(finalizeCmd)
}
