package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/index"
	"github.com/geotag/gazetteer/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source> <file>",
	Short: "Load a place-name source into the gazetteer",
	Long: "Purges the rows previously loaded from the source, then normalizes, scores and stores every row of the file. " +
		"Sources: geonames, geonames-postal, ne-admin1.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src, err := ingest.DefaultRegistry().Get(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt64("limit")
		optimize, _ := cmd.Flags().GetBool("optimize")
		publish, _ := cmd.Flags().GetBool("index")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var estimator ingest.Estimator
		if s, ok := src.(ingest.Scored); !ok || !s.Scored() {
			env, err := openEstimator(ctx, st)
			if err != nil {
				return err
			}
			defer env.Close() //nolint:errcheck
			estimator = env.Estimator
		}

		report, err := ingest.NewEngine(st, estimator).Normalize(ctx, src, args[1], ingest.Options{
			Limit:    limit,
			Optimize: optimize,
		})
		if err != nil {
			return eris.Wrapf(err, "ingest %s", src.Name())
		}
		formatIngestReport(report)

		if !publish {
			return nil
		}
		pub, err := newPublisher()
		if err != nil {
			return err
		}
		ir, err := index.NewFinalizer(st, pub).Index(ctx, index.IndexOptions{
			Sources: src.Codes(),
			Postal:  src.Name() == "geonames-postal",
		})
		if err != nil {
			return err
		}
		zap.L().Info("source published", zap.String("source", src.Name()), zap.Int64("indexed", ir.Indexed))
		return nil
	},
}

func formatIngestReport(r ingest.Report) {
	fmt.Fprintf(os.Stdout, "run %s: %s rows=%d added=%d skipped=%d abandoned=%d purged=%d elapsed=%s\n",
		truncateID(r.RunID), r.Status, r.Rows, r.Added, r.Skipped, r.Abandoned, r.Purged, r.Elapsed.Round(time.Millisecond))
}

func init() {
	ingestCmd.Flags().Int64("limit", 0, "stop after this many rows (for testing)")
	ingestCmd.Flags().Bool("optimize", false, "optimize the database when done")
	ingestCmd.Flags().Bool("index", false, "publish the source's rows to the search index when done")
	rootCmd.AddCommand(ingestCmd)
}
