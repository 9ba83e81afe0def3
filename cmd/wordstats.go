package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/geotag/gazetteer/internal/wordstats"
)

var wordstatsCmd = &cobra.Command{
	Use:   "wordstats <gz-file|dir>",
	Short: "Load n-gram word counts into the word stats database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		catalog, _ := cmd.Flags().GetString("catalog")

		ix, err := wordstats.Open(cfg.WordStats.Path, wordstats.Options{Threshold: cfg.WordStats.CommonThreshold})
		if err != nil {
			return err
		}
		defer ix.Close() //nolint:errcheck

		stats, err := ix.Ingest(ctx, args[0], catalog)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wordstats: files=%d lines=%d words=%d ignored=%d\n",
			stats.Files, stats.Lines, stats.Words, stats.Ignored)
		return nil
	},
}

var wordstatsFindCmd = &cobra.Command{
	Use:   "find <word>",
	Short: "Show corpus counts for a word",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		catalog, _ := cmd.Flags().GetString("catalog")
		threshold, _ := cmd.Flags().GetInt64("threshold")

		ix, err := wordstats.Open(cfg.WordStats.Path, wordstats.Options{Threshold: cfg.WordStats.CommonThreshold})
		if err != nil {
			return err
		}
		defer ix.Close() //nolint:errcheck

		counts, err := ix.Find(ctx, args[0], threshold, catalog)
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Fprintln(os.Stderr, "No counts found.")
			return nil
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
		}
		return w.Flush()
	},
}

func init() {
	wordstatsCmd.PersistentFlags().String("catalog", wordstats.DefaultCatalog, "corpus catalog")
	wordstatsFindCmd.Flags().Int64("threshold", 0, "minimum count to report")
	wordstatsCmd.AddCommand(wordstatsFindCmd)
	rootCmd.AddCommand(wordstatsCmd)
}
