package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geotag/gazetteer/internal/store"
)

var ingestsCmd = &cobra.Command{
	Use:   "ingests",
	Short: "List recent ingest runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListIngests(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "ingests list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No ingest runs found.")
			return nil
		}
		formatIngestsList(os.Stdout, runs)
		return nil
	},
}

// formatIngestsList writes a tabular list of ingest runs to out.
func formatIngestsList(out io.Writer, runs []store.IngestRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tROWS\tADDED\tSKIPPED\tABANDONED\tSTARTED\tDURATION\tPATH")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t----\t-----\t-------\t---------\t-------\t--------\t----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		status := r.Status
		if status == "" {
			status = "running"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Source,
			status,
			r.Rows,
			r.Added,
			r.Skipped,
			r.Abandoned,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.Path,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	ingestsCmd.Flags().Int("limit", 20, "max number of runs to display")
	rootCmd.AddCommand(ingestsCmd)
}
