package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geotag/gazetteer/internal/index"
	"github.com/geotag/gazetteer/internal/model"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Publish finalized places to the search index",
	Long: "Publishes every non-duplicate row, country by country. Wells, streams, springs and hills are " +
		"excluded unless --postal is given, in which case rows are published as-is.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := indexOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		pub, err := newPublisher()
		if err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := index.NewFinalizer(st, pub).Index(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "index: countries=%d scanned=%d indexed=%d filtered=%d elapsed=%s\n",
			report.Countries, report.Scanned, report.Indexed, report.Filtered, report.Elapsed.Round(time.Second))
		return nil
	},
}

func indexOptionsFromFlags(cmd *cobra.Command) (index.IndexOptions, error) {
	postal, _ := cmd.Flags().GetBool("postal")
	codes, _ := cmd.Flags().GetBool("codes")
	countries, _ := cmd.Flags().GetString("countries")
	sources, _ := cmd.Flags().GetStringSlice("sources")
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	limit, _ := cmd.Flags().GetInt("limit")

	opts := index.IndexOptions{
		Limit:             limit,
		Postal:            postal,
		CodesOnly:         codes,
		Include:           include,
		InterCountryDelay: time.Duration(cfg.Index.InterCountryDelayMs) * time.Millisecond,
	}
	if cmd.Flags().Changed("exclude") {
		opts.Exclude = exclude
	}
	if postal {
		opts.InterCountryDelay /= 2
	}
	for _, cc := range strings.Split(countries, ",") {
		if cc = strings.ToUpper(strings.TrimSpace(cc)); cc != "" {
			opts.Countries = append(opts.Countries, cc)
		}
	}
	for _, label := range sources {
		src, err := model.ParseSource(label)
		if err != nil {
			return opts, err
		}
		opts.Sources = append(opts.Sources, src)
	}
	return opts, nil
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents from the search index by row ID",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newSolrClient()
		if err != nil {
			return err
		}
		pub := index.NewPublisher(client, cfg.Index.AddRate, cfg.Index.CommitRate)
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return eris.Wrapf(err, "index delete: bad id %q", arg)
			}
			if err := pub.Delete(cmd.Context(), id); err != nil {
				return err
			}
		}
		return pub.Done(cmd.Context())
	},
}

var indexOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize the search index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pub, err := newPublisher()
		if err != nil {
			return err
		}
		return pub.Optimize(cmd.Context())
	},
}

func init() {
	f := indexCmd.Flags()
	f.Bool("postal", false, "publish postal codes as-is (keeps digit-only names, no exclusions)")
	f.Bool("codes", false, "publish abbreviations and codes only")
	f.String("countries", "", "comma-separated country codes (default all)")
	f.StringSlice("sources", nil, "restrict to these sources")
	f.StringSlice("include", nil, "feature patterns to include, e.g. P/PPL.*")
	f.StringSlice("exclude", nil, "feature patterns to exclude (replaces the defaults)")
	f.Int("limit", 0, "maximum rows per country (for testing)")

	indexCmd.AddCommand(indexDeleteCmd, indexOptimizeCmd)
	rootCmd.AddCommand(indexCmd)
}
