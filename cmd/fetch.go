package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geotag/gazetteer/internal/fetcher"
)

// knownSources maps short names to their public download URLs.
var knownSources = map[string]string{
	"geonames":        "https://download.geonames.org/export/dump/allCountries.zip",
	"geonames-postal": "https://download.geonames.org/export/zip/allCountries.zip",
	"cities15000":     "https://download.geonames.org/export/dump/cities15000.zip",
	"admin1-codes":    "https://download.geonames.org/export/dump/admin1CodesASCII.txt",
	"ne-admin1":       "https://naciscdn.org/naturalearth/10m/cultural/ne_10m_admin_1_states_provinces.zip",
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <name|url>",
	Short: "Download a source file into fetch.dir",
	Long:  "Downloads a known source (" + strings.Join(knownSourceNames(), ", ") + ") or any URL. Zip archives are extracted with --extract.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		extract, _ := cmd.Flags().GetBool("extract")

		rawURL, dest, err := fetchTarget(args[0], cfg.Fetch.Dir)
		if err != nil {
			return err
		}
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:    cfg.Fetch.UserAgent,
			Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries:   cfg.Fetch.MaxRetries,
			RateLimiters: fetcher.DefaultRateLimiters(),
		})
		return fetchSource(cmd.Context(), f, rawURL, dest, extract, os.Stdout)
	},
}

// fetchSource downloads rawURL to dest and, when extract is set, unpacks a
// zip archive next to it. Written paths are listed on out.
func fetchSource(ctx context.Context, f fetcher.Fetcher, rawURL, dest string, extract bool, out io.Writer) error {
	n, err := f.DownloadToFile(ctx, rawURL, dest)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d bytes\n", dest, n)

	if !extract || !strings.EqualFold(filepath.Ext(dest), ".zip") {
		return nil
	}
	files, err := fetcher.ExtractZIP(dest, strings.TrimSuffix(dest, filepath.Ext(dest)))
	if err != nil {
		return err
	}
	for _, file := range files {
		fmt.Fprintln(out, file)
	}
	return nil
}

// fetchTarget resolves a known source name or URL to the URL and the
// local path it is saved to. Sources sharing a file name are kept apart by
// a subdirectory named after the source.
func fetchTarget(arg, dir string) (string, string, error) {
	rawURL, known := knownSources[arg]
	if !known {
		rawURL = arg
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", eris.Errorf("fetch: %q is neither a known source nor a URL", arg)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "", "", eris.Errorf("fetch: no file name in %s", rawURL)
	}
	sub := u.Host
	if known {
		sub = arg
	}
	return rawURL, filepath.Join(dir, sub, name), nil
}

func knownSourceNames() []string {
	names := make([]string, 0, len(knownSources))
	for n := range knownSources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	fetchCmd.Flags().Bool("extract", false, "extract zip archives after download")
	rootCmd.AddCommand(fetchCmd)
}
