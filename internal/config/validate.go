package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings needed by the given command mode are
// present and in range. Modes: "store", "ingest", "finalize", "index",
// "serve", "fetch".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "store":
	case "ingest":
		if c.Store.CommitRate < 1 {
			errs = append(errs, "store.commit_rate must be > 0")
		}
		if c.WordStats.Path == "" {
			errs = append(errs, "wordstats.path is required")
		}
		if c.WordStats.CommonThreshold < 1 {
			errs = append(errs, "wordstats.common_threshold must be > 0")
		}
		if len(c.Resources.Stopwords) == 0 {
			errs = append(errs, "resources.stopwords is required")
		}
		if c.Resources.AdminCodes == "" {
			errs = append(errs, "resources.admin_codes is required")
		}
		if c.Resources.MajorCities == "" {
			errs = append(errs, "resources.major_cities is required")
		}
	case "finalize":
		if c.Dedup.Concurrency < 1 || c.Dedup.Concurrency > 64 {
			errs = append(errs, "dedup.concurrency must be between 1 and 64")
		}
		if c.Dedup.BatchSize < 1 {
			errs = append(errs, "dedup.batch_size must be > 0")
		}
	case "index":
		if c.Index.URL == "" {
			errs = append(errs, "index.url is required")
		}
		if c.Index.AddRate < 1 {
			errs = append(errs, "index.add_rate must be > 0")
		}
		if c.Index.MaxAttempts < 1 {
			errs = append(errs, "index.max_attempts must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "fetch":
		if c.Fetch.Dir == "" {
			errs = append(errs, "fetch.dir is required")
		}
		if c.Fetch.MaxRetries < 0 {
			errs = append(errs, "fetch.max_retries must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}
