package bias

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/fetcher"
)

// LoadStopwords reads the first column of each comma-separated stopword
// file, lowercased. Lines whose first cell starts with "#" are comments.
// Every file is required.
func LoadStopwords(ctx context.Context, paths ...string) (map[string]struct{}, error) {
	words := make(map[string]struct{})
	for _, path := range paths {
		rc, err := fetcher.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "bias: stopwords")
		}
		rowCh, errCh := fetcher.StreamCSV(ctx, rc, fetcher.CSVOptions{LazyQuotes: true})
		err = fetcher.Drain(rowCh, errCh, func(row []string) error {
			first := strings.TrimSpace(row[0])
			if first == "" || strings.HasPrefix(first, "#") {
				return nil
			}
			words[strings.ToLower(first)] = struct{}{}
			return nil
		})
		rc.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrapf(err, "bias: read stopwords %s", path)
		}
	}
	return words, nil
}

// LoadList reads one term per line, skipping blank lines and "#" comments.
// Terms are kept as written.
func LoadList(ctx context.Context, path string) (map[string]struct{}, error) {
	rc, err := fetcher.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "bias: list")
	}
	defer rc.Close() //nolint:errcheck

	terms := make(map[string]struct{})
	rowCh, errCh := fetcher.StreamTSV(ctx, rc, fetcher.TSVOptions{})
	err = fetcher.Drain(rowCh, errCh, func(row []string) error {
		line := strings.TrimSpace(strings.Join(row, "\t"))
		if line == "" || strings.HasPrefix(line, "#") {
			return nil
		}
		terms[line] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "bias: read list %s", path)
	}
	return terms, nil
}
