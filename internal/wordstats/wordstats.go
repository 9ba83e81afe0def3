// Package wordstats keeps corpus word frequencies in a SQLite database and
// answers whether a word is common enough to be a poor place name.
package wordstats

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/geotag/gazetteer/internal/fetcher"
)

// Catalogs maps corpus names to the catalog prefix stored with each word.
// The stored catalog ID is the prefix plus the word's first letter, e.g.
// "Gp" for "philadelphia" in googlebooks.
var Catalogs = map[string]string{"googlebooks": "G"}

// DefaultCatalog is the corpus used for common-word checks.
const DefaultCatalog = "googlebooks"

// Defaults.
const (
	DefaultMinLen     = 2
	DefaultMaxLen     = 30
	DefaultCommitRate = 100_000
	DefaultThreshold  = 10_000_000

	// commonFloor bounds the rows LoadCommon reads before summing.
	commonFloor = 1_000_000
)

// ErrNoWords is returned when a word stats database that must already be
// populated is missing or empty.
var ErrNoWords = eris.New("wordstats: no word counts loaded")

// Options configures an Index.
type Options struct {
	MinLen     int
	MaxLen     int
	CommitRate int
	Threshold  int64 // count above which a word is common
	// MustExist refuses to create the database; scoring reads an index
	// built earlier by Ingest.
	MustExist bool
}

func (o *Options) defaults() {
	if o.MinLen <= 0 {
		o.MinLen = DefaultMinLen
	}
	if o.MaxLen <= 0 {
		o.MaxLen = DefaultMaxLen
	}
	if o.CommitRate <= 0 {
		o.CommitRate = DefaultCommitRate
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
}

// IngestStats counts what one Ingest call read.
type IngestStats struct {
	Files   int
	Lines   int64
	Words   int64
	Ignored int64
}

// Index is a word frequency table with a common-word cache.
type Index struct {
	db   *sql.DB
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	cache       map[string]struct{}
	cacheLoaded bool
	warned      bool
}

const schema = `
CREATE TABLE IF NOT EXISTS wordstats (
	word    TEXT NOT NULL,
	pos     TEXT NOT NULL,
	count   INTEGER DEFAULT 0,
	catalog TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS wd_idx ON wordstats(word);
CREATE INDEX IF NOT EXISTS pos_idx ON wordstats(pos);
CREATE INDEX IF NOT EXISTS cat_idx ON wordstats(catalog);
`

// Open opens the word stats database at path, creating it unless
// opts.MustExist is set.
func Open(path string, opts Options) (*Index, error) {
	opts.defaults()
	if opts.MustExist {
		if _, err := os.Stat(path); err != nil {
			return nil, eris.Wrapf(ErrNoWords, "open %s: %v", path, err)
		}
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "wordstats: mkdir %s", dir)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "wordstats: open")
	}
	// PRAGMAs are per connection.
	conn.SetMaxOpenConns(1)
	for _, stmt := range []string{
		"PRAGMA cache_size = 8092",
		"PRAGMA synchronous = OFF",
		"PRAGMA journal_mode = MEMORY",
		"PRAGMA temp_store = MEMORY",
		schema,
	} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "wordstats: init")
		}
	}
	return &Index{
		db:    conn,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "wordstats")),
		cache: make(map[string]struct{}),
	}, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return eris.Wrap(ix.db.Close(), "wordstats: close")
}

// CatalogID returns the stored catalog ID for word in the named corpus.
// Unknown corpora yield "".
func CatalogID(catalog, word string) string {
	prefix, ok := Catalogs[catalog]
	if !ok {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return prefix
	}
	return prefix + string(r)
}

type wordKey struct {
	word, pos string
}

// Ingest loads n-gram count files into the index. path is a file or a
// directory of *.gz files. Each line is "word[_POS]\tyear\tcount...".
// Words are lowercased, counts are summed per word and part of speech, and
// the catalog's previous rows are purged first.
func (ix *Index) Ingest(ctx context.Context, path, catalog string) (IngestStats, error) {
	var stats IngestStats
	prefix, ok := Catalogs[catalog]
	if !ok {
		return stats, eris.Errorf("wordstats: unknown catalog %q", catalog)
	}

	files := []string{path}
	if fi, err := os.Stat(path); err != nil {
		return stats, eris.Wrapf(err, "wordstats: stat %s", path)
	} else if fi.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.gz"))
		if err != nil {
			return stats, eris.Wrap(err, "wordstats: list files")
		}
	}

	if _, err := ix.db.ExecContext(ctx, "DELETE FROM wordstats WHERE catalog LIKE ?", prefix+"%"); err != nil {
		return stats, eris.Wrapf(err, "wordstats: purge %s", catalog)
	}

	for _, f := range files {
		ix.log.Info("ingesting word counts", zap.String("catalog", catalog), zap.String("file", f))
		if err := ix.ingestFile(ctx, f, catalog, &stats); err != nil {
			return stats, err
		}
		stats.Files++
	}
	ix.log.Info("word counts ingested",
		zap.Int64("lines", stats.Lines),
		zap.Int64("words", stats.Words),
		zap.Int64("ignored", stats.Ignored),
	)
	return stats, nil
}

func (ix *Index) ingestFile(ctx context.Context, path, catalog string, stats *IngestStats) error {
	rc, err := fetcher.Open(path)
	if err != nil {
		return eris.Wrap(err, "wordstats: ingest")
	}
	defer rc.Close() //nolint:errcheck

	terms := make(map[wordKey]int64)
	rowCh, errCh := fetcher.StreamTSV(ctx, rc, fetcher.TSVOptions{})
	err = fetcher.Drain(rowCh, errCh, func(row []string) error {
		stats.Lines++
		word, pos, count, ok := ix.parseLine(row)
		if !ok {
			stats.Ignored++
			return nil
		}
		key := wordKey{word, pos}
		if _, seen := terms[key]; !seen {
			stats.Words++
			if len(terms) >= ix.opts.CommitRate {
				if err := ix.save(ctx, catalog, terms); err != nil {
					return err
				}
				clear(terms)
			}
		}
		terms[key] += count
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "wordstats: read %s", path)
	}
	return ix.save(ctx, catalog, terms)
}

// parseLine extracts the lowercased word, its part of speech and the count
// column. Words outside the length bounds or ending in a digit are rejected.
func (ix *Index) parseLine(row []string) (word, pos string, count int64, ok bool) {
	if len(row) < 3 {
		return "", "", 0, false
	}
	text := strings.ToLower(strings.TrimSpace(row[0]))
	word = text
	if i := strings.LastIndex(text, "_"); i >= 0 && i < len(text)-1 {
		word, pos = text[:i], text[i+1:]
	}
	if n := utf8.RuneCountInString(word); n < ix.opts.MinLen || n > ix.opts.MaxLen {
		return "", "", 0, false
	}
	if last, _ := utf8.DecodeLastRuneInString(word); unicode.IsDigit(last) {
		return "", "", 0, false
	}
	count, err := strconv.ParseInt(strings.TrimSpace(row[2]), 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	return word, pos, count, true
}

func (ix *Index) save(ctx context.Context, catalog string, terms map[wordKey]int64) error {
	if len(terms) == 0 {
		return nil
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "wordstats: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO wordstats (word, pos, count, catalog) VALUES (?, ?, ?, ?)")
	if err != nil {
		return eris.Wrap(err, "wordstats: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for k, cnt := range terms {
		if _, err := stmt.ExecContext(ctx, k.word, k.pos, cnt, CatalogID(catalog, k.word)); err != nil {
			return eris.Wrapf(err, "wordstats: insert %s", k.word)
		}
	}
	return eris.Wrap(tx.Commit(), "wordstats: commit")
}

// Find returns bare-word counts above threshold for word in the named
// corpus. A word containing "%" is matched with LIKE. Counts of repeated
// rows for the same word are summed.
func (ix *Index) Find(ctx context.Context, word string, threshold int64, catalog string) (map[string]int64, error) {
	if word == "" {
		return nil, nil
	}
	clause := "word = ?"
	if strings.Contains(word, "%") {
		clause = "word LIKE ?"
	}
	q := "SELECT word, count FROM wordstats WHERE pos = '' AND catalog = ? AND count > ? AND " + clause
	rows, err := ix.db.QueryContext(ctx, q, CatalogID(catalog, word), threshold, word)
	if err != nil {
		return nil, eris.Wrapf(err, "wordstats: find %s", word)
	}
	return sumRows(rows)
}

// Count returns the number of stored word rows.
func (ix *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM wordstats").Scan(&n); err != nil {
		return 0, eris.Wrap(err, "wordstats: count")
	}
	return n, nil
}

// LoadCommon caches every word whose summed bare count exceeds threshold.
// After it runs, IsCommon answers from the cache alone. An empty database
// is ErrNoWords.
func (ix *Index) LoadCommon(ctx context.Context, threshold int64) error {
	n, err := ix.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoWords
	}
	rows, err := ix.db.QueryContext(ctx,
		"SELECT word, count FROM wordstats WHERE pos = '' AND count > ?", commonFloor)
	if err != nil {
		return eris.Wrap(err, "wordstats: load common")
	}
	counts, err := sumRows(rows)
	if err != nil {
		return eris.Wrap(err, "wordstats: load common")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for w, n := range counts {
		if n > threshold {
			ix.cache[w] = struct{}{}
		}
	}
	ix.cacheLoaded = true
	ix.log.Info("common words loaded", zap.Int("words", len(ix.cache)), zap.Int64("threshold", threshold))
	return nil
}

// IsCommon reports whether word is a common corpus word. Callers pass a
// lowercased word. Without LoadCommon each miss is looked up and hits are
// cached. Lookup errors are logged once and treated as "not common".
func (ix *Index) IsCommon(word string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.cache[word]; ok {
		return true
	}
	if ix.cacheLoaded {
		return false
	}
	found, err := ix.Find(context.Background(), word, ix.opts.Threshold, DefaultCatalog)
	if err != nil {
		if !ix.warned {
			ix.log.Warn("word lookup failed", zap.String("word", word), zap.Error(err))
			ix.warned = true
		}
		return false
	}
	for w := range found {
		ix.cache[w] = struct{}{}
	}
	return len(found) > 0
}

func sumRows(rows *sql.Rows) (map[string]int64, error) {
	defer rows.Close() //nolint:errcheck
	out := make(map[string]int64)
	for rows.Next() {
		var (
			w string
			n int64
		)
		if err := rows.Scan(&w, &n); err != nil {
			return nil, eris.Wrap(err, "wordstats: scan")
		}
		out[w] += n
	}
	return out, eris.Wrap(rows.Err(), "wordstats: rows")
}
