package index

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
	"github.com/geotag/gazetteer/internal/textutil"
)

// DefaultExclusions are feature patterns rarely mentioned in text: wells,
// streams, springs and hills.
var DefaultExclusions = []string{`H/WLL.*`, `H/STM[ABCDHIQSBX]+`, `H/SPNG.*`, `T/HLL.*`}

// DefaultInterCountryDelay gives the index time to settle between
// per-country commits.
const DefaultInterCountryDelay = 2 * time.Second

// IndexOptions selects and filters the rows published by Finalizer.Index.
type IndexOptions struct {
	Countries []string       // empty means every country in the store
	Sources   []model.Source // optional source restriction
	Limit     int            // per-country row limit, <= 0 for none

	// Postal publishes rows as-is: digit-only names are kept and neither
	// the default exclusions nor the oddball omissions apply.
	Postal bool
	// CodesOnly publishes abbreviations and codes only.
	CodesOnly bool

	Include []string // feature regexes a row must match, if any
	Exclude []string // feature regexes that drop a row; nil uses DefaultExclusions

	InterCountryDelay time.Duration
}

// IndexReport summarises a publishing run.
type IndexReport struct {
	Countries int
	Scanned   int64
	Indexed   int64
	Filtered  int64
	Elapsed   time.Duration
}

// Finalizer publishes finalized store rows to the index, one country at a
// time.
type Finalizer struct {
	store     store.Store
	publisher *Publisher
	log       *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewFinalizer returns a Finalizer writing through publisher.
func NewFinalizer(st store.Store, publisher *Publisher) *Finalizer {
	return &Finalizer{
		store:     st,
		publisher: publisher,
		log:       zap.L().With(zap.String("component", "index.finalizer")),
		sleep:     sleepCtx,
	}
}

// Index publishes every non-duplicate row that passes the filters of opts,
// commits after each country and optimizes the index at the end.
func (f *Finalizer) Index(ctx context.Context, opts IndexOptions) (*IndexReport, error) {
	start := time.Now()
	filter, err := newRowFilter(opts)
	if err != nil {
		return nil, err
	}

	countries := opts.Countries
	if len(countries) == 0 {
		if countries, err = f.store.ListCountries(ctx); err != nil {
			return nil, eris.Wrap(err, "index: list countries")
		}
		// Rows without a country code are never published.
		countries = slices.DeleteFunc(countries, func(cc string) bool { return cc == "" })
	}

	report := &IndexReport{}
	for i, cc := range countries {
		q := store.Filter{
			Country:      cc,
			Sources:      opts.Sources,
			NonDuplicate: true,
			OrderByID:    true,
			Limit:        opts.Limit,
		}
		if opts.CodesOnly {
			q.ExcludeNameType = model.NameTypeName
		}

		var indexed int64
		for p, err := range f.store.Query(ctx, q) {
			if err != nil {
				return report, eris.Wrapf(err, "index: query country %q", cc)
			}
			report.Scanned++
			if !filter.keep(&p) {
				report.Filtered++
				continue
			}
			if err := f.publisher.Add(ctx, &p); err != nil {
				return report, err
			}
			indexed++
		}
		if err := f.publisher.Done(ctx); err != nil {
			return report, err
		}
		report.Countries++
		report.Indexed += indexed
		f.log.Info("country indexed", zap.String("cc", cc), zap.Int64("indexed", indexed))

		if i < len(countries)-1 && opts.InterCountryDelay > 0 {
			if err := f.sleep(ctx, opts.InterCountryDelay); err != nil {
				return report, eris.Wrap(err, "index: cancelled")
			}
		}
	}

	if err := f.publisher.Done(ctx); err != nil {
		return report, err
	}
	if err := f.publisher.Optimize(ctx); err != nil {
		return report, err
	}
	report.Elapsed = time.Since(start)
	f.log.Info("index complete",
		zap.Int("countries", report.Countries),
		zap.Int64("indexed", report.Indexed),
		zap.Int64("filtered", report.Filtered),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// rowFilter applies the per-row publishing rules.
type rowFilter struct {
	include    []*regexp.Regexp
	exclude    []*regexp.Regexp
	keepDigits bool
	oddballs   bool
}

func newRowFilter(opts IndexOptions) (*rowFilter, error) {
	exclude := opts.Exclude
	if exclude == nil && !opts.Postal {
		exclude = DefaultExclusions
	}
	inc, err := compileAll(opts.Include)
	if err != nil {
		return nil, err
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, err
	}
	return &rowFilter{include: inc, exclude: exc, keepDigits: opts.Postal, oddballs: !opts.Postal}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		// Patterns match from the start of "class/code".
		re, err := regexp.Compile("^(?:" + pat + ")")
		if err != nil {
			return nil, eris.Wrapf(err, "index: feature pattern %q", pat)
		}
		out = append(out, re)
	}
	return out, nil
}

func (f *rowFilter) keep(p *model.Place) bool {
	if f.oddballs && isOddball(p) {
		return false
	}
	feature := p.Feature()
	if slices.ContainsFunc(f.exclude, func(re *regexp.Regexp) bool { return re.MatchString(feature) }) {
		return false
	}
	if !f.keepDigits && textutil.IsDigits(p.Name) {
		return false
	}
	if utf8.RuneCountInString(p.Name) < 2 {
		return false
	}
	if len(f.include) > 0 && !slices.ContainsFunc(f.include, func(re *regexp.Regexp) bool { return re.MatchString(feature) }) {
		return false
	}
	return true
}

// isOddball reports European region names that end in a short uppercase
// qualifier, e.g. "Centre FR".
func isOddball(p *model.Place) bool {
	if p.FeatureCode != "RGNE" || !strings.Contains(p.Name, " ") {
		return false
	}
	last := p.Name[strings.LastIndex(p.Name, " ")+1:]
	return len(last) <= 3 && textutil.IsUpper(last)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
