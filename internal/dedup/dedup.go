// Package dedup marks redundant place rows. Within a country, rows that
// share a feature class, a 5-character geohash cell and a lowercased name
// collapse to one canonical row, taken from the most trusted source.
package dedup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/geotag/gazetteer/internal/db"
	"github.com/geotag/gazetteer/internal/geo"
	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
)

// DefaultBatchSize is the number of duplicate ids committed per update.
const DefaultBatchSize = 1000

// Key returns the dedup key of p.
func Key(p *model.Place) string {
	return p.FeatureClass + "/" + geo.Prefix(p.Geohash, geo.DedupPrecision) + "/" + strings.ToLower(p.Name)
}

// Options configures a Deduplicator.
type Options struct {
	Concurrency int // countries processed at once; <= 1 is sequential
	BatchSize   int // ids per MarkDuplicates call; <= 0 uses DefaultBatchSize
}

// Report summarizes a dedup run.
type Report struct {
	Countries  int
	Scanned    int64
	Duplicates int64
	Elapsed    time.Duration
}

// Deduplicator runs the finalization passes over a store.
type Deduplicator struct {
	store store.Store
	opts  Options
	log   *zap.Logger

	// commit serializes duplicate commits across country workers.
	commit sync.Mutex
}

// New returns a Deduplicator over st.
func New(st store.Store, opts Options) *Deduplicator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Deduplicator{
		store: st,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "dedup")),
	}
}

// Run deduplicates every country in the store. Only rows not yet marked are
// scanned, so a second run marks nothing new.
func (d *Deduplicator) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	countries, err := d.store.ListCountries(ctx)
	if err != nil {
		return Report{}, eris.Wrap(err, "dedup: list countries")
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for _, cc := range countries {
		if cc == "" {
			continue
		}
		report.Countries++
		g.Go(func() error {
			scanned, dups, err := d.Country(gctx, cc)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Scanned += scanned
			report.Duplicates += dups
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Elapsed = time.Since(start)
	d.log.Info("dedup complete",
		zap.Int("countries", report.Countries),
		zap.Int64("scanned", report.Scanned),
		zap.Int64("duplicates", report.Duplicates),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// Country deduplicates one country and returns the rows scanned and the
// rows newly marked duplicate. Base sources are walked first in rank order,
// then every other source; keys carry over from one pass to the next.
func (d *Deduplicator) Country(ctx context.Context, cc string) (scanned, dups int64, err error) {
	seen := make(map[string]struct{})
	ids := roaring64.New()

	scan := func(f store.Filter) error {
		for p, err := range d.store.Query(ctx, f) {
			if err != nil {
				return err
			}
			scanned++
			k := Key(&p)
			if _, ok := seen[k]; ok {
				ids.Add(uint64(p.ID))
				continue
			}
			seen[k] = struct{}{}
		}
		return nil
	}

	for _, src := range model.BaseSources {
		f := store.Filter{Country: cc, Sources: []model.Source{src}, NonDuplicate: true, OrderByID: true}
		if err := scan(f); err != nil {
			return scanned, 0, eris.Wrapf(err, "dedup: %s source %s", cc, src)
		}
	}
	f := store.Filter{Country: cc, ExcludeSources: model.BaseSources, NonDuplicate: true, OrderByID: true}
	if err := scan(f); err != nil {
		return scanned, 0, eris.Wrapf(err, "dedup: %s other sources", cc)
	}

	if err := d.markDuplicates(ctx, ids); err != nil {
		return scanned, 0, eris.Wrapf(err, "dedup: %s", cc)
	}
	dups = int64(ids.GetCardinality())
	d.log.Info("country deduplicated",
		zap.String("cc", cc),
		zap.Int64("scanned", scanned),
		zap.Int64("duplicates", dups),
	)
	return scanned, dups, nil
}

func (d *Deduplicator) markDuplicates(ctx context.Context, ids *roaring64.Bitmap) error {
	if ids.IsEmpty() {
		return nil
	}
	all := make([]int64, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		all = append(all, int64(it.Next()))
	}

	d.commit.Lock()
	defer d.commit.Unlock()
	for _, block := range db.Blocks(all, d.opts.BatchSize) {
		if err := d.store.MarkDuplicates(ctx, block); err != nil {
			return err
		}
	}
	return nil
}
