package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
)

// DefaultProgressRate is the row interval between progress log lines.
const DefaultProgressRate = 1_000_000

// Ingest run statuses.
const (
	StatusComplete = "complete"
	StatusLimited  = "limited"
	StatusFailed   = "failed"
)

// errLimit stops a source once the row limit is reached.
var errLimit = eris.New("ingest: row limit reached")

// Estimator scores a place before it is stored.
type Estimator interface {
	Estimate(p *model.Place)
}

// Options configures one Normalize call.
type Options struct {
	Limit    int64 // stop after this many rows; <= 0 reads everything
	Optimize bool  // optimize the store when done
}

// Report summarizes one Normalize call.
type Report struct {
	RunID  string
	Purged int64
	store.IngestStats
	Elapsed time.Duration
}

// Engine writes normalized source rows to a store.
type Engine struct {
	store     store.Store
	estimator Estimator
	rate      int64
	log       *zap.Logger
}

// NewEngine returns an Engine. estimator may be nil when only Scored
// sources are ingested.
func NewEngine(st store.Store, estimator Estimator) *Engine {
	return &Engine{
		store:     st,
		estimator: estimator,
		rate:      DefaultProgressRate,
		log:       zap.L().With(zap.String("component", "ingest")),
	}
}

// SetProgressRate sets the row interval between progress log lines.
func (e *Engine) SetProgressRate(n int64) {
	if n > 0 {
		e.rate = n
	}
}

// Normalize ingests the file at path through src. The source's previous
// rows are purged first. Invalid rows are skipped and a batch rejected by
// the store is abandoned; neither stops the run.
func (e *Engine) Normalize(ctx context.Context, src Source, path string, opts Options) (Report, error) {
	start := time.Now()
	codes := src.Codes()
	log := e.log.With(zap.String("source", src.Name()), zap.String("path", path))

	sc, ok := src.(Scored)
	scored := ok && sc.Scored()
	if !scored && e.estimator == nil {
		return Report{}, eris.Errorf("ingest: %s: an estimator is required", src.Name())
	}

	runID, err := e.store.StartIngest(ctx, codes[0], path)
	if err != nil {
		return Report{}, eris.Wrap(err, "ingest: start")
	}
	report := Report{RunID: runID}

	for _, code := range codes {
		n, err := e.store.Purge(ctx, code)
		if err != nil {
			return report, eris.Wrapf(err, "ingest: purge %s", code)
		}
		report.Purged += n
	}
	if report.Purged > 0 {
		log.Info("purged previous rows", zap.Int64("rows", report.Purged))
	}

	ids := newIDAllocator(e.store)
	stats := &report.IngestStats
	emit := func(p *model.Place) error {
		if opts.Limit > 0 && stats.Rows >= opts.Limit {
			return errLimit
		}
		stats.Rows++
		if stats.Rows%e.rate == 0 {
			log.Info("ingest progress", zap.Int64("rows", stats.Rows), zap.Int64("added", stats.Added))
		}

		if err := p.Validate(); err != nil {
			stats.Skipped++
			log.Debug("skipping invalid row", zap.Error(err))
			return nil
		}
		if err := ids.assign(ctx, p); err != nil {
			if errors.Is(err, errIDRange) {
				stats.Skipped++
				log.Warn("skipping row outside its source id range", zap.Error(err))
				return nil
			}
			return err
		}
		if !scored {
			e.estimator.Estimate(p)
		}
		return e.add(ctx, log, stats, p)
	}

	procErr := src.Process(ctx, path, emit)
	switch {
	case procErr == nil:
		stats.Status = StatusComplete
	case errors.Is(procErr, errLimit):
		stats.Status = StatusLimited
		log.Info("reached row limit", zap.Int64("limit", opts.Limit))
	default:
		stats.Status = StatusFailed
	}

	if err := e.flush(ctx, log, stats); err != nil && procErr == nil {
		procErr = err
		stats.Status = StatusFailed
	}
	if err := e.store.CompleteIngest(ctx, runID, *stats); err != nil {
		log.Warn("could not record ingest run", zap.Error(err))
	}
	if stats.Status == StatusFailed {
		return report, eris.Wrapf(procErr, "ingest: %s", src.Name())
	}

	if opts.Optimize {
		if err := e.store.Optimize(ctx); err != nil {
			return report, eris.Wrap(err, "ingest: optimize")
		}
	}

	report.Elapsed = time.Since(start)
	log.Info("ingest complete",
		zap.String("run_id", runID),
		zap.Int64("rows", stats.Rows),
		zap.Int64("added", stats.Added),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("abandoned", stats.Abandoned),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// add stores p. A batch the store rejects for integrity is abandoned and
// its rows are taken back out of Added; ingestion continues.
func (e *Engine) add(ctx context.Context, log *zap.Logger, stats *store.IngestStats, p *model.Place) error {
	stats.Added++
	err := e.store.Add(ctx, p)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrIntegrity) {
		abandon(log, stats, err)
		return nil
	}
	return eris.Wrapf(err, "ingest: add %s", p.PlaceID)
}

func (e *Engine) flush(ctx context.Context, log *zap.Logger, stats *store.IngestStats) error {
	err := e.store.Flush(ctx)
	if errors.Is(err, store.ErrIntegrity) {
		abandon(log, stats, err)
		return nil
	}
	return err
}

func abandon(log *zap.Logger, stats *store.IngestStats, err error) {
	rows := int64(store.DroppedRows(err))
	stats.Added -= rows
	stats.Abandoned++
	log.Warn("abandoned batch", zap.Int64("rows", rows), zap.Error(err))
}

// errIDRange marks a row whose id lies outside its source's block.
var errIDRange = eris.New("ingest: id outside source range")

// idAllocator hands out row ids within each source's reserved block,
// continuing after the largest id already stored in that block.
type idAllocator struct {
	store store.Store
	next  map[model.Source]int64
}

func newIDAllocator(st store.Store) *idAllocator {
	return &idAllocator{store: st, next: make(map[model.Source]int64)}
}

// assign gives p an id when it has none and checks it against the block
// of p.Source. Ids a source sets itself advance the allocator so later
// assigned ids never reuse them.
func (a *idAllocator) assign(ctx context.Context, p *model.Place) error {
	first, last, ok := p.Source.IDRange()
	if !ok {
		return eris.Wrapf(errIDRange, "source %q has no id range", p.Source)
	}
	if p.ID != 0 && (p.ID < first || p.ID > last) {
		return eris.Wrapf(errIDRange, "%s id %d not in [%d, %d]", p.Source, p.ID, first, last)
	}

	cur, ok := a.next[p.Source]
	if !ok {
		stored, err := a.store.MaxID(ctx, first, last)
		if err != nil {
			return eris.Wrapf(err, "ingest: max id of %s", p.Source)
		}
		cur = max(stored, first-1)
	}
	if p.ID != 0 {
		a.next[p.Source] = max(cur, p.ID)
		return nil
	}
	if cur >= last {
		return eris.Wrapf(errIDRange, "%s id range exhausted", p.Source)
	}
	cur++
	a.next[p.Source] = cur
	p.ID = cur
	return nil
}
