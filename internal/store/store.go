// Package store persists gazetteer place rows together with the population
// statistics, the admin1 cross-reference and the ingest log that the
// finalization passes read.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/model"
)

// ErrIntegrity marks a rejected write batch, e.g. a duplicate primary key.
// The batch is abandoned; callers log it and continue.
var ErrIntegrity = eris.New("store: integrity violation")

// BatchError reports a queued batch the store dropped. It unwraps to the
// cause, ErrIntegrity for a rejected batch.
type BatchError struct {
	Rows int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("store: dropped batch of %d rows: %v", e.Rows, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// DroppedRows returns the size of the batch err reports dropped, or 0.
func DroppedRows(err error) int {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Rows
	}
	return 0
}

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// BBox is a latitude/longitude rectangle. Bounds are exclusive.
type BBox struct {
	South, West, North, East float64
}

// Filter selects place rows. Zero values do not constrain the query.
type Filter struct {
	Country         string
	FeatureClass    string // "*" is a wildcard, e.g. "*" or "P*"
	FeatureCodes    []string
	Sources         []model.Source
	ExcludeSources  []model.Source
	NameType        model.NameType
	ExcludeNameType model.NameType
	GeneralScript   bool // name_group = ''
	Name            string
	PlaceID         string
	ExcludePlaceID  string
	Adm1            *string
	GeohashPrefix   string
	BBox            *BBox
	NonDuplicate    bool
	OrderByID       bool
	Limit           int
}

// PopStat is one population contribution keyed by coordinate grid and
// administrative path.
type PopStat struct {
	Grid            string
	Population      int64
	Source          string
	FeatureClass    string
	CountryCode     string
	CountryCodeFIPS string
	Adm1            string
	Adm1Path        string
	Adm2            string
	Adm2Path        string
}

// AdminCode maps an ADM1 code in one coding standard to its counterpart in
// the other. Alternate is "-" when no counterpart is known.
type AdminCode struct {
	CountryCode string
	Standard    string
	Code        string
	Alternate   string
}

// IngestStats summarizes one ingest run.
type IngestStats struct {
	Rows      int64
	Added     int64
	Skipped   int64
	Abandoned int64
	Status    string
}

// IngestRun is one row of the ingest log.
type IngestRun struct {
	ID          string
	Source      model.Source
	Path        string
	StartedAt   time.Time
	CompletedAt *time.Time
	IngestStats
}

// Store defines the persistence interface for the gazetteer pipeline.
type Store interface {
	// Places
	Add(ctx context.Context, p *model.Place) error
	AddBatch(ctx context.Context, places []model.Place) error
	Flush(ctx context.Context) error
	Purge(ctx context.Context, source model.Source) (int64, error)
	Query(ctx context.Context, f Filter) iter.Seq2[model.Place, error]
	ListPlacesByID(ctx context.Context, placeID string, limit int) ([]model.Place, error)
	ListCountries(ctx context.Context) ([]string, error)
	ListAdminNames(ctx context.Context, sources []model.Source, cc string) ([]string, error)
	ListNear(ctx context.Context, q NearQuery) ([]NearPlace, error)
	MaxID(ctx context.Context, first, last int64) (int64, error)

	// Finalization updates
	MarkDuplicates(ctx context.Context, ids []int64) error
	UpdateBias(ctx context.Context, nameBias int, ids []int64) error
	UpdateBiasByName(ctx context.Context, nameBias int, name string) (int64, error)
	UpdatePlaceID(ctx context.Context, id int64, placeID string) error
	UpdateAdmin1Code(ctx context.Context, cc, from, to string) (int64, error)

	// Population statistics
	ReplacePopStats(ctx context.Context, source string, stats []PopStat) error
	GridPopulation(ctx context.Context) (map[string]int64, error)
	Adm1Population(ctx context.Context) (map[string]int64, error)
	Adm2Population(ctx context.Context) (map[string]int64, error)

	// Admin1 cross-reference
	SaveAdminCodes(ctx context.Context, codes []AdminCode) error
	ListAdminCodes(ctx context.Context, cc string) ([]AdminCode, error)

	// Ingest log
	StartIngest(ctx context.Context, source model.Source, path string) (string, error)
	CompleteIngest(ctx context.Context, runID string, stats IngestStats) error
	ListIngests(ctx context.Context, limit int) ([]IngestRun, error)

	// Lifecycle
	CreateIndices(ctx context.Context) error
	Optimize(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
