// Package ingest normalizes gazetteer source files into place rows. A Source
// adapter parses one file format; the Engine purges the source's previous
// rows, scores each emitted place and writes it to the store.
package ingest

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/model"
)

// ErrSkipRow marks a source row that cannot be normalized. Adapters return
// it wrapped from emit-side helpers; the engine counts and skips the row.
var ErrSkipRow = eris.New("ingest: skip row")

// Source parses one gazetteer file format.
type Source interface {
	// Name is the registry key, e.g. "geonames".
	Name() string
	// Codes are the source codes the adapter writes. Re-ingesting purges
	// every row carrying one of them.
	Codes() []model.Source
	// Process reads the file at path and calls emit for each place.
	// Process stops and returns the first error emit returns.
	Process(ctx context.Context, path string, emit func(*model.Place) error) error
}

// Scored is implemented by sources that assign their own bias values.
// The engine does not re-estimate their rows.
type Scored interface {
	Scored() bool
}

// Registry maps source names to adapters.
type Registry struct {
	sources map[string]Source
}

// NewRegistry returns a registry holding the given sources.
func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns the built-in adapters.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(
		NewGeonamesSource(),
		NewGeonamesPostalSource(),
		NewShapefileSource(NaturalEarthAdmin1Fields()),
	)
	return r
}

// Register adds s. Names must be unique.
func (r *Registry) Register(s Source) error {
	name := s.Name()
	if name == "" {
		return eris.New("ingest: source name is required")
	}
	if _, ok := r.sources[name]; ok {
		return eris.Errorf("ingest: source %q already registered", name)
	}
	if len(s.Codes()) == 0 {
		return eris.Errorf("ingest: source %q has no source codes", name)
	}
	r.sources[name] = s
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("ingest: unknown source %q (known: %v)", name, r.Names())
	}
	return s, nil
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
