package store

import (
	"context"
	"iter"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/geo"
	"github.com/geotag/gazetteer/internal/model"
)

// Proximity query methods.
const (
	NearMethodBBox    = "2d"
	NearMethodGeohash = "geohash"
)

// Proximity query defaults.
const (
	DefaultNearRadius = 5000.0
	DefaultNearLimit  = 10
)

// NearQuery finds places around a point given either as Lat/Lon or as a
// Geohash. Radius is in meters.
type NearQuery struct {
	Lat     float64
	Lon     float64
	Geohash string
	Radius  float64
	Country string
	Limit   int
	Method  string
}

// NearPlace is a place and its distance in meters from the query point.
type NearPlace struct {
	Place    model.Place `json:"place"`
	Distance float64     `json:"distance"`
}

type queryFunc func(ctx context.Context, f Filter) iter.Seq2[model.Place, error]

// listNear runs q over a store's Query. Only non-duplicate places strictly
// inside the radius are returned, closest first. Every covering cell is read
// before the result is truncated to the limit.
func listNear(ctx context.Context, query queryFunc, q NearQuery) ([]NearPlace, error) {
	if q.Radius <= 0 {
		q.Radius = DefaultNearRadius
	}
	if q.Limit <= 0 {
		q.Limit = DefaultNearLimit
	}
	method := q.Method
	if q.Geohash != "" {
		q.Lat, q.Lon = geo.Decode(q.Geohash)
		if method == "" {
			method = NearMethodGeohash
		}
	}
	if method == "" {
		method = NearMethodBBox
	}
	if !geo.ValidLat(q.Lat) || !geo.ValidLon(q.Lon) {
		return nil, eris.Errorf("store: near: coordinate %f,%f out of range", q.Lat, q.Lon)
	}

	found := make(map[int64]NearPlace)
	collect := func(f Filter) error {
		for p, err := range query(ctx, f) {
			if err != nil {
				return err
			}
			d := geo.Distance(q.Lat, q.Lon, p.Lat, p.Lon)
			if d < q.Radius {
				found[p.ID] = NearPlace{Place: p, Distance: d}
			}
		}
		return nil
	}

	switch method {
	case NearMethodBBox:
		sw, ne := geo.BBox(q.Lat, q.Lon, q.Radius)
		err := collect(Filter{
			Country:      q.Country,
			BBox:         &BBox{South: sw.Lat, West: sw.Lon, North: ne.Lat, East: ne.Lon},
			NonDuplicate: true,
		})
		if err != nil {
			return nil, eris.Wrap(err, "store: near: bbox")
		}
	case NearMethodGeohash:
		for _, cell := range geo.CellsRadially(q.Lat, q.Lon, q.Radius) {
			err := collect(Filter{Country: q.Country, GeohashPrefix: cell, NonDuplicate: true})
			if err != nil {
				return nil, eris.Wrapf(err, "store: near: cell %s", cell)
			}
		}
	default:
		return nil, eris.Errorf("store: near: unknown method %q", method)
	}

	out := make([]NearPlace, 0, len(found))
	for _, np := range found {
		out = append(out, np)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Place.ID < out[j].Place.ID
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
