package ingest

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// shapeGeometry converts a go-shp shape to a go-geom geometry. Unsupported
// or empty shapes yield nil.
func shapeGeometry(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PolyLine:
		return polyLineToMultiLineString(s)
	case *shp.Polygon:
		return polygonToMultiPolygon(s)
	}
	return nil
}

// shapeCentre returns the centre of the bounds of a shape as lat, lon.
func shapeCentre(shape shp.Shape) (lat, lon float64, ok bool) {
	g := shapeGeometry(shape)
	if g == nil {
		return 0, 0, false
	}
	b := g.Bounds()
	if b.IsEmpty() {
		return 0, 0, false
	}
	return (b.Min(1) + b.Max(1)) / 2, (b.Min(0) + b.Max(0)) / 2, true
}

// partRanges returns the [start, end) point range of each part.
func partRanges(parts []int32, numParts int32, numPoints int) [][2]int32 {
	out := make([][2]int32, 0, numParts)
	for i := int32(0); i < numParts; i++ {
		start := parts[i]
		end := int32(numPoints)
		if i+1 < numParts {
			end = parts[i+1]
		}
		if start < 0 || start >= end || int(end) > numPoints {
			continue
		}
		out = append(out, [2]int32{start, end})
	}
	return out
}

func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}
	mls := geom.NewMultiLineString(geom.XY)
	for _, r := range partRanges(pl.Parts, pl.NumParts, len(pl.Points)) {
		ls := geom.NewLineStringFlat(geom.XY, flatPoints(pl.Points[r[0]:r[1]]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("ingest: skipping malformed linestring part", zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, r := range partRanges(p.Parts, p.NumParts, len(p.Points)) {
		ring := geom.NewLinearRingFlat(geom.XY, flatPoints(p.Points[r[0]:r[1]]))
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("ingest: skipping malformed polygon ring", zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("ingest: skipping malformed polygon part", zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func flatPoints(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, pt := range points {
		flat = append(flat, pt.X, pt.Y)
	}
	return flat
}
