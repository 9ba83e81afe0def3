// Package geo provides the spatial keys and distance math used to bucket,
// deduplicate, and look up gazetteer places.
package geo

import (
	"math"

	geohash "github.com/TomiHiltunen/geohash-golang"
)

// Geohash precisions used across the gazetteer.
const (
	// StoredPrecision is the precision persisted on every place (about 1.2km x 0.6km).
	StoredPrecision = 6
	// DedupPrecision is the prefix length of the dedup key (about 4.9km x 4.9km).
	DedupPrecision = 5
)

// Encode returns the geohash of a point at the given precision.
func Encode(lat, lon float64, precision int) string {
	return geohash.EncodeWithPrecision(lat, lon, precision)
}

// Decode returns the center of a geohash cell. A short hash is padded
// toward its middle so it still decodes to a sensible centroid.
func Decode(hash string) (lat, lon float64) {
	center := geohash.Decode(hash).Center()
	return center.Lat(), center.Lng()
}

// Prefix returns the first n characters of a geohash, or the whole hash
// when it is shorter.
func Prefix(hash string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(hash) <= n {
		return hash
	}
	return hash[:n]
}

// CellSize returns the height and width in degrees of a cell of the given precision.
func CellSize(precision int) (latDeg, lonDeg float64) {
	bits := 5 * precision
	lonBits := (bits + 1) / 2
	latBits := bits / 2
	return 180 / math.Pow(2, float64(latBits)), 360 / math.Pow(2, float64(lonBits))
}

// PrecisionFor returns the finest precision (at most StoredPrecision) whose
// cells are still at least radius meters on their short side at the given latitude.
func PrecisionFor(lat, radius float64) int {
	best := 1
	for p := 1; p <= StoredPrecision; p++ {
		h, w := CellSize(p)
		hm := h * metersPerDegree
		wm := w * metersPerDegree * math.Cos(lat*math.Pi/180)
		if math.Min(hm, wm) < radius {
			break
		}
		best = p
	}
	return best
}

// CellsRadially returns the distinct geohash cells that cover the circle of
// radius meters around a point. Cell precision is picked so that a cell is no
// smaller than the radius, so the cells holding the center and the eight
// compass points on the enclosing box cover the whole circle.
func CellsRadially(lat, lon, radius float64) []string {
	precision := PrecisionFor(lat, radius)
	sw, ne := BBox(lat, lon, radius)

	points := [][2]float64{
		{lat, lon},
		{ne.Lat, lon}, {sw.Lat, lon}, {lat, ne.Lon}, {lat, sw.Lon},
		{ne.Lat, ne.Lon}, {ne.Lat, sw.Lon}, {sw.Lat, ne.Lon}, {sw.Lat, sw.Lon},
	}

	seen := make(map[string]bool, len(points))
	cells := make([]string, 0, len(points))
	for _, pt := range points {
		gh := Encode(pt[0], pt[1], precision)
		if seen[gh] {
			continue
		}
		seen[gh] = true
		cells = append(cells, gh)
	}
	return cells
}
