package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the WGS84 equatorial radius.
const EarthRadiusMeters = 6378137.0

const metersPerDegree = EarthRadiusMeters * math.Pi / 180

// LatLon is a point in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ValidLat reports whether f is a valid latitude.
func ValidLat(f float64) bool { return f >= -90 && f <= 90 }

// ValidLon reports whether f is a valid longitude.
func ValidLon(f float64) bool { return f >= -180 && f <= 180 }

// Distance returns the great-circle distance in meters between two points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * EarthRadiusMeters
}

// BBox returns the south-west and north-east corners of the box that
// encloses a circle of radius meters around a point. Latitudes are clamped
// to the poles.
func BBox(lat, lon, radius float64) (sw, ne LatLon) {
	dLat := radius / metersPerDegree
	cos := math.Cos(lat * math.Pi / 180)
	dLon := 180.0
	if cos > 1e-9 {
		dLon = math.Min(180, radius/(metersPerDegree*cos))
	}
	sw = LatLon{Lat: math.Max(-90, lat-dLat), Lon: lon - dLon}
	ne = LatLon{Lat: math.Min(90, lat+dLat), Lon: lon + dLon}
	return sw, ne
}

// CoordGrid returns the coarse "lat,lon" grid key (one decimal place, about
// 11km) used to aggregate population by location.
func CoordGrid(lat, lon float64) string {
	return fmt.Sprintf("%0.1f,%0.1f", lat, lon)
}
