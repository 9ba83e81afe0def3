// Package model defines the gazetteer place record and the closed
// enumerations that classify it.
package model

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/geo"
)

// NameType distinguishes full names from abbreviations and codes.
type NameType string

const (
	NameTypeName         NameType = "N"
	NameTypeAbbreviation NameType = "A"
	NameTypeCode         NameType = "C"
)

// ParseNameType validates a name type code. An empty value means a full name.
func ParseNameType(s string) (NameType, error) {
	switch NameType(s) {
	case "", NameTypeName:
		return NameTypeName, nil
	case NameTypeAbbreviation, NameTypeCode:
		return NameType(s), nil
	}
	return "", eris.Errorf("model: unknown name type %q", s)
}

// NameGroup is the script family of a name. It routes bias rules and the
// script-specific index field.
type NameGroup string

const (
	NameGroupGeneral NameGroup = ""
	NameGroupCJK     NameGroup = "cjk"
	NameGroupArabic  NameGroup = "ar"
)

// Feature classes.
const (
	ClassAdministrative = "A"
	ClassHydrographic   = "H"
	ClassArea           = "L"
	ClassPopulated      = "P"
	ClassRoad           = "R"
	ClassSpot           = "S"
	ClassHypsographic   = "T"
	ClassUndersea       = "U"
	ClassVegetation     = "V"
)

// UnresolvedPlaceID is the placeholder place_id of rows not yet tied to a
// gazetteer feature, e.g. boundaries lacking a feature reference.
const UnresolvedPlaceID = "N-1"

// ErrInvalidPlace marks a record that fails validation. Ingest skips such rows.
var ErrInvalidPlace = eris.New("model: invalid place")

// Place is one name variant tied to one geographic feature.
type Place struct {
	ID              int64     `json:"id"`
	PlaceID         string    `json:"place_id"`
	Name            string    `json:"name"`
	NameType        NameType  `json:"name_type"`
	NameGroup       NameGroup `json:"name_group"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	Geohash         string    `json:"geohash"`
	FeatureClass    string    `json:"feat_class"`
	FeatureCode     string    `json:"feat_code"`
	CountryCode     string    `json:"cc"`
	CountryCodeFIPS string    `json:"FIPS_cc,omitempty"`
	Adm1            string    `json:"adm1,omitempty"`
	Adm2            string    `json:"adm2,omitempty"`
	Source          Source    `json:"source"`
	NameBias        int       `json:"name_bias"`
	IDBias          int       `json:"id_bias"`
	SearchOnly      bool      `json:"search_only"`
	Duplicate       bool      `json:"duplicate"`

	// Population is carried by city reference data only and is not stored
	// on place rows.
	Population int64 `json:"-"`
}

// Feature returns the "class/code" designation, e.g. "P/PPLC".
func (p *Place) Feature() string {
	return p.FeatureClass + "/" + p.FeatureCode
}

// String implements fmt.Stringer.
func (p *Place) String() string {
	return fmt.Sprintf("%s (%s, %s) %s@%0.4f,%0.4f", p.Name, p.Feature(), p.CountryCode, p.PlaceID, p.Lat, p.Lon)
}

// Validate checks the required identity, name and classification fields and
// the coordinate ranges.
func (p *Place) Validate() error {
	switch {
	case p.PlaceID == "":
		return eris.Wrap(ErrInvalidPlace, "place_id is required")
	case p.Name == "":
		return eris.Wrapf(ErrInvalidPlace, "name is required for %s", p.PlaceID)
	case p.Source == "":
		return eris.Wrapf(ErrInvalidPlace, "source is required for %s", p.PlaceID)
	case !p.Source.Valid():
		return eris.Wrapf(ErrInvalidPlace, "unknown source %q for %s", p.Source, p.PlaceID)
	case p.FeatureClass == "":
		return eris.Wrapf(ErrInvalidPlace, "feat_class is required for %s", p.PlaceID)
	case p.FeatureCode == "":
		return eris.Wrapf(ErrInvalidPlace, "feat_code is required for %s", p.PlaceID)
	case !geo.ValidLat(p.Lat) || !geo.ValidLon(p.Lon):
		return eris.Wrapf(ErrInvalidPlace, "coordinate %f,%f out of range for %s", p.Lat, p.Lon, p.PlaceID)
	case p.CountryCode != "" && len(p.CountryCode) != 2:
		return eris.Wrapf(ErrInvalidPlace, "country code %q for %s", p.CountryCode, p.PlaceID)
	}
	if _, err := ParseNameType(string(p.NameType)); err != nil {
		return eris.Wrapf(ErrInvalidPlace, "name type %q for %s", p.NameType, p.PlaceID)
	}
	return nil
}

// Prepare fills derived fields before a place is stored: the default name
// type, the geohash, search_only from name_bias, and capitalization of
// general-script populated and administrative names.
func (p *Place) Prepare() {
	if p.NameType == "" {
		p.NameType = NameTypeName
	}
	if p.Geohash == "" {
		p.Geohash = geo.Encode(p.Lat, p.Lon, geo.StoredPrecision)
	}
	p.SearchOnly = p.NameBias < 0
	if p.NameGroup == NameGroupGeneral && p.NameType == NameTypeName &&
		(p.FeatureClass == ClassAdministrative || p.FeatureClass == ClassPopulated) {
		p.Name = Capitalize(p.Name)
	}
}

// Grid returns the coarse coordinate grid key of the place.
func (p *Place) Grid() string {
	return geo.CoordGrid(p.Lat, p.Lon)
}
