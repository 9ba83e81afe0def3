// Package index publishes finalized gazetteer rows to the Solr search
// index used by the tagger.
package index

import (
	"strconv"

	"github.com/geotag/gazetteer/internal/model"
)

// Document is one place row in the search index schema.
type Document struct {
	ID           int64   `json:"id"`
	PlaceID      string  `json:"place_id"`
	Name         string  `json:"name"`
	NameType     string  `json:"name_type"`
	FeatureClass string  `json:"feat_class"`
	FeatureCode  string  `json:"feat_code"`
	CountryCode  string  `json:"cc"`
	FIPSCode     string  `json:"FIPS_cc,omitempty"`
	Adm1         string  `json:"adm1,omitempty"`
	Adm2         string  `json:"adm2,omitempty"`
	Source       string  `json:"source"`
	NameBias     float64 `json:"name_bias"`
	IDBias       int     `json:"id_bias"`
	SearchOnly   bool    `json:"search_only"`
	Geo          string  `json:"geo"`
	NameArabic   string  `json:"name_ar,omitempty"`
	NameCJK      string  `json:"name_cjk,omitempty"`
}

// NewDocument converts a stored place. Coordinates keep the precision they
// were stored with, and name_bias goes back to its decimal form.
func NewDocument(p *model.Place) Document {
	doc := Document{
		ID:           p.ID,
		PlaceID:      p.PlaceID,
		Name:         p.Name,
		NameType:     string(p.NameType),
		FeatureClass: p.FeatureClass,
		FeatureCode:  p.FeatureCode,
		CountryCode:  p.CountryCode,
		FIPSCode:     p.CountryCodeFIPS,
		Adm1:         p.Adm1,
		Adm2:         p.Adm2,
		Source:       string(p.Source),
		NameBias:     float64(p.NameBias) / 100,
		IDBias:       p.IDBias,
		SearchOnly:   p.SearchOnly,
		Geo:          strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64),
	}
	switch p.NameGroup {
	case model.NameGroupArabic:
		doc.NameArabic = p.Name
	case model.NameGroupCJK:
		doc.NameCJK = p.Name
	}
	return doc
}
