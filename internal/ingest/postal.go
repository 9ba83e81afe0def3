package ingest

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/fetcher"
	"github.com/geotag/gazetteer/internal/model"
)

// A postal code written with spaces also yields a variant without them,
// e.g. "SY25001" for "SY25 001", at the code's id plus PostalVariantOffset.
const PostalVariantOffset = 10_000_000

// Fixed scores of postal codes.
const (
	postalNameBias = 10
	postalIDBias   = 10
)

// PostalFeatureCode designates postal areas; they are administrative areas
// assigned for mail delivery.
const PostalFeatureCode = "POST"

// Columns of the geonames.org postal code dump.
const (
	pcCountryCode = iota
	pcPostalCode
	pcPlaceName
	pcAdminName1
	pcAdminCode1
	pcAdminName2
	pcAdminCode2
	pcAdminName3
	pcAdminCode3
	pcLat
	pcLon
	pcAccuracy

	pcColumns
)

// GeonamesPostalSource reads the geonames.org postal code dump. Rows are
// expected grouped by country; a code repeated within a country and ADM1 is
// kept once.
type GeonamesPostalSource struct {
	log *zap.Logger
}

// NewGeonamesPostalSource returns the postal code adapter.
func NewGeonamesPostalSource() *GeonamesPostalSource {
	return &GeonamesPostalSource{log: zap.L().With(zap.String("component", "ingest.postal"))}
}

func (s *GeonamesPostalSource) Name() string { return "geonames-postal" }

func (s *GeonamesPostalSource) Codes() []model.Source {
	return []model.Source{model.SourceGeonamesPostal}
}

// Scored reports that postal rows carry fixed bias values.
func (s *GeonamesPostalSource) Scored() bool { return true }

func (s *GeonamesPostalSource) Process(ctx context.Context, path string, emit func(*model.Place) error) error {
	var (
		idBase = model.SourceGeonamesPostal.IDBase()
		rows   int64
		cc     string
		seen   = make(map[string]struct{})
	)
	return streamTSV(ctx, path, fetcher.TSVOptions{MinFields: pcLon + 1}, func(row []string) error {
		rows++
		code := strings.TrimSpace(row[pcPostalCode])
		if row[pcCountryCode] != cc {
			if cc != "" {
				s.log.Debug("country complete", zap.String("cc", cc), zap.Int("codes", len(seen)))
			}
			cc = row[pcCountryCode]
			clear(seen)
		}

		p, ok := parsePostal(row, code)
		if !ok {
			s.log.Debug("skipping postal row", zap.String("cc", cc), zap.String("code", code))
			return nil
		}
		if _, dup := seen[p.PlaceID]; dup {
			return nil
		}
		seen[p.PlaceID] = struct{}{}

		p.ID = idBase + rows
		if err := emit(&p); err != nil {
			return err
		}
		if !strings.Contains(p.Name, " ") {
			return nil
		}
		v := p
		v.ID = p.ID + PostalVariantOffset
		v.Name = strings.ReplaceAll(p.Name, " ", "")
		return emit(&v)
	})
}

func parsePostal(row []string, code string) (model.Place, bool) {
	if code == "" {
		return model.Place{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[pcLat]), 64)
	if err != nil {
		return model.Place{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[pcLon]), 64)
	if err != nil {
		return model.Place{}, false
	}
	cc := strings.TrimSpace(row[pcCountryCode])
	adm1 := model.ParseAdminCode(strings.TrimSpace(row[pcAdminCode1]))
	return model.Place{
		PlaceID:         strings.Join([]string{cc, adm1, code}, "/"),
		Name:            code,
		NameType:        model.NameTypeCode,
		Lat:             lat,
		Lon:             lon,
		FeatureClass:    model.ClassAdministrative,
		FeatureCode:     PostalFeatureCode,
		CountryCode:     cc,
		CountryCodeFIPS: model.FIPSCountry(cc),
		Adm1:            adm1,
		Source:          model.SourceGeonamesPostal,
		NameBias:        postalNameBias,
		IDBias:          postalIDBias,
	}, true
}
