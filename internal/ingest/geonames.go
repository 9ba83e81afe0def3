package ingest

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/fetcher"
	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/textutil"
)

// Columns of the geonames.org "geoname" dump.
const (
	gnID = iota
	gnName
	gnASCIIName
	gnAlternateNames
	gnLat
	gnLon
	gnFeatureClass
	gnFeatureCode
	gnCountryCode
	gnCC2
	gnAdm1
	gnAdm2
	gnAdm3
	gnAdm4
	gnPopulation
	gnElevation
	gnDEM
	gnTimezone
	gnModified

	gnColumns
)

// GeonamesSource reads the geonames.org dump (allCountries.txt or a
// per-country file). Each feature yields one row per distinct name.
type GeonamesSource struct {
	log *zap.Logger
}

// NewGeonamesSource returns the geonames.org adapter.
func NewGeonamesSource() *GeonamesSource {
	return &GeonamesSource{log: zap.L().With(zap.String("component", "ingest.geonames"))}
}

func (s *GeonamesSource) Name() string { return "geonames" }

func (s *GeonamesSource) Codes() []model.Source {
	return []model.Source{model.SourceGeonames}
}

func (s *GeonamesSource) Process(ctx context.Context, path string, emit func(*model.Place) error) error {
	idBase := model.SourceGeonames.IDBase()
	var names int64
	return streamTSV(ctx, path, fetcher.TSVOptions{MinFields: gnCountryCode + 1}, func(row []string) error {
		base, err := parseGeoname(row)
		if err != nil {
			s.log.Debug("skipping geonames row", zap.Error(err))
			return nil
		}
		for _, name := range geonameNames(row) {
			names++
			p := base
			p.ID = idBase + names
			p.Name = name
			if textutil.IsCode(name) {
				p.NameType = model.NameTypeCode
			}
			p.NameGroup = model.NameGroupFor(name)
			if err := emit(&p); err != nil {
				return err
			}
		}
		return nil
	})
}

// parseGeoname maps the feature columns of a row. Names are filled in by
// the caller.
func parseGeoname(row []string) (model.Place, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[gnLat]), 64)
	if err != nil {
		return model.Place{}, eris.Wrapf(ErrSkipRow, "geonames %s: latitude %q", row[gnID], row[gnLat])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[gnLon]), 64)
	if err != nil {
		return model.Place{}, eris.Wrapf(ErrSkipRow, "geonames %s: longitude %q", row[gnID], row[gnLon])
	}
	cc := strings.TrimSpace(row[gnCountryCode])
	p := model.Place{
		PlaceID:         "G" + strings.TrimSpace(row[gnID]),
		NameType:        model.NameTypeName,
		Lat:             lat,
		Lon:             lon,
		FeatureClass:    strings.TrimSpace(row[gnFeatureClass]),
		FeatureCode:     strings.TrimSpace(row[gnFeatureCode]),
		CountryCode:     cc,
		CountryCodeFIPS: model.FIPSCountry(cc),
		Source:          model.SourceGeonames,
	}
	if len(row) > gnAdm1 {
		p.Adm1 = strings.TrimSpace(row[gnAdm1])
	}
	if len(row) > gnAdm2 {
		p.Adm2 = strings.TrimSpace(row[gnAdm2])
	}
	return p, nil
}

// geonameNames returns the distinct names of a row: the primary name, the
// ASCII name and the comma-separated alternates. Names differing only in
// case are reported once, first spelling wins.
func geonameNames(row []string) []string {
	candidates := []string{row[gnName], row[gnASCIIName]}
	if alt := row[gnAlternateNames]; alt != "" {
		candidates = append(candidates, strings.Split(alt, ",")...)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		name := strings.TrimSpace(strings.TrimRight(model.NormalizeName(c), "."))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// streamTSV feeds the tab-separated rows of a (possibly gzipped) file to fn.
// Reading stops at the first error fn returns.
func streamTSV(ctx context.Context, path string, opts fetcher.TSVOptions, fn func(row []string) error) error {
	rc, err := fetcher.Open(path)
	if err != nil {
		return eris.Wrapf(err, "ingest: open %s", path)
	}
	defer rc.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rowCh, errCh := fetcher.StreamTSV(ctx, rc, opts)
	return fetcher.Drain(rowCh, errCh, func(row []string) error {
		if err := fn(row); err != nil {
			cancel()
			return err
		}
		return nil
	})
}
