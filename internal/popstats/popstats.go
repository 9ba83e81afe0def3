// Package popstats builds and reads population statistics for populated
// places, rolled up by coordinate grid and by ADM1/ADM2 path.
package popstats

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/admincodes"
	"github.com/geotag/gazetteer/internal/fetcher"
	"github.com/geotag/gazetteer/internal/geo"
	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
)

// Population scale features.
const (
	FeatureCity     = "city"
	FeatureDistrict = "district"
	FeatureProvince = "province"
)

// popScaleBase is the log2 population that scores 0 for each feature:
// city 2^13 ~ 8K, district 2^15 ~ 32K, province 2^17 ~ 130K.
var popScaleBase = map[string]float64{
	FeatureCity:     13,
	FeatureDistrict: 15,
	FeatureProvince: 17,
}

const defaultPopScaleBase = 20

// PopScale approximates the size of a feature on a 0..10 scale from its
// population. Unknown features use a 2^20 baseline.
func PopScale(population int64, feature string) int {
	if population < 1 {
		return 0
	}
	base, ok := popScaleBase[feature]
	if !ok {
		base = defaultPopScaleBase
	}
	idx := math.Log2(float64(population)) - base
	if idx <= 0 {
		return 0
	}
	return int(idx)
}

// majorCityColumns is the column count of a geonames cities dump row.
const majorCityColumns = 19

// LoadMajorCities reads a geonames cities file (e.g. cities15000.txt), or
// the zip archive it is published in.
// Rows without 19 columns or without a coordinate are skipped.
func LoadMajorCities(ctx context.Context, path string) ([]model.Place, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "gazetteer-cities-")
		if err != nil {
			return nil, eris.Wrap(err, "popstats: create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		member := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".txt"
		if path, err = fetcher.ExtractZIPFile(path, member, dir); err != nil {
			return nil, eris.Wrap(err, "popstats: major cities")
		}
	}
	rc, err := fetcher.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "popstats: major cities")
	}
	defer rc.Close() //nolint:errcheck

	log := zap.L().With(zap.String("component", "popstats"))
	var cities []model.Place
	rowCh, errCh := fetcher.StreamTSV(ctx, rc, fetcher.TSVOptions{MinFields: majorCityColumns})
	err = fetcher.Drain(rowCh, errCh, func(row []string) error {
		if len(row) != majorCityColumns {
			return nil
		}
		city, ok := parseCity(row)
		if !ok {
			log.Debug("no location for city", zap.String("id", row[0]))
			return nil
		}
		cities = append(cities, city)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "popstats: read %s", path)
	}
	log.Info("major cities loaded", zap.Int("cities", len(cities)))
	return cities, nil
}

func parseCity(row []string) (model.Place, bool) {
	lat, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return model.Place{}, false
	}
	lon, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return model.Place{}, false
	}
	p := model.Place{
		PlaceID:      row[0],
		Name:         row[1],
		NameType:     model.NameTypeName,
		Lat:          lat,
		Lon:          lon,
		FeatureClass: row[6],
		FeatureCode:  row[7],
		CountryCode:  row[8],
		Adm1:         model.ParseAdminCode(row[10]),
		Adm2:         row[11],
		Source:       model.SourceGeonames,
		Geohash:      geo.Encode(lat, lon, geo.StoredPrecision),
	}
	if pop, err := strconv.ParseInt(strings.TrimSpace(row[14]), 10, 64); err == nil {
		p.Population = pop
	}
	return p, true
}

// AlreadyISO lists countries whose geonames ADM1 codes are ISO already.
var AlreadyISO = map[string]bool{"US": true, "BE": true, "CH": true, "ME": true}

// ToISO rewrites the FIPS ADM1 codes of cities to ISO using reg. Cities in
// AlreadyISO countries and codes without a mapping are left unchanged. It
// returns per-country counts of codes whose ISO counterpart is missing.
func ToISO(cities []model.Place, reg *admincodes.Registry) map[string]int {
	problems := make(map[string]int)
	total := make(map[string]int)
	for i := range cities {
		c := &cities[i]
		total[c.CountryCode]++
		if AlreadyISO[c.CountryCode] {
			continue
		}
		alt, ok := reg.Alternate(c.CountryCode, c.Adm1, admincodes.FIPS)
		switch {
		case !ok:
		case alt == admincodes.Missing:
			problems[c.CountryCode]++
		default:
			c.Adm1 = alt
		}
	}

	ccs := make([]string, 0, len(problems))
	for cc, n := range problems {
		if n > 1 {
			ccs = append(ccs, cc)
		}
	}
	sort.Strings(ccs)
	log := zap.L().With(zap.String("component", "popstats"))
	for _, cc := range ccs {
		log.Warn("country missing ISO ADM1 codes",
			zap.String("cc", cc),
			zap.Int("missing", problems[cc]),
			zap.Int("cities", total[cc]),
		)
	}
	return problems
}

// Build replaces the population statistics of source with one row per city.
func Build(ctx context.Context, st store.Store, cities []model.Place, source string) (int, error) {
	stats := make([]store.PopStat, 0, len(cities))
	for i := range cities {
		c := &cities[i]
		s := store.PopStat{
			Grid:            c.Grid(),
			Population:      c.Population,
			Source:          source,
			FeatureClass:    c.FeatureClass,
			CountryCode:     c.CountryCode,
			CountryCodeFIPS: c.CountryCodeFIPS,
			Adm1:            c.Adm1,
			Adm1Path:        model.HASC(c.CountryCode, c.Adm1, ""),
			Adm2:            c.Adm2,
		}
		if c.Adm2 != "" {
			s.Adm2Path = model.HASC(c.CountryCode, c.Adm1, c.Adm2)
		}
		stats = append(stats, s)
	}
	if err := st.ReplacePopStats(ctx, source, stats); err != nil {
		return 0, eris.Wrap(err, "popstats: build")
	}
	zap.L().Info("population stats replaced", zap.String("source", source), zap.Int("rows", len(stats)))
	return len(stats), nil
}

// Stats holds summed populations by grid, ADM1 path and ADM2 path. It is
// read-only after Load.
type Stats struct {
	Grid map[string]int64
	Adm1 map[string]int64
	Adm2 map[string]int64
}

// ErrNoPopulation is returned by Load when the store holds no population
// statistics.
var ErrNoPopulation = eris.New("popstats: no population statistics; run the popstats command first")

// Load reads the aggregated population maps from st. A store with no
// population rows is ErrNoPopulation.
func Load(ctx context.Context, st store.Store) (*Stats, error) {
	grid, err := st.GridPopulation(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "popstats: load grid")
	}
	adm1, err := st.Adm1Population(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "popstats: load adm1")
	}
	adm2, err := st.Adm2Population(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "popstats: load adm2")
	}
	if len(grid) == 0 && len(adm1) == 0 && len(adm2) == 0 {
		return nil, ErrNoPopulation
	}
	return &Stats{Grid: grid, Adm1: adm1, Adm2: adm2}, nil
}

// GridPopulation returns the population summed in a coordinate grid cell.
func (s *Stats) GridPopulation(grid string) int64 {
	if s == nil {
		return 0
	}
	return s.Grid[grid]
}

// Adm1Population returns the population summed for an ADM1 path, e.g. "US.CA".
func (s *Stats) Adm1Population(path string) int64 {
	if s == nil {
		return 0
	}
	return s.Adm1[path]
}

// Adm2Population returns the population summed for an ADM2 path.
func (s *Stats) Adm2Population(path string) int64 {
	if s == nil {
		return 0
	}
	return s.Adm2[path]
}
