package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/fetcher"
	"github.com/geotag/gazetteer/internal/model"
)

// ShapefileFields maps the attributes of a boundary shapefile onto place
// rows. Attribute names are matched case-insensitively.
type ShapefileFields struct {
	SourceName   string       // registry name
	Source       model.Source // source code written
	FeatureClass string
	FeatureCode  string

	Name        string // primary name attribute
	AltNames    string // optional alternate names attribute
	AltNamesSep string // separator of AltNames
	CountryCode string // ISO alpha-2 attribute
	Adm1        string // ADM1 attribute, "CC-XX" or "XX"
	FeatureRef  string // optional numeric id of the matching gazetteer feature
	RefPrefix   string // place_id prefix for FeatureRef, e.g. "G"
}

// NaturalEarthAdmin1Fields maps the Natural Earth admin-1 states and
// provinces shapefile.
func NaturalEarthAdmin1Fields() ShapefileFields {
	return ShapefileFields{
		SourceName:   "ne-admin1",
		Source:       model.SourceNaturalEarth,
		FeatureClass: model.ClassAdministrative,
		FeatureCode:  "ADM1",
		Name:         "name",
		AltNames:     "name_alt",
		AltNamesSep:  "|",
		CountryCode:  "iso_a2",
		Adm1:         "iso_3166_2",
		FeatureRef:   "gn_id",
		RefPrefix:    "G",
	}
}

// ShapefileSource reads administrative boundaries from a shapefile, or a
// zip archive holding one. Each shape is placed at the centre of its
// bounds. Shapes without a feature reference get model.UnresolvedPlaceID.
type ShapefileSource struct {
	fields ShapefileFields
	log    *zap.Logger
}

// NewShapefileSource returns a boundary adapter for the given mapping.
func NewShapefileSource(fields ShapefileFields) *ShapefileSource {
	if fields.AltNamesSep == "" {
		fields.AltNamesSep = "|"
	}
	return &ShapefileSource{
		fields: fields,
		log:    zap.L().With(zap.String("component", "ingest.shapefile"), zap.String("source", fields.SourceName)),
	}
}

func (s *ShapefileSource) Name() string { return s.fields.SourceName }

func (s *ShapefileSource) Codes() []model.Source {
	return []model.Source{s.fields.Source}
}

func (s *ShapefileSource) Process(ctx context.Context, path string, emit func(*model.Place) error) error {
	shpPath, cleanup, err := resolveShapefile(path)
	if err != nil {
		return err
	}
	defer cleanup()

	reader, err := shp.Open(shpPath)
	if err != nil {
		return eris.Wrapf(err, "ingest: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		fieldIdx[strings.ToLower(strings.TrimRight(f.String(), "\x00"))] = i
	}
	if _, ok := fieldIdx[strings.ToLower(s.fields.Name)]; !ok {
		return eris.Errorf("ingest: shapefile %s has no %q attribute", shpPath, s.fields.Name)
	}
	attr := func(name string) string {
		idx, ok := fieldIdx[strings.ToLower(name)]
		if name == "" || !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var skipped int
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "ingest: shapefile cancelled")
		}
		_, shape := reader.Shape()
		lat, lon, ok := shapeCentre(shape)
		if !ok {
			skipped++
			continue
		}

		cc := strings.ToUpper(attr(s.fields.CountryCode))
		if len(cc) != 2 {
			cc = ""
		}
		base := model.Place{
			PlaceID:         s.placeID(attr(s.fields.FeatureRef)),
			NameType:        model.NameTypeName,
			Lat:             lat,
			Lon:             lon,
			FeatureClass:    s.fields.FeatureClass,
			FeatureCode:     s.fields.FeatureCode,
			CountryCode:     cc,
			CountryCodeFIPS: model.FIPSCountry(cc),
			Adm1:            boundaryAdm1(attr(s.fields.Adm1)),
			Source:          s.fields.Source,
		}
		for _, name := range s.names(attr(s.fields.Name), attr(s.fields.AltNames)) {
			p := base
			p.Name = name
			p.NameGroup = model.NameGroupFor(name)
			if err := emit(&p); err != nil {
				return err
			}
		}
	}
	if skipped > 0 {
		s.log.Debug("skipped shapes without geometry", zap.Int("skipped", skipped))
	}
	return eris.Wrap(reader.Err(), "ingest: read shapefile")
}

func (s *ShapefileSource) placeID(ref string) string {
	if ref == "" {
		return model.UnresolvedPlaceID
	}
	id, err := strconv.ParseFloat(ref, 64)
	if err != nil || id <= 0 {
		return model.UnresolvedPlaceID
	}
	return s.fields.RefPrefix + strconv.FormatInt(int64(id), 10)
}

func (s *ShapefileSource) names(primary, alternates string) []string {
	candidates := []string{primary}
	if alternates != "" {
		candidates = append(candidates, strings.Split(alternates, s.fields.AltNamesSep)...)
	}
	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, c := range candidates {
		name := model.NormalizeName(c)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// boundaryAdm1 reduces "CC-XX" subdivision codes to "XX".
func boundaryAdm1(v string) string {
	if _, after, ok := strings.Cut(v, "-"); ok {
		v = after
	}
	return model.ParseAdminCode(v)
}

// resolveShapefile returns the .shp to read. A zip archive is extracted to
// a temporary directory that cleanup removes.
func resolveShapefile(path string) (string, func(), error) {
	noop := func() {}
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return path, noop, nil
	}
	dir, err := os.MkdirTemp("", "gazetteer-shp-")
	if err != nil {
		return "", noop, eris.Wrap(err, "ingest: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	files, err := fetcher.ExtractZIP(path, dir)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	shpPath, ok := fetcher.FindExtracted(files, ".shp")
	if !ok {
		cleanup()
		return "", noop, eris.Errorf("ingest: no .shp file in %s", path)
	}
	return shpPath, cleanup, nil
}
