package store

import (
	"iter"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/model"
)

// Statements below are written with "?" placeholders. PostgresStore passes
// them through rebind.

const placeSelect = `SELECT id, place_id, name, name_type, COALESCE(name_group, ''),
	lat, lon, geohash, feat_class, feat_code,
	COALESCE(cc, ''), COALESCE(FIPS_cc, ''), COALESCE(adm1, ''), COALESCE(adm2, ''),
	source, name_bias, id_bias, search_only, duplicate
	FROM placenames`

var placeColumns = []string{
	"id", "place_id", "name", "name_type", "name_group",
	"lat", "lon", "geohash", "feat_class", "feat_code",
	"cc", "FIPS_cc", "adm1", "adm2",
	"source", "name_bias", "id_bias", "search_only", "duplicate",
}

var popStatColumns = []string{
	"grid", "population", "source", "feat_class",
	"cc", "FIPS_cc", "adm1", "adm1_path", "adm2", "adm2_path",
}

const maxIDSQL = `SELECT COALESCE(MAX(id), 0) FROM placenames WHERE id BETWEEN ? AND ?`

const (
	gridPopulationSQL = `SELECT grid, CAST(SUM(population) AS BIGINT) FROM popstats GROUP BY grid`
	adm1PopulationSQL = `SELECT adm1_path, CAST(SUM(population) AS BIGINT) FROM popstats WHERE adm1 != '0' GROUP BY adm1_path`
	adm2PopulationSQL = `SELECT adm2_path, CAST(SUM(population) AS BIGINT) FROM popstats WHERE adm2 != '' GROUP BY adm2_path`
)

// buildPlaceQuery renders f as a SELECT over placenames.
func buildPlaceQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, vals ...any) {
		where = append(where, clause)
		args = append(args, vals...)
	}

	if f.Country != "" {
		add("cc = ?", f.Country)
	}
	if f.FeatureClass != "" {
		if strings.Contains(f.FeatureClass, "*") {
			add("feat_class LIKE ?", strings.ReplaceAll(f.FeatureClass, "*", "%"))
		} else {
			add("feat_class = ?", f.FeatureClass)
		}
	}
	if len(f.FeatureCodes) > 0 {
		add("feat_code IN ("+placeholders(len(f.FeatureCodes))+")", anySlice(f.FeatureCodes)...)
	}
	if len(f.Sources) > 0 {
		add("source IN ("+placeholders(len(f.Sources))+")", anySlice(f.Sources)...)
	}
	if len(f.ExcludeSources) > 0 {
		add("source NOT IN ("+placeholders(len(f.ExcludeSources))+")", anySlice(f.ExcludeSources)...)
	}
	if f.NameType != "" {
		add("name_type = ?", string(f.NameType))
	}
	if f.ExcludeNameType != "" {
		add("name_type != ?", string(f.ExcludeNameType))
	}
	if f.GeneralScript {
		add("COALESCE(name_group, '') = ''")
	}
	if f.Name != "" {
		add("name = ?", f.Name)
	}
	if f.PlaceID != "" {
		add("place_id = ?", f.PlaceID)
	}
	if f.ExcludePlaceID != "" {
		add("place_id != ?", f.ExcludePlaceID)
	}
	if f.Adm1 != nil {
		add("COALESCE(adm1, '') = ?", *f.Adm1)
	}
	if f.GeohashPrefix != "" {
		if len(f.GeohashPrefix) >= 6 {
			add("geohash = ?", f.GeohashPrefix[:6])
		} else {
			add("geohash LIKE ?", f.GeohashPrefix+"%")
		}
	}
	if f.BBox != nil {
		add("lat > ? AND lat < ? AND lon > ? AND lon < ?", f.BBox.South, f.BBox.North, f.BBox.West, f.BBox.East)
	}
	if f.NonDuplicate {
		add("duplicate = 0")
	}

	var b strings.Builder
	b.WriteString(placeSelect)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if f.OrderByID {
		b.WriteString(" ORDER BY id")
	}
	if f.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(f.Limit))
	}
	return b.String(), args
}

// idUpdate renders "UPDATE placenames SET <set> WHERE id IN (...)" for one
// block of ids. setArgs bind the SET clause.
func idUpdate(set string, setArgs []any, ids []int64) (string, []any) {
	args := make([]any, 0, len(setArgs)+len(ids))
	args = append(args, setArgs...)
	for _, id := range ids {
		args = append(args, id)
	}
	return "UPDATE placenames SET " + set + " WHERE id IN (" + placeholders(len(ids)) + ")", args
}

func adminNamesQuery(sources []model.Source, cc string) (string, []any) {
	q := `SELECT DISTINCT name FROM placenames
		WHERE feat_class = 'A' AND feat_code = 'ADM1'
		AND COALESCE(name_group, '') = '' AND name_type = 'N'`
	var args []any
	if len(sources) > 0 {
		q += " AND source IN (" + placeholders(len(sources)) + ")"
		args = append(args, anySlice(sources)...)
	}
	if cc != "" {
		q += " AND cc = ?"
		args = append(args, cc)
	}
	return q, args
}

// normalizeAdminName lowercases an ADM1 name and turns hyphens into spaces.
func normalizeAdminName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", " ")
}

func placeArgs(p *model.Place) []any {
	var id any
	if p.ID != 0 {
		id = p.ID
	}
	return []any{
		id, p.PlaceID, p.Name, string(p.NameType), string(p.NameGroup),
		p.Lat, p.Lon, p.Geohash, p.FeatureClass, p.FeatureCode,
		p.CountryCode, p.CountryCodeFIPS, p.Adm1, p.Adm2,
		string(p.Source), p.NameBias, p.IDBias, boolInt(p.SearchOnly), boolInt(p.Duplicate),
	}
}

func popStatArgs(s *PopStat) []any {
	return []any{
		s.Grid, s.Population, s.Source, s.FeatureClass,
		s.CountryCode, s.CountryCodeFIPS, s.Adm1, s.Adm1Path, s.Adm2, s.Adm2Path,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPlace(row scannable) (model.Place, error) {
	var (
		p                     model.Place
		nameType, group, src  string
		searchOnly, duplicate int
	)
	err := row.Scan(
		&p.ID, &p.PlaceID, &p.Name, &nameType, &group,
		&p.Lat, &p.Lon, &p.Geohash, &p.FeatureClass, &p.FeatureCode,
		&p.CountryCode, &p.CountryCodeFIPS, &p.Adm1, &p.Adm2,
		&src, &p.NameBias, &p.IDBias, &searchOnly, &duplicate,
	)
	if err != nil {
		return p, eris.Wrap(err, "store: scan place")
	}
	p.NameType = model.NameType(nameType)
	p.NameGroup = model.NameGroup(group)
	p.Source = model.Source(src)
	p.SearchOnly = searchOnly != 0
	p.Duplicate = duplicate != 0
	return p, nil
}

// rebind rewrites "?" placeholders as "$1", "$2", ... for PostgreSQL.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func anySlice[T any](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch s := any(v).(type) {
		case model.Source:
			out[i] = string(s)
		default:
			out[i] = v
		}
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

// dedupeNames normalizes admin names and returns the distinct values in order.
func dedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := normalizeAdminName(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// collect drains a place sequence, stopping at the first error.
func collect(seq iter.Seq2[model.Place, error]) ([]model.Place, error) {
	var out []model.Place
	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
