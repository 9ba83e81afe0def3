package dedup

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/geo"
	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
	"github.com/geotag/gazetteer/internal/textutil"
)

// Limits for names re-scored by AdjustBias.
const (
	adjustMaxNameLen = 30
	adjustMinNameLen = 4
)

var (
	adjustSources      = []model.Source{model.SourceUSGS, model.SourceNGA, model.SourceGeonames}
	adjustFeatureCodes = []string{"ADM1", "PPLC", "PCL", "PCLI"}
)

// AdjustReport summarizes a bias or place_id adjustment pass.
type AdjustReport struct {
	Names      int   // distinct names re-scored or rows examined
	Rows       int64 // rows updated
	Ambiguous  int   // place_id lookups with more than one candidate
	Unresolved int   // place_id lookups with no candidate
}

// AdjustBias re-scores the names of significant features. Single-word names
// of capitals, provinces and countries from the primary sources get the
// trivial bias, applied to every row carrying that name and to its form
// without diacritics.
func (d *Deduplicator) AdjustBias(ctx context.Context) (AdjustReport, error) {
	var names []string
	f := store.Filter{
		Sources:       adjustSources,
		NameType:      model.NameTypeName,
		GeneralScript: true,
		FeatureCodes:  adjustFeatureCodes,
	}
	for p, err := range d.store.Query(ctx, f) {
		if err != nil {
			return AdjustReport{}, eris.Wrap(err, "dedup: adjust bias: query")
		}
		if p.FeatureClass != model.ClassAdministrative && p.FeatureClass != model.ClassPopulated {
			continue
		}
		if utf8.RuneCountInString(p.Name) >= adjustMaxNameLen || strings.Contains(p.Name, " ") {
			continue
		}
		names = append(names, p.Name)
	}
	sort.Strings(names)

	var report AdjustReport
	done := make(map[string]struct{})
	for _, name := range names {
		for _, n := range []string{name, textutil.ReplaceDiacritics(name)} {
			key := strings.ToLower(n)
			if _, ok := done[key]; ok || utf8.RuneCountInString(n) < adjustMinNameLen {
				continue
			}
			done[key] = struct{}{}

			bias := int(math.Round(100 * textutil.TrivialBias(n)))
			rows, err := d.store.UpdateBiasByName(ctx, bias, n)
			if err != nil {
				return report, eris.Wrapf(err, "dedup: adjust bias %q", n)
			}
			report.Names++
			report.Rows += rows
		}
	}
	d.log.Info("bias adjusted", zap.Int("names", report.Names), zap.Int64("rows", report.Rows))
	return report, nil
}

// AdjustPlaceID gives unresolved boundary rows the place_id of a matching
// feature in the same country, ADM1 and feature code. The search widens
// from a 3-character geohash cell down to the whole country and stops at
// the first cell holding exactly one candidate place_id. Decisions are
// memoized per (country, ADM1, feature, cell).
func (d *Deduplicator) AdjustPlaceID(ctx context.Context) (AdjustReport, error) {
	var rows []model.Place
	for p, err := range d.store.Query(ctx, store.Filter{PlaceID: model.UnresolvedPlaceID, OrderByID: true}) {
		if err != nil {
			return AdjustReport{}, eris.Wrap(err, "dedup: adjust place_id: query")
		}
		rows = append(rows, p)
	}

	var report AdjustReport
	decisions := make(map[string]string)
	for i := range rows {
		p := &rows[i]
		report.Names++
		if p.CountryCode == "" {
			report.Unresolved++
			continue
		}
		placeID, ambiguous, err := d.resolvePlaceID(ctx, p, decisions)
		if err != nil {
			return report, err
		}
		if ambiguous {
			report.Ambiguous++
		}
		if placeID == "" {
			report.Unresolved++
			continue
		}
		if err := d.store.UpdatePlaceID(ctx, p.ID, placeID); err != nil {
			return report, eris.Wrapf(err, "dedup: adjust place_id of %d", p.ID)
		}
		report.Rows++
	}
	d.log.Info("place ids adjusted",
		zap.Int("rows", report.Names),
		zap.Int64("updated", report.Rows),
		zap.Int("ambiguous", report.Ambiguous),
		zap.Int("unresolved", report.Unresolved),
	)
	return report, nil
}

// resolvePlaceID returns the place_id p should carry, or "" when no cell
// yields a single candidate.
func (d *Deduplicator) resolvePlaceID(ctx context.Context, p *model.Place, decisions map[string]string) (string, bool, error) {
	ambiguous := false
	adm1 := p.Adm1
	for n := 3; n >= 0; n-- {
		cell := geo.Prefix(p.Geohash, n)
		key := strings.Join([]string{p.CountryCode, adm1, p.FeatureClass, p.FeatureCode, cell}, "#")
		if id, ok := decisions[key]; ok {
			return id, ambiguous, nil
		}

		candidates := make(map[string]struct{})
		f := store.Filter{
			Country:        p.CountryCode,
			FeatureClass:   p.FeatureClass,
			FeatureCodes:   []string{p.FeatureCode},
			Adm1:           &adm1,
			ExcludePlaceID: model.UnresolvedPlaceID,
			GeohashPrefix:  cell,
		}
		for c, err := range d.store.Query(ctx, f) {
			if err != nil {
				return "", ambiguous, eris.Wrapf(err, "dedup: adjust place_id: candidates for %d", p.ID)
			}
			candidates[c.PlaceID] = struct{}{}
		}

		switch len(candidates) {
		case 0:
			continue
		case 1:
			for id := range candidates {
				decisions[key] = id
				return id, ambiguous, nil
			}
		default:
			ambiguous = true
			d.log.Debug("ambiguous place_id",
				zap.String("name", p.Name),
				zap.String("key", key),
				zap.Int("candidates", len(candidates)),
			)
		}
	}
	return "", ambiguous, nil
}
