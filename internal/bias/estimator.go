// Package bias scores gazetteer names. Name bias estimates whether a name
// found in free text is safe to tag as this place; location bias ranks a
// place's prominence among places sharing its name.
package bias

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/popstats"
	"github.com/geotag/gazetteer/internal/textutil"
)

// Bias values, before scaling by 100.
const (
	rejected = -1.0
	tooShort = -0.1
	tooLong  = -0.1

	commonStripped   = -0.9
	stopwordStripped = -0.5
	codeStripped     = -0.6
)

// maxIDBias caps location bias.
const maxIDBias = 100

// CommonWords reports whether a lowercased word is common in a reference
// corpus.
type CommonWords interface {
	IsCommon(word string) bool
}

// Options supplies the reference data an Estimator scores against.
type Options struct {
	Stopwords          map[string]struct{} // lowercased
	AdminCodeStopwords map[string]struct{} // compared to the uppercased name
	Provinces          []string            // lowercased ADM1 names, hyphens as spaces
	Cities             []model.Place       // major cities with Population
	Population         *popstats.Stats
	Words              CommonWords
	Tuning             *Tuning // nil uses DefaultTuning
}

// Stats counts the names an Estimator has scored.
type Stats struct {
	Names int64
	Chars int64
}

// Estimator computes name and location bias. It is safe for concurrent use.
type Estimator struct {
	tuning     Tuning
	stopwords  map[string]struct{}
	adminCodes map[string]struct{}
	provinces  map[string]struct{}
	largeCity  map[string]struct{}
	exempt     map[string]struct{}
	population *popstats.Stats
	words      CommonWords

	mu       sync.Mutex
	exempted map[string]float64

	names atomic.Int64
	chars atomic.Int64
}

// New builds an Estimator. Stopwords and admin code stopwords are required.
func New(opts Options) (*Estimator, error) {
	if len(opts.Stopwords) == 0 {
		return nil, eris.New("bias: stopwords are required")
	}
	if len(opts.AdminCodeStopwords) == 0 {
		return nil, eris.New("bias: admin code stopwords are required")
	}
	t := DefaultTuning()
	if opts.Tuning != nil {
		t = *opts.Tuning
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	e := &Estimator{
		tuning:     t,
		stopwords:  opts.Stopwords,
		adminCodes: opts.AdminCodeStopwords,
		provinces:  make(map[string]struct{}, len(opts.Provinces)),
		largeCity:  make(map[string]struct{}),
		exempt:     make(map[string]struct{}, len(t.ExemptFeatures)),
		population: opts.Population,
		words:      opts.Words,
		exempted:   make(map[string]float64),
	}
	for _, p := range opts.Provinces {
		e.provinces[p] = struct{}{}
	}
	for _, c := range opts.Cities {
		if popstats.PopScale(c.Population, popstats.FeatureCity) >= t.LargeCityScale {
			e.largeCity[strings.ToLower(c.Name)] = struct{}{}
		}
	}
	for _, f := range t.ExemptFeatures {
		e.exempt[f] = struct{}{}
	}
	return e, nil
}

// Estimate sets IDBias, NameBias and SearchOnly on p.
func (e *Estimator) Estimate(p *model.Place) {
	p.IDBias = e.LocationBias(p)
	p.NameBias = e.NameBias(p.Name, p.FeatureClass, p.FeatureCode, p.NameGroup, p.NameType)
	p.SearchOnly = p.NameBias < 0
}

// Stats returns the running name and character counts.
func (e *Estimator) Stats() Stats {
	return Stats{Names: e.names.Load(), Chars: e.chars.Load()}
}

// FeatureWeight returns the weight of a feature, trying the "class/code"
// designation cut to 6 then 5 characters, then the class alone.
func (e *Estimator) FeatureWeight(class, code string) int {
	w := e.tuning.FeatureWeights
	if code != "" {
		key := class + "/" + code
		for _, n := range []int{6, 5} {
			if v := w[key[:min(n, len(key))]]; v != 0 {
				return v
			}
		}
	}
	if v := w[class]; v != 0 {
		return v
	}
	return e.tuning.DefaultFeatureWeight
}

// LocationBias ranks p on a 0..100 scale from its feature weight and the
// population found at its grid cell (populated places) or its ADM1/ADM2
// path (administrative boundaries).
func (e *Estimator) LocationBias(p *model.Place) int {
	fcWeight := float64(e.FeatureWeight(p.FeatureClass, p.FeatureCode))

	var popWeight int
	switch p.FeatureClass {
	case model.ClassPopulated:
		popWeight = popstats.PopScale(e.population.GridPopulation(p.Grid()), popstats.FeatureCity)
	case model.ClassAdministrative:
		popWeight = 1
		switch {
		case p.FeatureCode == "ADM1":
			pop := e.population.Adm1Population(model.HASC(p.CountryCode, p.Adm1, ""))
			popWeight = popstats.PopScale(pop, popstats.FeatureProvince)
		case p.FeatureCode == "ADM2" && p.Adm2 != "":
			pop := e.population.Adm2Population(model.HASC(p.CountryCode, p.Adm1, p.Adm2))
			popWeight = popstats.PopScale(pop, popstats.FeatureDistrict)
		}
	}

	share := e.tuning.PopulationShare
	v := int(10 * (share*float64(popWeight) + (1-share)*fcWeight))
	return max(0, min(v, maxIDBias))
}

// NameBias scores a name on a -100..100 scale. Negative names are kept for
// lookup but never tagged. The feature class and name type do not change
// the score; codes and abbreviations are scored like names.
func (e *Estimator) NameBias(name, class, code string, group model.NameGroup, nameType model.NameType) int {
	return int(math.Round(100 * e.nameBias(name, code, group)))
}

func (e *Estimator) nameBias(name, code string, group model.NameGroup) float64 {
	if group == model.NameGroupCJK || group == model.NameGroupArabic {
		return textutil.TrivialBias(name) + e.tuning.ScriptOffset
	}

	n := utf8.RuneCountInString(name)
	e.names.Add(1)
	e.chars.Add(int64(n))

	if n < e.tuning.ShortNameLen {
		if _, ok := e.adminCodes[strings.ToUpper(name)]; ok {
			return rejected
		}
	}
	switch {
	case textutil.IsDigits(name):
		return rejected
	case n < 2:
		return tooShort
	case n > e.tuning.LongNameLen && n < e.tuning.MaxNameLen:
		return textutil.TrivialBias(name)
	case n >= e.tuning.MaxNameLen:
		return tooLong
	}

	norm := strings.ToLower(name)
	e.mu.Lock()
	v, ok := e.exempted[norm]
	e.mu.Unlock()
	if ok {
		return v
	}

	stripped := strings.ReplaceAll(textutil.StripQuotes(textutil.ReplaceDiacritics(norm)), "-", " ")
	if e.isPopular(code, norm, stripped) {
		v := textutil.TrivialBias(name)
		e.mu.Lock()
		e.exempted[norm] = v
		e.mu.Unlock()
		return v
	}
	if e.isStopword(norm) || e.isCommon(norm) {
		return rejected
	}
	if norm != stripped {
		if e.isCommon(stripped) {
			return commonStripped
		}
		if _, ok := e.stopwords[stripped]; ok {
			return stopwordStripped
		}
		if _, ok := e.adminCodes[strings.ToUpper(stripped)]; ok {
			return codeStripped
		}
	}
	return textutil.TrivialBias(norm)
}

// isPopular reports whether a name is well known as a place: a significant
// feature, a large city or a province.
func (e *Estimator) isPopular(code, norm, stripped string) bool {
	if _, ok := e.exempt[code]; ok {
		return true
	}
	if _, ok := e.largeCity[norm]; ok {
		return true
	}
	if _, ok := e.provinces[norm]; ok {
		return true
	}
	_, ok := e.provinces[stripped]
	return ok
}

// isStopword matches the name as is, with hyphens as spaces, and with or
// without a leading "the".
func (e *Estimator) isStopword(name string) bool {
	sw := e.stopwords
	if _, ok := sw[name]; ok {
		return true
	}
	if _, ok := sw[strings.ReplaceAll(name, "-", " ")]; ok {
		return true
	}
	if _, ok := sw["the "+name]; ok {
		return true
	}
	if rest, ok := strings.CutPrefix(name, "the "); ok {
		_, ok := sw[strings.TrimSpace(rest)]
		return ok
	}
	return false
}

func (e *Estimator) isCommon(word string) bool {
	return e.words != nil && e.words.IsCommon(word)
}
