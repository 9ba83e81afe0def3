package bias

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/popstats"
)

type fakeWords map[string]bool

func (f fakeWords) IsCommon(w string) bool { return f[w] }

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func newTestEstimator(t *testing.T, opts Options) *Estimator {
	t.Helper()
	if opts.Stopwords == nil {
		opts.Stopwords = set("the", "bar", "the works", "new york", "are")
	}
	if opts.AdminCodeStopwords == nil {
		opts.AdminCodeStopwords = set("USA", "ARE", "OR", "IN")
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func TestNew_RequiresResources(t *testing.T) {
	_, err := New(Options{AdminCodeStopwords: set("OR")})
	require.Error(t, err)

	_, err = New(Options{Stopwords: set("the")})
	require.Error(t, err)

	bad := DefaultTuning()
	bad.PopulationShare = 2
	_, err = New(Options{Stopwords: set("the"), AdminCodeStopwords: set("OR"), Tuning: &bad})
	require.Error(t, err)
}

func TestNameBias_Cases(t *testing.T) {
	e := newTestEstimator(t, Options{Words: fakeWords{"paris": true, "the": true}})

	tests := []struct {
		name  string
		place string
		code  string
		want  int
	}{
		{"common word exempt as capital", "Paris", "PPLC", 7},
		{"stopword", "The", "PPL", -100},
		{"digits", "12345", "PPL", -100},
		{"digits even when exempt", "12345", "ADM1", -100},
		{"one character", "q", "PPL", -10},
		{"fifty characters", strings.Repeat("a", 50), "PPL", -10},
		{"long name uses trivial bias", strings.Repeat("a", 35), "PPL", 37},
		{"short admin code", "usa", "PPL", -100},
		{"plain name", "Springfield", "PPL", 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.NameBias(tt.place, "P", tt.code, model.NameGroupGeneral, model.NameTypeName)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNameBias_FortyNineNonASCII(t *testing.T) {
	e := newTestEstimator(t, Options{})
	name := strings.Repeat("é", 16) + " " + strings.Repeat("é", 16) + " " + strings.Repeat("é", 15)
	require.Equal(t, 49, len([]rune(name)))

	// (49/2 + 3 words + 1 non-ASCII) x 0.02
	assert.Equal(t, 57, e.NameBias(name, "P", "PPL", model.NameGroupGeneral, model.NameTypeName))
}

func TestNameBias_ScriptGroups(t *testing.T) {
	e := newTestEstimator(t, Options{})
	assert.Equal(t, 16, e.NameBias("東京", "P", "PPLC", model.NameGroupCJK, model.NameTypeName))
	assert.Equal(t, 17, e.NameBias("دبي", "P", "PPL", model.NameGroupArabic, model.NameTypeName))
	assert.Zero(t, e.Stats().Names)
}

func TestNameBias_StopwordForms(t *testing.T) {
	e := newTestEstimator(t, Options{})
	for _, name := range []string{"Bar", "Works", "The Bar", "New-York"} {
		assert.Equal(t, -100, e.NameBias(name, "S", "BLDG", model.NameGroupGeneral, model.NameTypeName), name)
	}
}

func TestNameBias_CommonWord(t *testing.T) {
	e := newTestEstimator(t, Options{Words: fakeWords{"need": true}})
	assert.Equal(t, -100, e.NameBias("Need", "P", "PPL", model.NameGroupGeneral, model.NameTypeName))
	assert.Equal(t, 7, e.NameBias("Needa", "P", "PPL", model.NameGroupGeneral, model.NameTypeName))
}

func TestNameBias_DiacriticPenalties(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		place string
		want  int
	}{
		{"stripped form is common", Options{Words: fakeWords{"amen": true}}, "Âmen", -90},
		{"stripped form is a stopword", Options{Stopwords: set("ore")}, "Öre", -50},
		{"stripped form is an admin code", Options{Stopwords: set("x"), AdminCodeStopwords: set("ARE")}, "Åre", -60},
		{"original form wins when unknown", Options{}, "Ålesund", 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEstimator(t, tt.opts)
			assert.Equal(t, tt.want, e.NameBias(tt.place, "P", "PPL", model.NameGroupGeneral, model.NameTypeName))
		})
	}
}

func TestNameBias_PopularNames(t *testing.T) {
	e := newTestEstimator(t, Options{
		Stopwords: set("springfield", "sao paulo", "florida"),
		Words:     fakeWords{"springfield": true, "florida": true},
		Cities:    []model.Place{{Name: "Springfield", Population: 200_000}, {Name: "Smallville", Population: 20_000}},
		Provinces: []string{"sao paulo", "florida"},
	})

	assert.Equal(t, 13, e.NameBias("Springfield", "P", "PPL", model.NameGroupGeneral, model.NameTypeName))
	assert.Equal(t, 15, e.NameBias("São Paulo", "S", "HTL", model.NameGroupGeneral, model.NameTypeName))
	assert.Equal(t, 9, e.NameBias("Florida", "P", "PPL", model.NameGroupGeneral, model.NameTypeName))
	assert.Equal(t, 12, e.NameBias("Smallville", "P", "PPL", model.NameGroupGeneral, model.NameTypeName))
}

func TestNameBias_ExemptionIsMemoized(t *testing.T) {
	words := fakeWords{"moscow": true}

	first := newTestEstimator(t, Options{Words: words})
	assert.Equal(t, 8, first.NameBias("Moscow", "P", "PPLC", model.NameGroupGeneral, model.NameTypeName))
	assert.Equal(t, 8, first.NameBias("Moscow", "A", "ADM2", model.NameGroupGeneral, model.NameTypeName))

	fresh := newTestEstimator(t, Options{Words: words})
	assert.Equal(t, -100, fresh.NameBias("Moscow", "A", "ADM2", model.NameGroupGeneral, model.NameTypeName))
}

func TestNameBias_ExemptFeaturesNeverPenalizedByWordRules(t *testing.T) {
	words := fakeWords{"the": true, "bar": true, "need": true, "rock": true}
	for _, code := range DefaultTuning().ExemptFeatures {
		e := newTestEstimator(t, Options{Words: words})
		for _, name := range []string{"The", "Bar", "Need", "Rock", "Are"} {
			got := e.NameBias(name, "A", code, model.NameGroupGeneral, model.NameTypeName)
			if name == "Are" {
				// Short admin code matches precede the exemption.
				assert.Negative(t, got)
				continue
			}
			assert.GreaterOrEqual(t, got, 0, "%s %s", name, code)
		}
	}
}

func TestStats(t *testing.T) {
	e := newTestEstimator(t, Options{})
	e.NameBias("Boston", "P", "PPL", model.NameGroupGeneral, model.NameTypeName)
	e.NameBias("Kyiv", "P", "PPLC", model.NameGroupGeneral, model.NameTypeName)
	assert.Equal(t, Stats{Names: 2, Chars: 10}, e.Stats())
}

func TestFeatureWeight(t *testing.T) {
	e := newTestEstimator(t, Options{})
	tests := []struct {
		class, code string
		want        int
	}{
		{"P", "PPLC", 15},
		{"P", "PPLA2", 10},
		{"H", "STMI", 2},
		{"A", "ADM1H", 16},
		{"A", "ADMD", 11},
		{"T", "", 5},
		{"L", "RGN", 6},
		{"Z", "ZZZ", 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.FeatureWeight(tt.class, tt.code), "%s/%s", tt.class, tt.code)
	}
}

func TestLocationBias(t *testing.T) {
	stats := &popstats.Stats{
		Grid: map[string]int64{"40.0,-75.0": 8_000_000, "41.0,-75.0": 8_000, "42.0,-75.0": 1 << 30},
		Adm1: map[string]int64{"US.CA": 39_000_000},
		Adm2: map[string]int64{"US.CA.037": 10_000_000},
	}
	e := newTestEstimator(t, Options{Population: stats})

	big := &model.Place{FeatureClass: "P", FeatureCode: "PPL", Lat: 40.0, Lon: -75.0}
	small := &model.Place{FeatureClass: "P", FeatureCode: "PPL", Lat: 41.0, Lon: -75.0}
	huge := &model.Place{FeatureClass: "P", FeatureCode: "PPL", Lat: 42.0, Lon: -75.0}

	// 8M in the grid cell: 10 x (0.75 x 9 + 0.25 x 10); 8K: 10 x 0.25 x 10.
	assert.Equal(t, 92, e.LocationBias(big))
	assert.Equal(t, 25, e.LocationBias(small))
	assert.Greater(t, e.LocationBias(big), e.LocationBias(small))
	assert.Equal(t, 100, e.LocationBias(huge))

	adm1 := &model.Place{FeatureClass: "A", FeatureCode: "ADM1", CountryCode: "US", Adm1: "CA"}
	assert.Equal(t, 100, e.LocationBias(adm1))

	adm2 := &model.Place{FeatureClass: "A", FeatureCode: "ADM2", CountryCode: "US", Adm1: "CA", Adm2: "037"}
	assert.Equal(t, 95, e.LocationBias(adm2))

	noAdm2 := &model.Place{FeatureClass: "A", FeatureCode: "ADM2", CountryCode: "US", Adm1: "CA"}
	assert.Equal(t, 42, e.LocationBias(noAdm2))

	district := &model.Place{FeatureClass: "A", FeatureCode: "ADMD", CountryCode: "US"}
	assert.Equal(t, 35, e.LocationBias(district))

	stream := &model.Place{FeatureClass: "H", FeatureCode: "STM"}
	assert.Equal(t, 5, e.LocationBias(stream))
}

func TestLocationBias_MonotonicInPopulation(t *testing.T) {
	prev := -1
	for pop := int64(1); pop < 1<<32; pop *= 2 {
		stats := &popstats.Stats{Grid: map[string]int64{"10.0,10.0": pop}}
		e := newTestEstimator(t, Options{Population: stats})
		got := e.LocationBias(&model.Place{FeatureClass: "P", FeatureCode: "PPLA", Lat: 10, Lon: 10})
		assert.GreaterOrEqual(t, got, prev, "population %d", pop)
		prev = got
	}
}

func TestEstimate_SearchOnlyFollowsNameBias(t *testing.T) {
	e := newTestEstimator(t, Options{Words: fakeWords{"rock": true}})
	for _, name := range []string{"Rock", "The", "Paris", "12", "Granite Falls", "q"} {
		p := &model.Place{Name: name, FeatureClass: "P", FeatureCode: "PPL", NameType: model.NameTypeName}
		e.Estimate(p)
		assert.Equal(t, p.NameBias < 0, p.SearchOnly, name)
	}
}
