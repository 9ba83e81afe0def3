package bias

import (
	"maps"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tuning holds the empirically tuned constants of the bias formulas.
// Changing them changes tagging behavior across the whole gazetteer.
type Tuning struct {
	// FeatureWeights maps "class", "class/code" prefixes to a 2..16 weight.
	FeatureWeights       map[string]int `yaml:"feature_weights"`
	DefaultFeatureWeight int            `yaml:"default_feature_weight"`

	// ExemptFeatures are feature codes whose names are never penalized.
	ExemptFeatures []string `yaml:"exempt_features"`

	// LargeCityScale is the population scale at which a city name is
	// popular (3 is about 128K people).
	LargeCityScale int `yaml:"large_city_scale"`

	// MaxNameLen is the length at which a name is too long to tag.
	MaxNameLen int `yaml:"max_name_len"`

	// LongNameLen is the length above which names skip word checks.
	LongNameLen int `yaml:"long_name_len"`

	// ShortNameLen bounds names checked against admin code stopwords.
	ShortNameLen int `yaml:"short_name_len"`

	// ScriptOffset is added to CJK and Arabic name scores.
	ScriptOffset float64 `yaml:"script_offset"`

	// PopulationShare is the population part of location bias; the feature
	// weight gets the rest.
	PopulationShare float64 `yaml:"population_share"`
}

// DefaultTuning returns the standard constants.
func DefaultTuning() Tuning {
	return Tuning{
		FeatureWeights: map[string]int{
			"A":      11,
			"A/ADM1": 16,
			"A/ADM2": 14,
			"A/PCL":  16,
			"P":      10,
			"P/PPL":  10,
			"P/PPLC": 15,
			"P/PPLA": 10,
			"P/PPLG": 9,
			"P/PPLH": 8,
			"P/PPLQ": 7,
			"P/PPLX": 7,
			"P/PPLL": 8,
			"L":      6,
			"R":      6,
			"H":      7,
			"H/SPNG": 2,
			"H/RSV":  2,
			"H/STM":  2,
			"H/WLL":  2,
			"V":      7,
			"S":      8,
			"U":      2,
			"T":      5,
			"T/ISL":  6,
			"T/ISLS": 6,
		},
		DefaultFeatureWeight: 5,
		ExemptFeatures:       []string{"PPLC", "ADM1", "PCLI", "PCL"},
		LargeCityScale:       3,
		MaxNameLen:           50,
		LongNameLen:          30,
		ShortNameLen:         5,
		ScriptOffset:         0.10,
		PopulationShare:      0.75,
	}
}

// LoadTuning reads a YAML file over the defaults. Keys absent from the
// file keep their default; feature_weights entries are merged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, eris.Wrapf(err, "bias: read tuning %s", path)
	}

	weights := t.FeatureWeights
	t.FeatureWeights = nil
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, eris.Wrapf(err, "bias: parse tuning %s", path)
	}
	maps.Copy(weights, t.FeatureWeights)
	t.FeatureWeights = weights

	return t, t.Validate()
}

// Validate checks that the constants are usable.
func (t Tuning) Validate() error {
	switch {
	case t.MaxNameLen <= t.LongNameLen:
		return eris.Errorf("bias: max_name_len %d must exceed long_name_len %d", t.MaxNameLen, t.LongNameLen)
	case t.ShortNameLen < 2:
		return eris.Errorf("bias: short_name_len %d must be at least 2", t.ShortNameLen)
	case t.PopulationShare < 0 || t.PopulationShare > 1:
		return eris.Errorf("bias: population_share %v must be within [0, 1]", t.PopulationShare)
	case t.LargeCityScale < 0:
		return eris.Errorf("bias: large_city_scale %d must not be negative", t.LargeCityScale)
	}
	return nil
}
