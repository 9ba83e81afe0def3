// Package admincodes reconciles first-level administrative codes between
// the FIPS and ISO standards. Sources disagree on ADM1 numbering, so codings
// observed for the same place or the same coordinate grid are paired up.
package admincodes

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
)

// Coding standards.
const (
	FIPS = "FIPS"
	ISO  = "ISO"
)

// Missing marks a code with no known counterpart in the other standard.
const Missing = "-"

// StandardFor returns the ADM1 coding standard a source uses.
func StandardFor(src model.Source) (string, bool) {
	switch src {
	case model.SourceGeonames, model.SourceGeonamesDerived:
		return FIPS, true
	case model.SourceNGA, model.SourceNGAFixed, model.SourceUSGS, model.SourceUSGSFixed, model.SourceISO:
		return ISO, true
	}
	return "", false
}

// coding holds the ADM1 code seen in each standard for one place or grid.
type coding struct {
	fips, iso string
}

func (c *coding) set(std, adm1 string) {
	if std == FIPS {
		c.fips = adm1
	} else {
		c.iso = adm1
	}
}

// Registry accumulates ADM1 codings and resolves alternates. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.Mutex
	places map[string]map[string]*coding
	coords map[string]map[string]*coding
	admin1 map[string]map[string]map[string]string // cc -> std -> code -> alternate
	warned map[string]struct{}
	log    *zap.Logger
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		places: make(map[string]map[string]*coding),
		coords: make(map[string]map[string]*coding),
		admin1: make(map[string]map[string]map[string]string),
		warned: make(map[string]struct{}),
		log:    zap.L().With(zap.String("component", "admincodes")),
	}
}

// AddPlace records that placeID at grid carries adm1 in standard std.
func (r *Registry) AddPlace(cc, placeID, std, adm1, grid string) error {
	if std != FIPS && std != ISO {
		return eris.Errorf("admincodes: unknown standard %q", std)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	codingFor(r.places, cc, placeID).set(std, adm1)
	codingFor(r.coords, cc, grid).set(std, adm1)
	return nil
}

func codingFor(m map[string]map[string]*coding, cc, key string) *coding {
	byKey, ok := m[cc]
	if !ok {
		byKey = make(map[string]*coding)
		m[cc] = byKey
	}
	c, ok := byKey[key]
	if !ok {
		c = &coding{}
		byKey[key] = c
	}
	return c
}

// Align pairs the accumulated codings into FIPS->ISO and ISO->FIPS maps per
// country. Place codings are applied before grid codings and the first
// pairing for a code wins; keys are visited in sorted order.
func (r *Registry) Align() {
	r.mu.Lock()
	defer r.mu.Unlock()

	countries := make(map[string]struct{}, len(r.places))
	for cc := range r.places {
		countries[cc] = struct{}{}
	}
	for cc := range r.coords {
		countries[cc] = struct{}{}
	}
	for cc := range countries {
		fips := make(map[string]string)
		iso := make(map[string]string)
		for _, c := range sortedCodings(r.places[cc]) {
			pair(c, iso, fips)
		}
		for _, c := range sortedCodings(r.coords[cc]) {
			pair(c, iso, fips)
		}
		r.admin1[cc] = map[string]map[string]string{FIPS: fips, ISO: iso}
	}
}

func sortedCodings(m map[string]*coding) []*coding {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*coding, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// pair folds one coding into the iso (ISO->FIPS) and fips (FIPS->ISO) maps.
// A code seen only in one standard is recorded with Missing unless it
// already has a counterpart.
func pair(c *coding, iso, fips map[string]string) {
	f, i := orMissing(c.fips), orMissing(c.iso)
	missingF := iso[i] == "" || iso[i] == Missing
	missingI := fips[f] == "" || fips[f] == Missing

	if f != Missing && i != Missing {
		if missingF {
			iso[i] = f
		}
		if missingI {
			fips[f] = i
		}
		return
	}
	if f != Missing && missingI {
		fips[f] = Missing
	}
	if i != Missing && missingF {
		iso[i] = Missing
	}
}

func orMissing(s string) string {
	if s == "" {
		return Missing
	}
	return s
}

// Alternate returns the counterpart of adm1 (coded in std) in the other
// standard. The result may be Missing. ok is false when the code is not
// registered at all; such misses are logged once per key.
func (r *Registry) Alternate(cc, adm1, std string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alt, ok := r.admin1[cc][std][adm1]
	if !ok {
		key := cc + "|" + std + "|" + adm1
		if _, seen := r.warned[key]; !seen {
			r.warned[key] = struct{}{}
			r.log.Warn("no admin1 mapping",
				zap.String("cc", cc),
				zap.String("std", std),
				zap.String("adm1", adm1),
			)
		}
	}
	return alt, ok
}

// Codes flattens the aligned maps into rows ordered by country, standard
// and code.
func (r *Registry) Codes() []store.AdminCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []store.AdminCode
	for cc, stds := range r.admin1 {
		for std, codes := range stds {
			for code, alt := range codes {
				out = append(out, store.AdminCode{CountryCode: cc, Standard: std, Code: code, Alternate: alt})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CountryCode != b.CountryCode {
			return a.CountryCode < b.CountryCode
		}
		if a.Standard != b.Standard {
			return a.Standard < b.Standard
		}
		return a.Code < b.Code
	})
	return out
}

// Build scans the ADM1 boundaries in st, registers their codings and
// aligns them.
func Build(ctx context.Context, st store.Store) (*Registry, error) {
	r := New()
	var n int
	for p, err := range st.Query(ctx, store.Filter{FeatureClass: model.ClassAdministrative, FeatureCodes: []string{"ADM1"}}) {
		if err != nil {
			return nil, eris.Wrap(err, "admincodes: scan ADM1")
		}
		std, ok := StandardFor(p.Source)
		if !ok || p.CountryCode == "" {
			continue
		}
		adm1 := model.ParseAdminCode(p.Adm1)
		if adm1 == "" {
			continue
		}
		if err := r.AddPlace(p.CountryCode, p.PlaceID, std, adm1, p.Grid()); err != nil {
			return nil, err
		}
		n++
	}
	r.Align()
	r.log.Info("admin1 codes aligned", zap.Int("boundaries", n), zap.Int("countries", len(r.admin1)))
	return r, nil
}

// Save persists the aligned codes.
func (r *Registry) Save(ctx context.Context, st store.Store) error {
	return eris.Wrap(st.SaveAdminCodes(ctx, r.Codes()), "admincodes: save")
}

// Load reads previously saved codes into a registry ready for Alternate.
func Load(ctx context.Context, st store.Store) (*Registry, error) {
	codes, err := st.ListAdminCodes(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "admincodes: load")
	}
	if len(codes) == 0 {
		return nil, eris.New("admincodes: no admin1 codes stored; run the admin1 command first")
	}
	r := New()
	for _, c := range codes {
		stds, ok := r.admin1[c.CountryCode]
		if !ok {
			stds = map[string]map[string]string{FIPS: {}, ISO: {}}
			r.admin1[c.CountryCode] = stds
		}
		if stds[c.Standard] == nil {
			stds[c.Standard] = make(map[string]string)
		}
		stds[c.Standard][c.Code] = c.Alternate
	}
	return r, nil
}
