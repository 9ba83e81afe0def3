package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
)

func newTestStore(t *testing.T, commitRate int) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "gaz.sqlite"), commitRate)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func writeFile(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func loadAll(t *testing.T, st store.Store) []model.Place {
	t.Helper()
	var out []model.Place
	for p, err := range st.Query(context.Background(), store.Filter{OrderByID: true}) {
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

// fixedEstimator scores every place the same and counts calls.
type fixedEstimator struct {
	calls int
}

func (e *fixedEstimator) Estimate(p *model.Place) {
	e.calls++
	p.NameBias = 5
	p.IDBias = 20
	p.SearchOnly = false
}

// fakeSource emits a fixed list of places.
type fakeSource struct {
	name   string
	places []model.Place
}

func (s *fakeSource) Name() string          { return s.name }
func (s *fakeSource) Codes() []model.Source { return []model.Source{model.SourceAdhoc} }

func (s *fakeSource) Process(_ context.Context, _ string, emit func(*model.Place) error) error {
	for i := range s.places {
		p := s.places[i]
		if err := emit(&p); err != nil {
			return err
		}
	}
	return nil
}

// adhocID returns the n-th id of the adhoc block; 0 stays unassigned.
func adhocID(n int64) int64 {
	if n == 0 {
		return 0
	}
	return model.SourceAdhoc.IDBase() + n
}

func adhoc(n int64, name string) model.Place {
	return model.Place{
		ID:           adhocID(n),
		PlaceID:      "OA-" + name,
		Name:         name,
		Lat:          10,
		Lon:          20,
		FeatureClass: model.ClassPopulated,
		FeatureCode:  "PPL",
		CountryCode:  "XA",
		Source:       model.SourceAdhoc,
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"geonames", "geonames-postal", "ne-admin1"}, r.Names())

	src, err := r.Get("geonames")
	require.NoError(t, err)
	assert.Equal(t, []model.Source{model.SourceGeonames}, src.Codes())

	_, err = r.Get("nope")
	assert.Error(t, err)

	assert.Error(t, r.Register(NewGeonamesSource()), "duplicate name")
	assert.Error(t, r.Register(&fakeSource{}), "empty name")
}

func TestNormalize_AssignsIDsAndScores(t *testing.T) {
	st := newTestStore(t, 10)
	est := &fixedEstimator{}
	invalid := adhoc(0, "Nowhere")
	invalid.Lat = 95
	src := &fakeSource{name: "adhoc", places: []model.Place{adhoc(0, "Alpha"), adhoc(0, "Beta"), invalid, adhoc(0, "Gamma")}}

	report, err := NewEngine(st, est).Normalize(context.Background(), src, "adhoc.txt", Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.EqualValues(t, 4, report.Rows)
	assert.EqualValues(t, 3, report.Added)
	assert.EqualValues(t, 1, report.Skipped)
	assert.Equal(t, StatusComplete, report.Status)
	assert.Equal(t, 3, est.calls)

	rows := loadAll(t, st)
	require.Len(t, rows, 3)
	for i, p := range rows {
		assert.Equal(t, adhocID(int64(i+1)), p.ID)
		assert.Equal(t, 5, p.NameBias)
		assert.Equal(t, 20, p.IDBias)
	}

	runs, err := st.ListIngests(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusComplete, runs[0].Status)
	assert.EqualValues(t, 3, runs[0].Added)
}

func TestNormalize_PurgesPreviousRows(t *testing.T) {
	st := newTestStore(t, 10)
	engine := NewEngine(st, &fixedEstimator{})
	src := &fakeSource{name: "adhoc", places: []model.Place{adhoc(1, "Alpha"), adhoc(2, "Beta")}}

	_, err := engine.Normalize(context.Background(), src, "a.txt", Options{})
	require.NoError(t, err)
	report, err := engine.Normalize(context.Background(), src, "a.txt", Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Purged)
	assert.Len(t, loadAll(t, st), 2)
}

func TestNormalize_Limit(t *testing.T) {
	st := newTestStore(t, 10)
	src := &fakeSource{name: "adhoc", places: []model.Place{adhoc(1, "A1"), adhoc(2, "A2"), adhoc(3, "A3")}}

	report, err := NewEngine(st, &fixedEstimator{}).Normalize(context.Background(), src, "a.txt", Options{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusLimited, report.Status)
	assert.EqualValues(t, 2, report.Rows)
	assert.Len(t, loadAll(t, st), 2)
}

func TestNormalize_IntegrityAbandonsBatch(t *testing.T) {
	st := newTestStore(t, 2)
	src := &fakeSource{name: "adhoc", places: []model.Place{
		adhoc(1, "A1"), adhoc(1, "A1 again"), // rejected batch
		adhoc(3, "A3"), adhoc(4, "A4"),
	}}

	report, err := NewEngine(st, &fixedEstimator{}).Normalize(context.Background(), src, "a.txt", Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, report.Status)
	assert.EqualValues(t, 1, report.Abandoned)
	assert.EqualValues(t, 2, report.Added, "rows of the dropped batch are not counted")

	ids := make([]int64, 0, 2)
	for _, p := range loadAll(t, st) {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{adhocID(3), adhocID(4)}, ids)
	assert.EqualValues(t, len(ids), report.Added)

	runs, err := st.ListIngests(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.EqualValues(t, 2, runs[0].Added)
}

func TestNormalize_AbandonedFinalBatch(t *testing.T) {
	st := newTestStore(t, 10)
	src := &fakeSource{name: "adhoc", places: []model.Place{adhoc(1, "A1"), adhoc(1, "A1 again"), adhoc(2, "A2")}}

	report, err := NewEngine(st, &fixedEstimator{}).Normalize(context.Background(), src, "a.txt", Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Abandoned)
	assert.EqualValues(t, 0, report.Added)
	assert.Empty(t, loadAll(t, st))
}

func TestNormalize_ReingestAfterAnotherSource(t *testing.T) {
	st := newTestStore(t, 10)
	ctx := context.Background()
	engine := NewEngine(st, &fixedEstimator{})

	v1 := writeFile(t, "v1.txt",
		geonameRow("2988507", "Paris", "Paris", "", "48.85341", "2.3488", "P", "PPLC", "FR", "11"))
	_, err := engine.Normalize(ctx, NewGeonamesSource(), v1, Options{})
	require.NoError(t, err)

	other := &fakeSource{name: "adhoc", places: []model.Place{adhoc(0, "Nowhere")}}
	_, err = engine.Normalize(ctx, other, "adhoc.txt", Options{})
	require.NoError(t, err)

	v2 := writeFile(t, "v2.txt",
		geonameRow("2988507", "Paris", "Paris", "", "48.85341", "2.3488", "P", "PPLC", "FR", "11"),
		geonameRow("2950159", "Berlin", "Berlin", "", "52.52437", "13.41053", "P", "PPLC", "DE", "16"))
	report, err := engine.Normalize(ctx, NewGeonamesSource(), v2, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Added)
	assert.Zero(t, report.Abandoned)

	rows := loadAll(t, st)
	require.Len(t, rows, 3)
	bySource := make(map[model.Source][]int64)
	for _, p := range rows {
		assert.True(t, p.Source.OwnsID(p.ID), "%s row %d", p.Source, p.ID)
		bySource[p.Source] = append(bySource[p.Source], p.ID)
	}
	assert.Equal(t, []int64{adhocID(1)}, bySource[model.SourceAdhoc])
	assert.Equal(t, []int64{model.SourceGeonames.IDBase() + 1, model.SourceGeonames.IDBase() + 2}, bySource[model.SourceGeonames])
}

func TestNormalize_ContinuesAfterStoredIDs(t *testing.T) {
	st := newTestStore(t, 10)
	ctx := context.Background()
	engine := NewEngine(st, &fixedEstimator{})

	derived := adhoc(0, "Kept")
	derived.Source = model.SourceGeonamesDerived
	derived.ID = model.SourceAdhoc.IDBase() + 5
	src := &fakeSource{name: "adhoc", places: []model.Place{adhoc(7, "Seven"), adhoc(0, "Next"), derived}}

	report, err := engine.Normalize(ctx, src, "a.txt", Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Added)
	assert.EqualValues(t, 1, report.Skipped, "id outside the source's block")

	rows := loadAll(t, st)
	require.Len(t, rows, 2)
	assert.Equal(t, adhocID(7), rows[0].ID)
	assert.Equal(t, adhocID(8), rows[1].ID)
}

func TestNormalize_RequiresEstimator(t *testing.T) {
	st := newTestStore(t, 10)
	_, err := NewEngine(st, nil).Normalize(context.Background(), &fakeSource{name: "adhoc"}, "a.txt", Options{})
	assert.Error(t, err)
}

func TestNormalize_SourceError(t *testing.T) {
	st := newTestStore(t, 10)
	_, err := NewEngine(st, &fixedEstimator{}).Normalize(context.Background(), NewGeonamesSource(), "/does/not/exist.txt", Options{})
	require.Error(t, err)

	runs, err := st.ListIngests(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
}
