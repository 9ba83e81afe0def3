package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
)

func newTestStore(t *testing.T, places ...model.Place) *store.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "gaz.sqlite"), 100)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.AddBatch(ctx, places))
	require.NoError(t, st.Flush(ctx))
	return st
}

func row(id int64, name, fc, code, cc string) model.Place {
	return model.Place{
		ID:           id,
		PlaceID:      "N" + name,
		Name:         name,
		NameType:     model.NameTypeName,
		Lat:          10,
		Lon:          10,
		FeatureClass: fc,
		FeatureCode:  code,
		CountryCode:  cc,
		Source:       model.SourceNGA,
	}
}

func TestFinalizer_Index(t *testing.T) {
	ctx := context.Background()
	code := row(6, "BER", "A", "ADM1", "DE")
	code.NameType = model.NameTypeCode
	// Wells, streams, digit-only, one-letter and oddball names are filtered.
	st := newTestStore(t,
		row(1, "Berlin", "P", "PPLC", "DE"),
		row(2, "Hamburg", "P", "PPL", "DE"),
		row(3, "Brunnen", "H", "WLL", "DE"),
		row(4, "Kleiner Bach", "H", "STMI", "DE"),
		row(5, "1234", "P", "PPL", "DE"),
		code,
		row(7, "X", "P", "PPL", "FR"),
		row(8, "Centre FR", "L", "RGNE", "FR"),
		row(9, "Paris", "P", "PPLC", "FR"),
		row(10, "Paris", "P", "PPL", "FR"),
	)
	require.NoError(t, st.MarkDuplicates(ctx, []int64{10}))

	client := &recordingClient{}
	f := NewFinalizer(st, NewPublisher(client, 1000, -1))
	var slept []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	report, err := f.Index(ctx, IndexOptions{InterCountryDelay: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Countries)
	assert.EqualValues(t, 9, report.Scanned)
	assert.EqualValues(t, 4, report.Indexed)
	assert.EqualValues(t, 5, report.Filtered)
	assert.Equal(t, []int64{1, 2, 6, 9}, client.ids())
	assert.Equal(t, []time.Duration{time.Second}, slept, "no delay after the last country")
	assert.Equal(t, 1, client.optimize)
	assert.Equal(t, "optimize", client.calls[len(client.calls)-1])
}

func TestFinalizer_IndexPostal(t *testing.T) {
	postal := func(id int64, name, cc string) model.Place {
		p := row(id, name, "A", "POST", cc)
		p.NameType = model.NameTypeCode
		p.Source = model.SourceGeonamesPostal
		return p
	}
	st := newTestStore(t,
		postal(1, "90210", "US"),
		postal(2, "SW1A 1AA", "GB"),
		row(3, "Springfield", "P", "PPL", "US"),
	)

	client := &recordingClient{}
	report, err := NewFinalizer(st, NewPublisher(client, 1000, -1)).Index(context.Background(), IndexOptions{
		Countries: []string{"US", "GB"},
		Sources:   []model.Source{model.SourceGeonamesPostal},
		Postal:    true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Indexed)
	assert.Equal(t, []int64{1, 2}, client.ids())
}

func TestFinalizer_IndexCodesOnlyAndInclude(t *testing.T) {
	abbrev := row(2, "Calif", "A", "ADM1", "US")
	abbrev.NameType = model.NameTypeAbbreviation
	code := row(3, "CA", "A", "ADM1", "US")
	code.NameType = model.NameTypeCode
	airport := row(4, "LAX", "S", "AIRP", "US")
	airport.NameType = model.NameTypeCode
	st := newTestStore(t, row(1, "California", "A", "ADM1", "US"), abbrev, code, airport)

	client := &recordingClient{}
	report, err := NewFinalizer(st, NewPublisher(client, 1000, -1)).Index(context.Background(), IndexOptions{
		CodesOnly: true,
		Include:   []string{`A/ADM\d`},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, report.Scanned)
	assert.Equal(t, []int64{2, 3}, client.ids())
}

func TestFinalizer_BadPattern(t *testing.T) {
	st := newTestStore(t)
	_, err := NewFinalizer(st, NewPublisher(&recordingClient{}, 0, 0)).Index(context.Background(), IndexOptions{Exclude: []string{"("}})
	assert.Error(t, err)
}

func TestIsOddball(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"Centre FR", "RGNE", true},
		{"Nord Pas ABC", "RGNE", true},
		{"Centre Val", "RGNE", false},
		{"Midlands ABCD", "RGNE", false},
		{"Centre", "RGNE", false},
		{"Centre FR", "RGN", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, isOddball(&model.Place{Name: tt.name, FeatureCode: tt.code}))
		})
	}
}
