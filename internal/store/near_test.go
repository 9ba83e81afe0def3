package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotag/gazetteer/internal/geo"
	"github.com/geotag/gazetteer/internal/model"
)

func seedNear(t *testing.T) *SQLiteStore {
	t.Helper()
	st := newTestSQLiteStore(t, 100)
	ctx := context.Background()

	center := testPlace(1, "Center", model.SourceNGA, 38.8977, -77.0365)
	close1 := testPlace(2, "Close", model.SourceNGA, 38.9000, -77.0365)  // ~250m north
	close2 := testPlace(3, "Closer", model.SourceNGA, 38.8980, -77.0365) // ~35m north
	far := testPlace(4, "Far", model.SourceNGA, 39.2904, -76.6122)       // Baltimore
	dup := testPlace(5, "Dup", model.SourceGeonames, 38.8978, -77.0365)
	require.NoError(t, st.AddBatch(ctx, []model.Place{center, close1, close2, far, dup}))
	require.NoError(t, st.Flush(ctx))
	require.NoError(t, st.MarkDuplicates(ctx, []int64{5}))
	return st
}

func TestListNear_BBox(t *testing.T) {
	st := seedNear(t)

	got, err := st.ListNear(context.Background(), NearQuery{Lat: 38.8977, Lon: -77.0365, Radius: 1000})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Center", got[0].Place.Name)
	assert.Equal(t, "Closer", got[1].Place.Name)
	assert.Equal(t, "Close", got[2].Place.Name)
	assert.Less(t, got[1].Distance, got[2].Distance)

	got, err = st.ListNear(context.Background(), NearQuery{Lat: 38.8977, Lon: -77.0365, Radius: 1000, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = st.ListNear(context.Background(), NearQuery{Lat: 38.8977, Lon: -77.0365, Radius: 1000, Country: "FR"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListNear_Geohash(t *testing.T) {
	st := seedNear(t)

	got, err := st.ListNear(context.Background(), NearQuery{Lat: 38.8977, Lon: -77.0365, Radius: 1000, Method: NearMethodGeohash})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Center", got[0].Place.Name)

	gh := geo.Encode(38.8977, -77.0365, 6)
	got, err = st.ListNear(context.Background(), NearQuery{Geohash: gh, Radius: 2000})
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	for _, np := range got {
		assert.NotEqual(t, "Far", np.Place.Name)
		assert.False(t, np.Place.Duplicate)
	}
}

func TestListNear_GeohashScansEveryCell(t *testing.T) {
	st := newTestSQLiteStore(t, 100)
	ctx := context.Background()

	// The query sits just west of its cell's east edge. Two places fill the
	// limit from inside the query cell; a closer one lies across the edge.
	const radius = 1000.0
	precision := geo.PrecisionFor(38.9, radius)
	clat, clon := geo.Decode(geo.Encode(38.9, -77.03, precision))
	_, width := geo.CellSize(precision)
	edge := clon + width/2
	qlon := edge - 0.00005

	require.NoError(t, st.AddBatch(ctx, []model.Place{
		testPlace(1, "West", model.SourceNGA, clat, qlon-0.0035),
		testPlace(2, "Southwest", model.SourceNGA, clat-0.001, qlon-0.003),
		testPlace(3, "Edge", model.SourceNGA, clat, edge+0.00005),
	}))
	require.NoError(t, st.Flush(ctx))

	got, err := st.ListNear(ctx, NearQuery{Lat: clat, Lon: qlon, Radius: radius, Limit: 2, Method: NearMethodGeohash})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Edge", got[0].Place.Name)
	assert.NotEqual(t, geo.Prefix(got[0].Place.Geohash, precision), geo.Encode(clat, qlon, precision))
}

func TestListNear_Errors(t *testing.T) {
	st := seedNear(t)

	_, err := st.ListNear(context.Background(), NearQuery{Lat: 95, Lon: 0})
	assert.Error(t, err)

	_, err = st.ListNear(context.Background(), NearQuery{Lat: 1, Lon: 1, Method: "polygon"})
	assert.Error(t, err)
}
