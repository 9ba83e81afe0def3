package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/geotag/gazetteer/internal/model"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b IN ($2, $3)", rebind("a = ? AND b IN (?, ?)"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestBuildPlaceQuery(t *testing.T) {
	q, args := buildPlaceQuery(Filter{
		Country:      "US",
		FeatureClass: "P",
		Sources:      []model.Source{model.SourceNGA, model.SourceUSGS},
		NonDuplicate: true,
		Limit:        10,
	})
	assert.Contains(t, q, "WHERE cc = ? AND feat_class = ? AND source IN (?, ?) AND duplicate = 0 LIMIT 10")
	assert.Equal(t, []any{"US", "P", "N", "U"}, args)

	q, args = buildPlaceQuery(Filter{})
	assert.NotContains(t, q, "WHERE")
	assert.Empty(t, args)

	q, args = buildPlaceQuery(Filter{GeohashPrefix: "9q5fpxyz"})
	assert.Contains(t, q, "geohash = ?")
	assert.Equal(t, []any{"9q5fpx"}, args)
}

func TestIDUpdate(t *testing.T) {
	q, args := idUpdate("name_type = ?", []any{"A"}, []int64{3, 4})
	assert.Equal(t, "UPDATE placenames SET name_type = ? WHERE id IN (?, ?)", q)
	assert.Equal(t, []any{"A", int64(3), int64(4)}, args)
}

func TestDedupeNames(t *testing.T) {
	assert.Equal(t, []string{"baden wurttemberg", "ile de france"},
		dedupeNames([]string{"Ile-de-France", "Baden Wurttemberg", "ile de france"}))
}
