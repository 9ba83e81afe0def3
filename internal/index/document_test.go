package index

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geotag/gazetteer/internal/model"
)

func TestNewDocument(t *testing.T) {
	p := &model.Place{
		ID:              42,
		PlaceID:         "N123",
		Name:            "Paris",
		NameType:        model.NameTypeName,
		Lat:             48.85,
		Lon:             2.3488,
		FeatureClass:    "P",
		FeatureCode:     "PPLC",
		CountryCode:     "FR",
		CountryCodeFIPS: "FR",
		Adm1:            "11",
		Source:          model.SourceNGA,
		NameBias:        -25,
		IDBias:          87,
		SearchOnly:      true,
	}
	doc := NewDocument(p)
	assert.Equal(t, "48.85,2.3488", doc.Geo)
	assert.InDelta(t, -0.25, doc.NameBias, 1e-9)
	assert.Empty(t, doc.NameArabic)
	assert.Empty(t, doc.NameCJK)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, k := range []string{"id", "place_id", "name", "name_type", "feat_class", "feat_code", "cc", "FIPS_cc", "adm1", "source", "name_bias", "id_bias", "search_only", "geo"} {
		assert.Contains(t, fields, k)
	}
	assert.NotContains(t, fields, "adm2")
	assert.NotContains(t, fields, "name_ar")
}

func TestNewDocument_ScriptFields(t *testing.T) {
	ar := NewDocument(&model.Place{Name: "القاهرة", NameGroup: model.NameGroupArabic})
	assert.Equal(t, "القاهرة", ar.NameArabic)
	assert.Empty(t, ar.NameCJK)

	cjk := NewDocument(&model.Place{Name: "東京", NameGroup: model.NameGroupCJK})
	assert.Equal(t, "東京", cjk.NameCJK)
	assert.Empty(t, cjk.NameArabic)
}
