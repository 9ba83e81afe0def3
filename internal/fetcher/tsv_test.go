package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTSV(t *testing.T) {
	input := strings.Join([]string{
		"geonameid\tname\tasciiname",
		"# comment",
		"2988507\tParis\tParis",
		"",
		"5391959\t\"San\" Francisco\tSan Francisco\r",
		"short",
	}, "\n")

	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader(input), TSVOptions{
		HasHeader: true,
		Comment:   "#",
		MinFields: 3,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2988507", "Paris", "Paris"}, rows[0])
	assert.Equal(t, `"San" Francisco`, rows[1][1])
	assert.Equal(t, "San Francisco", rows[1][2])
}

func TestStreamTSV_KeepsEmptyFields(t *testing.T) {
	rowCh, errCh := StreamTSV(context.Background(), strings.NewReader("a\t\tc\n"), TSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "", "c"}}, rows)
}
