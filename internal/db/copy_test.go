package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nameColumns = []string{"id", "place_id", "name", "cc", "source"}

func TestCopyFrom_NoRowsSkipsPool(t *testing.T) {
	n, err := CopyFrom(context.Background(), nil, "placenames", nameColumns, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCopyFrom_Placenames(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"placenames"}, nameColumns).WillReturnResult(2)

	rows := [][]any{
		{int64(100_000_001), "N-Paris", "Paris", "FR", "N"},
		{int64(100_000_002), "N-Paris", "Lutece", "FR", "N"},
	}
	n, err := CopyFrom(context.Background(), mock, "placenames", nameColumns, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_DuplicateKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	columns := []string{"grid", "population", "source"}
	mock.ExpectCopyFrom(pgx.Identifier{"popstats"}, columns).
		WillReturnError(eris.New("duplicate key value violates unique constraint"))

	_, err = CopyFrom(context.Background(), mock, "popstats", columns, [][]any{{"48.9,2.3", int64(2_138_551), "G"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: COPY INTO popstats")
	assert.Contains(t, err.Error(), "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}
