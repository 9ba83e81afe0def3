package wordstats

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func newTestIndex(t *testing.T, opts Options) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "wordstats.sqlite"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() }) //nolint:errcheck
	return ix
}

func TestCatalogID(t *testing.T) {
	assert.Equal(t, "Gp", CatalogID("googlebooks", "philadelphia"))
	assert.Equal(t, "Gé", CatalogID("googlebooks", "été"))
	assert.Equal(t, "G", CatalogID("googlebooks", ""))
	assert.Equal(t, "", CatalogID("other", "word"))
}

func TestIngest_SumsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, "1gram-a.gz",
		"Apple\t1999\t100\t10",
		"apple\t2000\t150\t12",
		"apple_NOUN\t2000\t40\t3",
		"a\t2000\t999\t1",
		"area51\t2000\t500\t1",
		"bad_\t2000\t7\t1",
		"short\t2000",
		"abcdefghijklmnopqrstuvwxyzabcdefg\t2000\t5\t1",
	)
	writeCorpus(t, dir, "1gram-b.gz", "banana\t2000\t20\t2")

	ix := newTestIndex(t, Options{})
	stats, err := ix.Ingest(context.Background(), dir, "googlebooks")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, int64(9), stats.Lines)
	assert.Equal(t, int64(4), stats.Ignored)

	found, err := ix.Find(context.Background(), "apple", 0, "googlebooks")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"apple": 250}, found)

	// "bad_" keeps the underscore since the trailing POS is empty.
	found, err = ix.Find(context.Background(), "bad_", 0, "googlebooks")
	require.NoError(t, err)
	assert.Equal(t, int64(7), found["bad_"])

	found, err = ix.Find(context.Background(), "b%", 0, "googlebooks")
	require.NoError(t, err)
	assert.Contains(t, found, "banana")
}

func TestIngest_SplitBatchesAreSummedByFind(t *testing.T) {
	dir := t.TempDir()
	path := writeCorpus(t, dir, "1gram.gz",
		"river\t2000\t10",
		"rock\t2000\t10",
		"road\t2000\t10",
		"river\t2001\t5",
	)
	ix := newTestIndex(t, Options{CommitRate: 2})
	_, err := ix.Ingest(context.Background(), path, "googlebooks")
	require.NoError(t, err)

	found, err := ix.Find(context.Background(), "river", 0, "googlebooks")
	require.NoError(t, err)
	assert.Equal(t, int64(15), found["river"])
}

func TestIngest_ReplacesCatalog(t *testing.T) {
	dir := t.TempDir()
	path := writeCorpus(t, dir, "1gram.gz", "river\t2000\t10")
	ix := newTestIndex(t, Options{})
	ctx := context.Background()

	_, err := ix.Ingest(ctx, path, "googlebooks")
	require.NoError(t, err)
	_, err = ix.Ingest(ctx, path, "googlebooks")
	require.NoError(t, err)

	found, err := ix.Find(ctx, "river", 0, "googlebooks")
	require.NoError(t, err)
	assert.Equal(t, int64(10), found["river"])
}

func TestIngest_UnknownCatalog(t *testing.T) {
	ix := newTestIndex(t, Options{})
	_, err := ix.Ingest(context.Background(), "x.gz", "wikipedia")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown catalog")
}

func TestFind_Threshold(t *testing.T) {
	path := writeCorpus(t, t.TempDir(), "1gram.gz", "river\t2000\t10")
	ix := newTestIndex(t, Options{})
	_, err := ix.Ingest(context.Background(), path, "googlebooks")
	require.NoError(t, err)

	found, err := ix.Find(context.Background(), "river", 10, "googlebooks")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = ix.Find(context.Background(), "", 0, "googlebooks")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestIsCommon_LazyLookup(t *testing.T) {
	path := writeCorpus(t, t.TempDir(), "1gram.gz",
		"the\t2000\t50000000",
		"boston\t2000\t900",
	)
	ix := newTestIndex(t, Options{Threshold: 1000})
	_, err := ix.Ingest(context.Background(), path, "googlebooks")
	require.NoError(t, err)

	assert.True(t, ix.IsCommon("the"))
	assert.False(t, ix.IsCommon("boston"))
	assert.False(t, ix.IsCommon("zzz"))
	assert.Contains(t, ix.cache, "the")
}

func TestLoadCommon(t *testing.T) {
	path := writeCorpus(t, t.TempDir(), "1gram.gz",
		"the\t2000\t6000000",
		"the\t2001\t6000000",
		"house\t2000\t2000000",
		"house_NOUN\t2000\t90000000",
		"rare\t2000\t5",
	)
	ix := newTestIndex(t, Options{})
	ctx := context.Background()
	_, err := ix.Ingest(ctx, path, "googlebooks")
	require.NoError(t, err)

	require.NoError(t, ix.LoadCommon(ctx, DefaultThreshold))
	assert.True(t, ix.IsCommon("the"))
	assert.False(t, ix.IsCommon("house"))
	assert.False(t, ix.IsCommon("rare"))
}

func TestOpen_MustExist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "wordstats.sqlite")

	_, err := Open(path, Options{MustExist: true})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoWords))
	_, statErr := os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(statErr), "nothing is created")
}

func TestLoadCommon_EmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wordstats.sqlite")
	created, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, created.Close())

	ix, err := Open(path, Options{MustExist: true})
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() }) //nolint:errcheck

	n, err := ix.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	err = ix.LoadCommon(context.Background(), DefaultThreshold)
	assert.True(t, eris.Is(err, ErrNoWords))
	assert.False(t, ix.IsCommon("the"))
}
