package embedding_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/revcluster/core/embedding"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

const textVectors = `3 4
alpha 1 0 0 0
beta 0 1 0 0
gamma 0.5 0.5 0.25 -1
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func assertVocabulary(t *testing.T, store embedding.Store) {
	t.Helper()
	assert.Equal(t, 4, store.Dim())

	vec, err := store.Lookup("gamma")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.25, -1}, vec, 1e-6)

	vec, err = store.Lookup("alpha")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)

	_, err = store.Lookup("delta")
	assert.ErrorIs(t, err, embedding.ErrNotFound)
}

// =============================================================================
// Text Format Tests
// =============================================================================

func TestLoadText_WithHeader(t *testing.T) {
	store, err := embedding.LoadText(strings.NewReader(textVectors))
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())
	assertVocabulary(t, store)
}

func TestLoadText_Headerless(t *testing.T) {
	body := strings.SplitN(textVectors, "\n", 2)[1]
	store, err := embedding.LoadText(strings.NewReader(body))
	require.NoError(t, err)
	assertVocabulary(t, store)
}

func TestLoadText_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"ragged row", "a 1 2\nb 1\n"},
		{"bad float", "a 1 x\n"},
		{"token only", "a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := embedding.LoadText(strings.NewReader(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadTextFile_Errors(t *testing.T) {
	_, err := embedding.LoadTextFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, rcerrors.IsIO(err), "got %v", err)

	path := writeFile(t, "bad.txt", "a 1 2\nb 1\n")
	_, err = embedding.LoadTextFile(path)
	assert.True(t, rcerrors.IsParse(err), "got %v", err)
}

func TestMemoryStore_FirstVectorWins(t *testing.T) {
	store := embedding.NewMemoryStore(2)
	require.NoError(t, store.Add("a", []float32{1, 2}))
	require.NoError(t, store.Add("a", []float32{3, 4}))
	assert.Error(t, store.Add("b", []float32{1}))

	vec, err := store.Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, 1, store.Len())
}

// =============================================================================
// Binary Format Tests
// =============================================================================

func TestBinary_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, embedding.WriteBinary(f, 4, map[string][]float32{
		"alpha": {1, 0, 0, 0},
		"beta":  {0, 1, 0, 0},
		"gamma": {0.5, 0.5, 0.25, -1},
	}))
	require.NoError(t, f.Close())

	store, err := embedding.OpenBinary(path)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, 3, store.Len())
	assertVocabulary(t, store)
}

func TestBinary_Truncated(t *testing.T) {
	path := writeFile(t, "short.bin", "2 4\nalpha \x00\x00")
	_, err := embedding.OpenBinary(path)
	assert.True(t, rcerrors.IsParse(err), "got %v", err)
}

// =============================================================================
// SQLite Tests
// =============================================================================

func TestSQLite_ImportAndLookup(t *testing.T) {
	src := writeFile(t, "vectors.txt", textVectors)
	db := filepath.Join(t.TempDir(), "vectors.db")

	n, err := embedding.ImportText(context.Background(), src, db)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	store, err := embedding.OpenSQLite(db, 0)
	require.NoError(t, err)
	defer store.Close()

	assertVocabulary(t, store)

	// Second lookup may be served from the shared cache.
	vec, err := store.Lookup("gamma")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.25, -1}, vec, 1e-6)
}

func TestSQLite_ImportRejectsRaggedFile(t *testing.T) {
	src := writeFile(t, "bad.txt", "2 3\na 1 2 3\nb 1 2\n")
	db := filepath.Join(t.TempDir(), "bad.db")

	_, err := embedding.ImportText(context.Background(), src, db)
	assert.True(t, rcerrors.IsParse(err), "got %v", err)
}

func TestSQLite_MissingDatabase(t *testing.T) {
	_, err := embedding.OpenSQLite(filepath.Join(t.TempDir(), "none.db"), 0)
	assert.True(t, rcerrors.IsIO(err), "got %v", err)
}

// =============================================================================
// Open / Format Tests
// =============================================================================

func TestOpen_AutoDetect(t *testing.T) {
	text := writeFile(t, "vectors.vec", textVectors)
	store, err := embedding.Open(embedding.Config{Path: text})
	require.NoError(t, err)
	assertVocabulary(t, store)
	require.NoError(t, store.Close())

	db := filepath.Join(t.TempDir(), "vectors.sqlite")
	_, err = embedding.ImportText(context.Background(), text, db)
	require.NoError(t, err)

	store, err = embedding.Open(embedding.Config{Path: db, Format: embedding.FormatAuto, SharedCacheBytes: 1 << 20})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &embedding.SQLiteStore{}, store)
	assertVocabulary(t, store)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]embedding.Format{
		"":        embedding.FormatAuto,
		"auto":    embedding.FormatAuto,
		"TEXT":    embedding.FormatText,
		" binary": embedding.FormatBinary,
		"sqlite":  embedding.FormatSQLite,
	} {
		got, err := embedding.ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := embedding.ParseFormat("hdf5")
	assert.True(t, rcerrors.IsConfiguration(err), "got %v", err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, embedding.FormatBinary, embedding.DetectFormat("GoogleNews.bin"))
	assert.Equal(t, embedding.FormatSQLite, embedding.DetectFormat("v.db"))
	assert.Equal(t, embedding.FormatSQLite, embedding.DetectFormat("v.SQLITE3"))
	assert.Equal(t, embedding.FormatText, embedding.DetectFormat("glove.6B.300d.txt"))
}

// =============================================================================
// LRU Tests
// =============================================================================

type countingStore struct {
	embedding.Store
	calls map[string]int
}

func (c *countingStore) Lookup(token string) ([]float32, error) {
	c.calls[token]++
	return c.Store.Lookup(token)
}

func TestLRU_CachesHitsAndMisses(t *testing.T) {
	base, err := embedding.LoadText(strings.NewReader(textVectors))
	require.NoError(t, err)
	counting := &countingStore{Store: base, calls: map[string]int{}}

	store, err := embedding.NewLRU(counting, 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.Lookup("alpha")
		require.NoError(t, err)
		_, err = store.Lookup("unknown")
		assert.ErrorIs(t, err, embedding.ErrNotFound)
	}

	assert.Equal(t, 1, counting.calls["alpha"])
	assert.Equal(t, 1, counting.calls["unknown"])
	hits, misses := store.Stats()
	assert.Equal(t, int64(4), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, 4, store.Dim())
}

func TestLRU_Evicts(t *testing.T) {
	base, err := embedding.LoadText(strings.NewReader(textVectors))
	require.NoError(t, err)
	counting := &countingStore{Store: base, calls: map[string]int{}}

	store, err := embedding.NewLRU(counting, 1)
	require.NoError(t, err)

	for _, tok := range []string{"alpha", "beta", "alpha"} {
		_, err := store.Lookup(tok)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, counting.calls["alpha"])
	require.NoError(t, store.Close())
}
