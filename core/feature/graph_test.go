package feature

import (
	"strings"
	"testing"

	"github.com/blevesearch/bleve/v2/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/revcluster/core/embedding"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

type countingTokenizer struct {
	calls int
}

func (c *countingTokenizer) Tokenize(text string) []string {
	c.calls++
	return strings.Fields(strings.ToLower(text))
}

type countingStore struct {
	*embedding.MemoryStore
	calls int
}

func (c *countingStore) Lookup(token string) ([]float32, error) {
	c.calls++
	return c.MemoryStore.Lookup(token)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	mem := embedding.NewMemoryStore(3)
	require.NoError(t, mem.Add("alpha", []float32{1, 0, 0}))
	require.NoError(t, mem.Add("beta", []float32{0, 1, 0}))
	require.NoError(t, mem.Add("gamma", []float32{0, 0, 4}))
	return &countingStore{MemoryStore: mem}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewGraph_Order(t *testing.T) {
	g, err := NewRevisionGraph(&countingTokenizer{}, newStore(t), OOVSkip)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{RevisionText, RevisionWords, RevisionVectors, RevisionVectorMean}, g.Order())

	n, ok := g.Node(RevisionVectors)
	require.True(t, ok)
	assert.IsType(t, Lookup{}, n)
}

func TestNewGraph_ValidationErrors(t *testing.T) {
	tok := &countingTokenizer{}
	tests := []struct {
		name     string
		nodes    []Node
		sentinel error
	}{
		{
			name:     "empty",
			nodes:    nil,
			sentinel: ErrEmptyGraph,
		},
		{
			name: "duplicate",
			nodes: []Node{
				TextInput{ID: "a", Key: "text"},
				TextInput{ID: "a", Key: "other"},
			},
			sentinel: ErrDuplicateNode,
		},
		{
			name: "missing dependency",
			nodes: []Node{
				Tokenize{ID: "words", Source: "text", Tokenizer: tok},
			},
			sentinel: ErrMissingDependency,
		},
		{
			name: "cycle",
			nodes: []Node{
				Tokenize{ID: "a", Source: "b", Tokenizer: tok},
				Tokenize{ID: "b", Source: "c", Tokenizer: tok},
				Tokenize{ID: "c", Source: "a", Tokenizer: tok},
			},
			sentinel: ErrCyclicDependency,
		},
		{
			name: "self loop",
			nodes: []Node{
				Mean{ID: "m", Source: "m", Dim: 2},
			},
			sentinel: ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.nodes...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.True(t, rcerrors.IsConfiguration(err), "got %v", err)
		})
	}
}

// =============================================================================
// Solve Tests
// =============================================================================

func TestSolve_MemoizesSharedDependency(t *testing.T) {
	tok := &countingTokenizer{}
	store := newStore(t)
	g, err := NewRevisionGraph(tok, store, OOVSkip)
	require.NoError(t, err)

	cache := NewCache()
	inputs := RevisionInputs("Alpha beta")

	tokens, err := SolveTokens(g, RevisionWords, cache, inputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, tokens)

	mean, err := SolveVector(g, RevisionVectorMean, cache, inputs)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0}, mean)

	again, err := SolveVector(g, RevisionVectorMean, cache, inputs)
	require.NoError(t, err)
	assert.Equal(t, mean, again)

	assert.Equal(t, 1, tok.calls)
	assert.Equal(t, 2, store.calls)

	stats := cache.Stats()
	assert.Equal(t, 4, stats.Computes)
	assert.Equal(t, 2, stats.Hits)
}

func TestSolve_PreseededValueIsNotRecomputed(t *testing.T) {
	tok := &countingTokenizer{}
	g, err := NewRevisionGraph(tok, newStore(t), OOVSkip)
	require.NoError(t, err)

	cache := NewCache()
	cache.Set(RevisionWords, []string{"gamma"})

	mean, err := SolveVector(g, RevisionVectorMean, cache, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 4}, mean)
	assert.Zero(t, tok.calls)
}

func TestSolve_FreshCachePerRevision(t *testing.T) {
	tok := &countingTokenizer{}
	g, err := NewRevisionGraph(tok, newStore(t), OOVSkip)
	require.NoError(t, err)

	cache := NewCache()
	first, err := SolveVector(g, RevisionVectorMean, cache, RevisionInputs("alpha"))
	require.NoError(t, err)

	cache.Reset()
	second, err := SolveVector(g, RevisionVectorMean, cache, RevisionInputs("beta"))
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 0, 0}, first)
	assert.Equal(t, []float32{0, 1, 0}, second)
	assert.Equal(t, 2, tok.calls)
}

func TestSolve_DimensionInvariant(t *testing.T) {
	g, err := NewRevisionGraph(&countingTokenizer{}, newStore(t), OOVSkip)
	require.NoError(t, err)

	texts := map[string]string{
		"empty":     "",
		"singleton": "gamma",
		"all oov":   "delta epsilon",
		"long":      strings.Repeat("alpha beta gamma unknown ", 500),
	}
	for name, text := range texts {
		t.Run(name, func(t *testing.T) {
			vec, err := SolveVector(g, RevisionVectorMean, NewCache(), RevisionInputs(text))
			require.NoError(t, err)
			assert.Len(t, vec, 3)
		})
	}
}

func TestSolve_ZeroVectorFallback(t *testing.T) {
	g, err := NewRevisionGraph(&countingTokenizer{}, newStore(t), OOVSkip)
	require.NoError(t, err)

	cache := NewCache()
	vec, err := SolveVector(g, RevisionVectorMean, cache, RevisionInputs("nothing known here"))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, vec)
	assert.Equal(t, 3, cache.Stats().VocabularyGaps)
}

func TestSolve_OOVPolicies(t *testing.T) {
	t.Run("skip", func(t *testing.T) {
		g, err := NewRevisionGraph(&countingTokenizer{}, newStore(t), OOVSkip)
		require.NoError(t, err)
		vec, err := SolveVector(g, RevisionVectorMean, NewCache(), RevisionInputs("alpha unknown"))
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0, 0}, vec)
	})

	t.Run("zero", func(t *testing.T) {
		g, err := NewRevisionGraph(&countingTokenizer{}, newStore(t), OOVZero)
		require.NoError(t, err)
		vec, err := SolveVector(g, RevisionVectorMean, NewCache(), RevisionInputs("alpha unknown"))
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0, 0}, vec)
	})
}

func TestSolve_Errors(t *testing.T) {
	g, err := NewRevisionGraph(&countingTokenizer{}, newStore(t), OOVSkip)
	require.NoError(t, err)

	_, err = g.Solve("nope", NewCache(), nil)
	assert.ErrorIs(t, err, ErrUnknownNode)

	_, err = g.Solve(RevisionVectorMean, NewCache(), Inputs{})
	assert.True(t, rcerrors.IsConfiguration(err), "got %v", err)

	_, err = g.Solve(RevisionVectorMean, NewCache(), Inputs{TextInputKey: 42})
	assert.True(t, rcerrors.IsConfiguration(err), "got %v", err)

	_, err = SolveTokens(g, RevisionVectorMean, NewCache(), RevisionInputs("alpha"))
	assert.True(t, rcerrors.IsConfiguration(err), "got %v", err)
}

func TestParseOOVPolicy(t *testing.T) {
	p, err := ParseOOVPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OOVSkip, p)

	p, err = ParseOOVPolicy("zero")
	require.NoError(t, err)
	assert.Equal(t, "zero", p.String())

	_, err = ParseOOVPolicy("drop")
	assert.True(t, rcerrors.IsConfiguration(err))
}

// =============================================================================
// Mean Tests
// =============================================================================

func TestMeanVector(t *testing.T) {
	vec, err := MeanVector([][]float32{{1, 2}, {3, 4}, {5, 6}}, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{3, 4}, vec, 1e-6)

	vec, err = MeanVector(nil, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)

	_, err = MeanVector([][]float32{{1, 2, 3}}, 2)
	assert.True(t, rcerrors.IsConfiguration(err))
}

func TestMeanVector_DoesNotAliasInput(t *testing.T) {
	in := []float32{1, 1}
	out, err := MeanVector([][]float32{in}, 2)
	require.NoError(t, err)
	out[0] = 9
	assert.Equal(t, float32(1), in[0])
}

// =============================================================================
// Tokenizer Tests
// =============================================================================

func TestWikitextAnalyzer(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain", "The Quick brown FOX", []string{"the", "quick", "brown", "fox"}},
		{"links", "[[Computer accessibility|Accessibility]] rocks", []string{"computer", "accessibility", "accessibility", "rocks"}},
		{"tags", "before<ref name=\"x\">cite</ref>after", []string{"before", "cite", "after"}},
		{"entities", "fish &amp; chips&#160;now", []string{"fish", "chips", "now"}},
		{"urls", "see [https://example.org/wiki?a=1 the site]", []string{"see", "the", "site"}},
		{"apostrophes", "'''Bold''' fox's tail", []string{"bold", "fox's", "tail"}},
		{"numbers", "in 1984 there were b2b deals", []string{"in", "there", "were", "b2b", "deals"}},
		{"comparison is not a tag", "a < 3 > b", []string{"a", "b"}},
		{"unicode", "Ærøskøbing café", []string{"ærøskøbing", "café"}},
		{"empty", "", []string{}},
	}

	a := NewWikitextAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Tokenize(tt.text))
		})
	}
}

func TestWikitextTokenizer_Registered(t *testing.T) {
	cache := registry.NewCache()
	tok, err := cache.TokenizerNamed(WikitextTokenizerName)
	require.NoError(t, err)

	stream := tok.Tokenize([]byte("Hello World"))
	require.Len(t, stream, 2)
	assert.Equal(t, "Hello", string(stream[0].Term))
	assert.Equal(t, 2, stream[1].Position)
	assert.Equal(t, 6, stream[1].Start)
}
