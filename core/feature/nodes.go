package feature

import (
	"errors"
	"fmt"

	"github.com/viterin/vek/vek32"

	"github.com/adalundhe/revcluster/core/embedding"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// =============================================================================
// TextInput
// =============================================================================

// TextInput reads a string from the solve inputs.
type TextInput struct {
	ID  NodeID
	Key string
}

func (n TextInput) Name() NodeID           { return n.ID }
func (n TextInput) Dependencies() []NodeID { return nil }

func (n TextInput) compute(_ []any, inputs Inputs, _ *Cache) (any, error) {
	raw, ok := inputs[n.Key]
	if !ok {
		return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "solve", string(n.ID), "input %q not provided", n.Key)
	}
	text, ok := raw.(string)
	if !ok {
		return nil, typeError(n.ID, "string", raw)
	}
	return text, nil
}

// =============================================================================
// Tokenize
// =============================================================================

// Tokenizer splits text into lowercase tokens.
type Tokenizer interface {
	Tokenize(text string) []string
}

// Tokenize turns the text value of Source into tokens.
type Tokenize struct {
	ID        NodeID
	Source    NodeID
	Tokenizer Tokenizer
}

func (n Tokenize) Name() NodeID           { return n.ID }
func (n Tokenize) Dependencies() []NodeID { return []NodeID{n.Source} }

func (n Tokenize) compute(deps []any, _ Inputs, _ *Cache) (any, error) {
	text, err := depValue[string](n.ID, deps, 0)
	if err != nil {
		return nil, err
	}
	tokens := n.Tokenizer.Tokenize(text)
	if tokens == nil {
		tokens = []string{}
	}
	return tokens, nil
}

// =============================================================================
// Lookup
// =============================================================================

// OOVPolicy decides what Lookup does with tokens missing from the store.
type OOVPolicy int

const (
	// OOVSkip drops unknown tokens.
	OOVSkip OOVPolicy = iota
	// OOVZero emits a zero vector per unknown token.
	OOVZero
)

func (p OOVPolicy) String() string {
	switch p {
	case OOVSkip:
		return "skip"
	case OOVZero:
		return "zero"
	default:
		return fmt.Sprintf("oov(%d)", int(p))
	}
}

// ParseOOVPolicy accepts "skip" or "zero". The empty string means skip.
func ParseOOVPolicy(s string) (OOVPolicy, error) {
	switch s {
	case "", "skip":
		return OOVSkip, nil
	case "zero":
		return OOVZero, nil
	default:
		return OOVSkip, rcerrors.Errorf(rcerrors.KindConfiguration, "parse oov policy", s, "want skip or zero")
	}
}

// Lookup maps the tokens of Source to embedding vectors. Unknown tokens are
// counted as vocabulary gaps on the cache and handled per OOV.
type Lookup struct {
	ID     NodeID
	Source NodeID
	Store  embedding.Store
	OOV    OOVPolicy
}

func (n Lookup) Name() NodeID           { return n.ID }
func (n Lookup) Dependencies() []NodeID { return []NodeID{n.Source} }

func (n Lookup) compute(deps []any, _ Inputs, cache *Cache) (any, error) {
	tokens, err := depValue[[]string](n.ID, deps, 0)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(tokens))
	gaps := 0
	for _, tok := range tokens {
		vec, err := n.Store.Lookup(tok)
		switch {
		case errors.Is(err, embedding.ErrNotFound):
			gaps++
			if n.OOV == OOVZero {
				vectors = append(vectors, make([]float32, n.Store.Dim()))
			}
		case err != nil:
			return nil, rcerrors.Wrap(rcerrors.KindIO, "lookup", tok, err)
		default:
			vectors = append(vectors, vec)
		}
	}

	cache.vocabularyGap(gaps)
	return vectors, nil
}

// =============================================================================
// Mean
// =============================================================================

// Mean averages the vectors of Source element-wise. With no vectors it
// yields a zero vector of length Dim.
type Mean struct {
	ID     NodeID
	Source NodeID
	Dim    int
}

func (n Mean) Name() NodeID           { return n.ID }
func (n Mean) Dependencies() []NodeID { return []NodeID{n.Source} }

func (n Mean) compute(deps []any, _ Inputs, _ *Cache) (any, error) {
	vectors, err := depValue[[][]float32](n.ID, deps, 0)
	if err != nil {
		return nil, err
	}
	return MeanVector(vectors, n.Dim)
}

// MeanVector returns the element-wise mean of vectors, or a zero vector of
// length dim when vectors is empty. Every vector must have length dim.
func MeanVector(vectors [][]float32, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "mean", "", "dimension %d", dim)
	}

	sum := make([]float32, dim)
	if len(vectors) == 0 {
		return sum, nil
	}

	for i, v := range vectors {
		if len(v) != dim {
			return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "mean", "",
				"vector %d has %d dimensions, want %d", i, len(v), dim)
		}
		vek32.Add_Inplace(sum, v)
	}
	vek32.MulNumber_Inplace(sum, 1/float32(len(vectors)))
	return sum, nil
}
