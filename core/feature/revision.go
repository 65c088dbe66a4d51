package feature

import (
	"github.com/adalundhe/revcluster/core/embedding"
)

// Well-known node IDs of the revision graph.
const (
	RevisionText       NodeID = "revision.text"
	RevisionWords      NodeID = "revision.text.words"
	RevisionVectors    NodeID = "revision.text.en_vectors"
	RevisionVectorMean NodeID = "revision.text.en_vectors_mean"
)

// TextInputKey is the Inputs key holding a revision's raw text.
const TextInputKey = "text"

// NewRevisionGraph builds text -> words -> vectors -> mean over store.
// A nil tokenizer uses NewWikitextAnalyzer.
func NewRevisionGraph(tok Tokenizer, store embedding.Store, oov OOVPolicy) (*Graph, error) {
	if tok == nil {
		tok = NewWikitextAnalyzer()
	}
	return NewGraph(
		TextInput{ID: RevisionText, Key: TextInputKey},
		Tokenize{ID: RevisionWords, Source: RevisionText, Tokenizer: tok},
		Lookup{ID: RevisionVectors, Source: RevisionWords, Store: store, OOV: oov},
		Mean{ID: RevisionVectorMean, Source: RevisionVectors, Dim: store.Dim()},
	)
}

// RevisionInputs returns the solve inputs for one revision's text.
func RevisionInputs(text string) Inputs {
	return Inputs{TextInputKey: text}
}
