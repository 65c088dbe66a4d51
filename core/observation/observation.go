// Package observation defines the per-revision output records and streams
// them to and from JSON arrays.
package observation

import (
	"io"

	"github.com/adalundhe/revcluster/core/dump"
)

// Observation is one revision's feature record.
type Observation struct {
	Title         string    `json:"title"`
	PageID        int64     `json:"page_id"`
	RevID         int64     `json:"rev_id"`
	Redirect      bool      `json:"redirect"`
	FeatureVector []float32 `json:"feature_vector"`
	Text          *string   `json:"text,omitempty"`
	TokenizedText *[]string `json:"tokenized_text,omitempty"`
}

// Assignment is one revision's final cluster label.
type Assignment struct {
	Title             string `json:"title"`
	PageID            int64  `json:"page_id"`
	RevID             int64  `json:"rev_id"`
	Redirect          bool   `json:"redirect"`
	ClusterAssignment int    `json:"cluster_assignment"`
}

// AssignmentFor labels obs with cluster.
func AssignmentFor(obs Observation, cluster int) Assignment {
	return Assignment{
		Title:             obs.Title,
		PageID:            obs.PageID,
		RevID:             obs.RevID,
		Redirect:          obs.Redirect,
		ClusterAssignment: cluster,
	}
}

// EmitOptions selects the optional observation fields.
type EmitOptions struct {
	SaveText   bool
	SaveTokens bool
}

// Emitter builds observations and writes them as one JSON array.
type Emitter struct {
	opts EmitOptions
	out  *ArrayWriter[Observation]
}

// NewEmitter writes observations to w.
func NewEmitter(w io.Writer, opts EmitOptions) *Emitter {
	return &Emitter{opts: opts, out: NewArrayWriter[Observation](w)}
}

// Build assembles the observation for rec without writing it.
func (e *Emitter) Build(rec dump.Record, vector []float32, tokens []string) Observation {
	obs := Observation{
		Title:         rec.Page.Title,
		PageID:        rec.Page.ID,
		RevID:         rec.Revision.ID,
		Redirect:      rec.Page.Redirect,
		FeatureVector: vector,
	}
	if e.opts.SaveText {
		text := rec.Revision.Text
		obs.Text = &text
	}
	if e.opts.SaveTokens {
		toks := tokens
		if toks == nil {
			toks = []string{}
		}
		obs.TokenizedText = &toks
	}
	return obs
}

// Emit builds and writes the observation for rec.
func (e *Emitter) Emit(rec dump.Record, vector []float32, tokens []string) error {
	return e.out.Write(e.Build(rec, vector, tokens))
}

// Count returns the number of observations written.
func (e *Emitter) Count() int {
	return e.out.Count()
}

// Close terminates the array.
func (e *Emitter) Close() error {
	return e.out.Close()
}
