// Package vectorize turns archive files into observation files: it reads
// revisions, solves their feature vectors and streams the observations out.
package vectorize

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adalundhe/revcluster/core/batch"
	"github.com/adalundhe/revcluster/core/dump"
	"github.com/adalundhe/revcluster/core/embedding"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
	"github.com/adalundhe/revcluster/core/feature"
	"github.com/adalundhe/revcluster/core/observation"
)

// DefaultProgressEvery is the record interval of progress log lines.
const DefaultProgressEvery = 10

// Options configures a Pipeline.
type Options struct {
	// MaxPages stops each file after this many pages. 0 means no limit.
	MaxPages int

	// Emit selects the optional observation fields.
	Emit observation.EmitOptions

	// OOV is the policy for tokens missing from the embedding.
	OOV feature.OOVPolicy

	// LRUSize bounds the per-file token cache. 0 uses embedding.DefaultLRUSize.
	LRUSize int

	// ProgressEvery logs progress every n records. 0 uses DefaultProgressEvery.
	ProgressEvery int

	// Tokenizer overrides the wikitext analyzer.
	Tokenizer feature.Tokenizer
}

// Pipeline vectorizes one archive file at a time. A Pipeline may serve many
// concurrent Run calls; each call builds its own cache, graph and output.
type Pipeline struct {
	opts   Options
	store  embedding.Store
	tok    feature.Tokenizer
	logger *slog.Logger
}

// NewPipeline creates a pipeline over a shared embedding store.
func NewPipeline(store embedding.Store, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	tok := opts.Tokenizer
	if tok == nil {
		tok = feature.NewWikitextAnalyzer()
	}
	return &Pipeline{opts: opts, store: store, tok: tok, logger: logger}
}

// Job adapts the pipeline to batch.Processor.
func (p *Pipeline) Job() batch.Job {
	return func(ctx context.Context, task batch.Task) (batch.Stats, error) {
		return p.Run(ctx, task.Input, task.Output)
	}
}

// Run vectorizes input into output. The output is written to a temporary
// file and renamed on success; on failure no output file is left behind.
func (p *Pipeline) Run(ctx context.Context, input, output string) (batch.Stats, error) {
	var stats batch.Stats

	src, err := dump.Open(input)
	if err != nil {
		return stats, err
	}
	defer src.Close()

	tmp := output + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return stats, rcerrors.Wrap(rcerrors.KindIO, "create output", output, err)
	}

	stats, err = p.Process(ctx, src, dst, input)
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = rcerrors.Wrap(rcerrors.KindIO, "close output", output, cerr)
	}
	if err != nil {
		os.Remove(tmp)
		return stats, err
	}

	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return stats, rcerrors.Wrap(rcerrors.KindIO, "rename output", output, err)
	}
	return stats, nil
}

// Process streams observations for every revision in src to dst.
func (p *Pipeline) Process(ctx context.Context, src io.Reader, dst io.Writer, input string) (batch.Stats, error) {
	var stats batch.Stats

	lookup, err := embedding.NewLRU(p.store, p.opts.LRUSize)
	if err != nil {
		return stats, rcerrors.Wrap(rcerrors.KindConfiguration, "create token cache", input, err)
	}
	defer lookup.Close()

	graph, err := feature.NewRevisionGraph(p.tok, lookup, p.opts.OOV)
	if err != nil {
		return stats, err
	}

	rd := dump.NewReader(src, dump.WithMaxPages(p.opts.MaxPages))
	emitter := observation.NewEmitter(dst, p.opts.Emit)
	cache := feature.NewCache()

	for rd.Next() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec := rd.Record()
		cache.Reset()
		inputs := feature.RevisionInputs(rec.Revision.Text)

		vec, err := feature.SolveVector(graph, feature.RevisionVectorMean, cache, inputs)
		if err != nil {
			return stats, rcerrors.Wrap(rcerrors.KindUnknown, "vectorize", input, err)
		}

		var tokens []string
		if p.opts.Emit.SaveTokens {
			tokens, err = feature.SolveTokens(graph, feature.RevisionWords, cache, inputs)
			if err != nil {
				return stats, rcerrors.Wrap(rcerrors.KindUnknown, "vectorize", input, err)
			}
		}

		if err := emitter.Emit(rec, vec, tokens); err != nil {
			return stats, rcerrors.Wrap(rcerrors.KindIO, "write observation", input, err)
		}

		stats.Records++
		stats.VocabularyGaps += cache.Stats().VocabularyGaps
		if stats.Records%p.opts.ProgressEvery == 0 {
			p.logger.Debug("progress", "input", input, "records", stats.Records, "pages", rd.Pages())
		}
	}
	stats.Pages = rd.Pages()

	if err := rd.Err(); err != nil {
		return stats, rcerrors.Wrap(rcerrors.KindParse, "read archive", input, err)
	}
	if err := emitter.Close(); err != nil {
		return stats, rcerrors.Wrap(rcerrors.KindIO, "write observation", input, err)
	}

	hits, misses := lookup.Stats()
	p.logger.Debug("token cache", "input", input, "hits", hits, "misses", misses)
	return stats, nil
}

// Tasks pairs each input with its output path under outdir.
func Tasks(inputs []string, outdir string) []batch.Task {
	tasks := make([]batch.Task, len(inputs))
	for i, in := range inputs {
		tasks[i] = batch.Task{Input: in, Output: filepath.Join(outdir, OutputName(in))}
	}
	return tasks
}
