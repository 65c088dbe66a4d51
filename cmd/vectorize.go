package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/revcluster/core/batch"
	"github.com/adalundhe/revcluster/core/embedding"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
	"github.com/adalundhe/revcluster/core/vectorize"
)

// =============================================================================
// Vectorize Command Flags
// =============================================================================

var (
	vecWorkers    int
	vecDebugPages int
	vecSaveText   bool
	vecSaveTokens bool
	vecInclude    []string
	vecExclude    []string
	vecOOV        string
	vecFormat     string
)

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize <indir> <outdir> <embedding>",
	Short: "Convert revision dumps to feature vectors",
	Long: `Convert compressed revision dumps to JSON arrays of observations, one
output file per input file. Each observation carries the mean word embedding
of the revision text.

Input files are matched by --include and --exclude against their base names.
Files are processed concurrently; a failing file does not stop the others.`,
	Args: cobra.ExactArgs(3),
	RunE: runVectorize,
}

func init() {
	rootCmd.AddCommand(vectorizeCmd)

	vectorizeCmd.Flags().IntVarP(&vecWorkers, "workers", "w", batch.DefaultWorkers, "Files processed concurrently")
	vectorizeCmd.Flags().IntVarP(&vecDebugPages, "debug", "d", 0, "Stop each file after this many pages (0 = all)")
	vectorizeCmd.Flags().BoolVar(&vecSaveText, "save-text", false, "Keep the raw revision text in each observation")
	vectorizeCmd.Flags().BoolVar(&vecSaveTokens, "save-tokens", false, "Keep the token list in each observation")
	vectorizeCmd.Flags().StringSliceVar(&vecInclude, "include", nil, "Input file patterns to include")
	vectorizeCmd.Flags().StringSliceVar(&vecExclude, "exclude", nil, "Input file patterns to exclude")
	vectorizeCmd.Flags().StringVar(&vecOOV, "oov", "skip", "Policy for tokens missing from the embedding (skip, zero)")
	vectorizeCmd.Flags().StringVar(&vecFormat, "format", "auto", "Embedding format (auto, text, binary, sqlite)")
}

// applyVectorizeFlags copies explicitly set flags over the loaded config.
func applyVectorizeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	v := &settings.Vectorize
	if flags.Changed("workers") {
		v.Workers = vecWorkers
	}
	if flags.Changed("debug") {
		v.MaxPages = vecDebugPages
	}
	if flags.Changed("save-text") {
		v.SaveText = vecSaveText
	}
	if flags.Changed("save-tokens") {
		v.SaveTokens = vecSaveTokens
	}
	if flags.Changed("include") {
		v.Include = vecInclude
	}
	if flags.Changed("exclude") {
		v.Exclude = vecExclude
	}
	if flags.Changed("oov") {
		v.OOV = vecOOV
	}
	if flags.Changed("format") {
		settings.Embedding.Format = vecFormat
	}
}

// =============================================================================
// Run
// =============================================================================

// vectorizeOutput is the run summary.
type vectorizeOutput struct {
	RunID          string        `json:"run_id"`
	Files          int           `json:"files"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Pages          int           `json:"pages"`
	Records        int           `json:"records"`
	VocabularyGaps int           `json:"vocabulary_gaps"`
	Duration       time.Duration `json:"duration"`
	Failures       []fileFailure `json:"failures,omitempty"`
	Outputs        []string      `json:"outputs"`
}

type fileFailure struct {
	Input string `json:"input"`
	Error string `json:"error"`
}

func runVectorize(cmd *cobra.Command, args []string) error {
	indir, outdir, embPath := args[0], args[1], args[2]

	applyVectorizeFlags(cmd)
	if err := settings.ValidateVectorize(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputs, err := vectorize.Discover(indir, settings.Selection())
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return rcerrors.Errorf(rcerrors.KindConfiguration, "discover inputs", indir, "no files match %v", settings.Vectorize.Include)
	}
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return rcerrors.Wrap(rcerrors.KindIO, "create output dir", outdir, err)
	}

	store, err := embedding.Open(settings.StoreConfig(embPath))
	if err != nil {
		return err
	}
	defer store.Close()

	runID := newRunID()
	log := logger.With("run_id", runID)
	log.Info("vectorize started", "inputs", len(inputs), "workers", settings.Vectorize.Workers, "dim", store.Dim())

	res := vectorizeFiles(ctx, store, vectorize.Tasks(inputs, outdir))

	out := summarizeVectorize(runID, res)
	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printVectorize(cmd.OutOrStdout(), out)
	}
	return res.Err()
}

func vectorizeFiles(ctx context.Context, store embedding.Store, tasks []batch.Task) *batch.Result {
	pipeline := vectorize.NewPipeline(store, settings.PipelineOptions(), logger)
	processor := batch.NewProcessor(batch.Config{
		Workers: settings.Vectorize.Workers,
		Progress: func(p batch.Progress) {
			logger.Info("progress", "processed", p.Processed, "total", p.Total, "failed", p.Failed, "file", p.Current)
		},
	}, pipeline.Job(), logger)
	return processor.Run(ctx, tasks)
}

func summarizeVectorize(runID string, res *batch.Result) vectorizeOutput {
	out := vectorizeOutput{
		RunID:          runID,
		Files:          len(res.Files),
		Succeeded:      res.Succeeded(),
		Failed:         res.Failed,
		Pages:          res.Totals.Pages,
		Records:        res.Totals.Records,
		VocabularyGaps: res.Totals.VocabularyGaps,
		Duration:       res.Duration,
		Outputs:        []string{},
	}
	for _, f := range res.Files {
		if f.Err != nil {
			out.Failures = append(out.Failures, fileFailure{Input: f.Task.Input, Error: f.Err.Error()})
			continue
		}
		out.Outputs = append(out.Outputs, f.Task.Output)
	}
	return out
}

func printVectorize(w io.Writer, out vectorizeOutput) {
	p := newPalette(w)
	fmt.Fprintln(w, p.paint(colorBold+colorCyan, "Vectorize"))
	field(w, p, "Run", out.RunID)
	field(w, p, "Files", fmt.Sprintf("%d (%s, %s)", out.Files,
		p.paint(colorGreen, fmt.Sprintf("%d ok", out.Succeeded)),
		failedLabel(p, out.Failed)))
	field(w, p, "Pages", out.Pages)
	field(w, p, "Records", out.Records)
	field(w, p, "Gaps", out.VocabularyGaps)
	field(w, p, "Duration", formatDuration(out.Duration))

	for _, f := range out.Failures {
		fmt.Fprintf(w, "  %s %s\n", p.paint(colorRed, "x"), f.Error)
	}
}

func failedLabel(p palette, n int) string {
	s := fmt.Sprintf("%d failed", n)
	if n == 0 {
		return s
	}
	return p.paint(colorRed, s)
}
