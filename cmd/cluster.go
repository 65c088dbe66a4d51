package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/revcluster/core/cluster"
	rcerrors "github.com/adalundhe/revcluster/core/errors"
	"github.com/adalundhe/revcluster/core/observation"
	"github.com/adalundhe/revcluster/core/vectorize"
)

// ErrNoSelection is returned when no candidate k scored above zero. No
// assignment file is written in that case.
var ErrNoSelection = errors.New("no cluster count selected")

// =============================================================================
// Cluster Command Flags
// =============================================================================

var (
	clKRange   []int
	clParallel int
	clSeed     int64
	clRestarts int
	clMaxIter  int
	clScores   string
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <indir> <outfile>",
	Short: "Pick a cluster count and assign every observation",
	Long: `Load every observation file in indir, cluster the feature vectors with
spherical k-means for each candidate k, and keep the k with the highest
silhouette score. Candidates come from -k min,max,step (max exclusive).

Candidates are compared in ascending order; a k is selected only when its
score is strictly above the best so far, which starts at zero. When no k qualifies, no assignment file is written and the
command fails.`,
	Args: cobra.ExactArgs(2),
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)

	clusterCmd.Flags().IntSliceVarP(&clKRange, "k-range", "k", nil, "Candidate k as min,max,step")
	clusterCmd.Flags().IntVar(&clParallel, "parallel", 1, "Candidates clustered concurrently")
	clusterCmd.Flags().Int64Var(&clSeed, "seed", 0, "Random seed for k-means (0 = time based)")
	clusterCmd.Flags().IntVar(&clRestarts, "restarts", cluster.DefaultRestarts, "k-means restarts per candidate")
	clusterCmd.Flags().IntVar(&clMaxIter, "max-iter", cluster.DefaultMaxIterations, "k-means iterations per restart")
	clusterCmd.Flags().StringVar(&clScores, "scores", "", "Write per-k scores to this JSON file")
}

func applyClusterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	c := &settings.Cluster
	if flags.Changed("k-range") {
		if len(clKRange) != 3 {
			return rcerrors.Errorf(rcerrors.KindConfiguration, "parse flags", "-k", "want min,max,step, got %v", clKRange)
		}
		c.K = cluster.Range{Min: clKRange[0], Max: clKRange[1], Step: clKRange[2]}
	}
	if flags.Changed("parallel") {
		c.Parallelism = clParallel
	}
	if flags.Changed("seed") {
		c.Seed = clSeed
	}
	if flags.Changed("restarts") {
		c.Restarts = clRestarts
	}
	if flags.Changed("max-iter") {
		c.MaxIterations = clMaxIter
	}
	if flags.Changed("scores") {
		c.Scores = clScores
	}
	return nil
}

// =============================================================================
// Run
// =============================================================================

// clusterOutput is the run summary.
type clusterOutput struct {
	RunID        string         `json:"run_id"`
	Files        int            `json:"files"`
	Observations int            `json:"observations"`
	Report       cluster.Report `json:"report"`
	Output       string         `json:"output,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

func runCluster(cmd *cobra.Command, args []string) error {
	indir, outfile := args[0], args[1]

	if err := applyClusterFlags(cmd); err != nil {
		return err
	}
	if err := settings.ValidateCluster(); err != nil {
		return err
	}
	candidates, err := settings.Cluster.K.Candidates()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runID := newRunID()
	log := logger.With("run_id", runID)

	files, err := vectorize.Discover(indir, vectorize.Selection{Include: []string{"*.json"}})
	if err != nil {
		return err
	}
	files = withoutPaths(files, outfile, settings.Cluster.Scores)
	if len(files) == 0 {
		return rcerrors.Errorf(rcerrors.KindConfiguration, "discover observations", indir, "no .json files")
	}

	observations, err := loadObservations(files)
	if err != nil {
		return err
	}
	log.Info("observations loaded", "files", len(files), "observations", len(observations), "candidates", candidates)

	res, err := selectK(ctx, observations, candidates)
	if err != nil {
		return err
	}

	out := clusterOutput{
		RunID:        runID,
		Files:        len(files),
		Observations: len(observations),
		Report:       res.Report(),
	}

	if path := settings.Cluster.Scores; path != "" {
		if err := writeFileAtomic(path, func(w io.Writer) error { return writeJSON(w, out.Report) }); err != nil {
			return rcerrors.Wrap(rcerrors.KindIO, "write scores", path, err)
		}
	}

	k, assignment, ok := res.Best()
	if ok {
		if err := writeAssignments(outfile, observations, assignment); err != nil {
			return err
		}
		out.Output = outfile
		log.Info("assignments written", "k", k, "output", outfile)
	}
	out.Duration = time.Since(start)

	if jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		printCluster(cmd.OutOrStdout(), out)
	}

	if !ok {
		return rcerrors.Wrap(rcerrors.KindClustering, "select", indir, ErrNoSelection)
	}
	return nil
}

// loadObservations reads every file in order, dropping the optional text
// fields to keep only what clustering and the output need.
func loadObservations(files []string) ([]observation.Observation, error) {
	var all []observation.Observation
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, rcerrors.Wrap(rcerrors.KindIO, "open observations", path, err)
		}

		rd := observation.NewReader[observation.Observation](f)
		for rd.Next() {
			obs := rd.Value()
			if len(obs.FeatureVector) == 0 {
				f.Close()
				return nil, rcerrors.Errorf(rcerrors.KindParse, "read observations", path,
					"record %d (rev_id %d) has no feature_vector", len(all), obs.RevID)
			}
			obs.Text, obs.TokenizedText = nil, nil
			all = append(all, obs)
		}
		err = rd.Err()
		f.Close()
		if err != nil {
			return nil, rcerrors.Wrap(rcerrors.KindParse, "read observations", path, err)
		}
	}
	return all, nil
}

// withoutPaths drops the files that name the same path as any of skip.
func withoutPaths(files []string, skip ...string) []string {
	drop := make(map[string]bool, len(skip))
	for _, p := range skip {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			drop[abs] = true
		}
	}

	kept := files[:0]
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil && drop[abs] {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func selectK(ctx context.Context, observations []observation.Observation, candidates []int) (*cluster.Result, error) {
	vectors := make([][]float32, len(observations))
	for i, obs := range observations {
		vectors[i] = obs.FeatureVector
	}

	selector := cluster.NewSelector(settings.KMeans(), cluster.Silhouette{},
		cluster.WithParallelism(settings.Cluster.Parallelism),
		cluster.WithLogger(logger),
	)
	return selector.Select(ctx, vectors, candidates)
}

func writeAssignments(path string, observations []observation.Observation, assignment []int) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		out := observation.NewArrayWriter[observation.Assignment](w)
		for i, obs := range observations {
			if err := out.Write(observation.AssignmentFor(obs, assignment[i])); err != nil {
				return err
			}
		}
		return out.Close()
	})
	if err != nil {
		return rcerrors.Wrap(rcerrors.KindIO, "write assignments", path, err)
	}
	return nil
}

func printCluster(w io.Writer, out clusterOutput) {
	p := newPalette(w)
	fmt.Fprintln(w, p.paint(colorBold+colorCyan, "Cluster"))
	field(w, p, "Run", out.RunID)
	field(w, p, "Files", out.Files)
	field(w, p, "Observations", out.Observations)

	ks := make([]int, 0, len(out.Report.Scores)+len(out.Report.Failures))
	for k := range out.Report.Scores {
		ks = append(ks, k)
	}
	for k := range out.Report.Failures {
		ks = append(ks, k)
	}
	sort.Ints(ks)

	for _, k := range ks {
		label := fmt.Sprintf("k=%d", k)
		if msg, failed := out.Report.Failures[k]; failed {
			fmt.Fprintf(w, "  %-6s %s\n", label, p.paint(colorRed, msg))
			continue
		}
		line := fmt.Sprintf("%.4f", out.Report.Scores[k])
		if out.Report.BestK != nil && *out.Report.BestK == k {
			line = p.paint(colorGreen, line+" *")
		}
		fmt.Fprintf(w, "  %-6s %s\n", label, line)
	}

	if out.Report.Selected {
		field(w, p, "Best k", *out.Report.BestK)
		field(w, p, "Output", out.Output)
	} else {
		field(w, p, "Best k", p.paint(colorYellow, "none"))
	}
	field(w, p, "Duration", formatDuration(out.Duration))
}
