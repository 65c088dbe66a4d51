// Package cluster searches candidate cluster counts for the partition of
// feature vectors with the best validity score.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

var (
	// ErrInvalidK is recorded for candidates outside [2, N).
	ErrInvalidK = errors.New("k must be at least 2 and less than the number of rows")

	// ErrNoCandidates is returned when there is nothing to try.
	ErrNoCandidates = errors.New("no candidate k")

	// ErrNoRows is returned for an empty vector matrix.
	ErrNoRows = errors.New("no feature vectors")
)

// Clusterer partitions vectors into k groups. The assignment has one label
// in [0, k) per row.
type Clusterer interface {
	Cluster(ctx context.Context, vectors [][]float32, k int) ([]int, error)
}

// Metric scores a partition; higher is better.
type Metric interface {
	Score(vectors [][]float32, assignment []int) (float64, error)
}

// =============================================================================
// Result Types
// =============================================================================

// Trial is the outcome of one candidate k. Err is set when the candidate
// could not be clustered or scored.
type Trial struct {
	K          int
	Assignment []int
	Score      float64
	Err        error
	Duration   time.Duration
}

// Result is the outcome of a search. When Selected is false no candidate
// beat the zero baseline, and BestK and BestAssignment carry no meaning.
type Result struct {
	Scores         map[int]float64
	Failures       map[int]error
	Trials         []Trial
	BestK          int
	BestScore      float64
	BestAssignment []int
	Selected       bool
}

// Best returns the selected k and its assignment, or ok=false.
func (r *Result) Best() (k int, assignment []int, ok bool) {
	if !r.Selected {
		return 0, nil, false
	}
	return r.BestK, r.BestAssignment, true
}

// Report is the serializable summary of a Result.
type Report struct {
	Scores   map[int]float64 `json:"scores"`
	Failures map[int]string  `json:"failures"`
	MaxScore *float64        `json:"max_score"`
	BestK    *int            `json:"best_k"`
	Selected bool            `json:"selected"`
}

// Report summarizes r. MaxScore and BestK are null when nothing was selected.
func (r *Result) Report() Report {
	rep := Report{
		Scores:   r.Scores,
		Failures: make(map[int]string, len(r.Failures)),
		Selected: r.Selected,
	}
	for k, err := range r.Failures {
		rep.Failures[k] = err.Error()
	}
	if r.Selected {
		k, score := r.BestK, r.BestScore
		rep.BestK, rep.MaxScore = &k, &score
	}
	return rep
}

// =============================================================================
// Selector
// =============================================================================

// Option configures a Selector.
type Option func(*Selector)

// WithParallelism runs up to p trials at once. Results are still merged in
// ascending k, so the selected k does not depend on p.
func WithParallelism(p int) Option {
	return func(s *Selector) {
		if p > 0 {
			s.parallelism = p
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// Selector tries candidate cluster counts and keeps the best.
type Selector struct {
	clusterer   Clusterer
	metric      Metric
	parallelism int
	logger      *slog.Logger
}

// NewSelector creates a selector.
func NewSelector(c Clusterer, m Metric, opts ...Option) *Selector {
	s := &Selector{clusterer: c, metric: m, parallelism: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select clusters vectors for every candidate k and, walking the candidates
// in ascending order, picks each k whose score is strictly greater than the
// running best, which starts at 0. Per-k failures, panics included, are
// recorded in the result and do not stop the search.
func (s *Selector) Select(ctx context.Context, vectors [][]float32, candidates []int) (*Result, error) {
	ks, err := validate(vectors, candidates)
	if err != nil {
		return nil, err
	}

	trials := make([]Trial, len(ks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, k := range ks {
		i, k := i, k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trials[i] = s.trial(gctx, vectors, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.merge(trials), nil
}

func (s *Selector) trial(ctx context.Context, vectors [][]float32, k int) (t Trial) {
	start := time.Now()
	t.K = k
	defer func() {
		t.Duration = time.Since(start)
	}()
	defer func() {
		if r := recover(); r != nil {
			t.Assignment, t.Score = nil, 0
			t.Err = rcerrors.Errorf(rcerrors.KindClustering, "cluster", kSubject(k), "panic: %v", r)
		}
	}()

	if k < 2 || k >= len(vectors) {
		t.Err = rcerrors.Wrap(rcerrors.KindConfiguration, "cluster", kSubject(k), ErrInvalidK)
		return t
	}

	assignment, err := s.clusterer.Cluster(ctx, vectors, k)
	if err != nil {
		t.Err = rcerrors.Wrap(rcerrors.KindClustering, "cluster", kSubject(k), err)
		return t
	}
	if err := checkAssignment(assignment, len(vectors), k); err != nil {
		t.Err = rcerrors.Wrap(rcerrors.KindClustering, "cluster", kSubject(k), err)
		return t
	}

	score, err := s.metric.Score(vectors, assignment)
	if err != nil {
		t.Err = rcerrors.Wrap(rcerrors.KindClustering, "score", kSubject(k), err)
		return t
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		t.Err = rcerrors.Errorf(rcerrors.KindClustering, "score", kSubject(k), "score is %v", score)
		return t
	}

	t.Assignment, t.Score = assignment, score
	return t
}

// merge applies the selection rule over trials in ascending k.
func (s *Selector) merge(trials []Trial) *Result {
	res := &Result{
		Scores:   make(map[int]float64, len(trials)),
		Failures: make(map[int]error),
		Trials:   trials,
	}

	for _, t := range trials {
		if t.Err != nil {
			res.Failures[t.K] = t.Err
			s.logger.Warn("candidate failed", "k", t.K, "error", t.Err)
			continue
		}
		res.Scores[t.K] = t.Score
		s.logger.Info("candidate scored", "k", t.K, "score", t.Score, "duration", t.Duration)

		if t.Score > res.BestScore {
			res.BestScore = t.Score
			res.BestK = t.K
			res.BestAssignment = t.Assignment
			res.Selected = true
		}
	}

	if res.Selected {
		s.logger.Info("cluster count selected", "k", res.BestK, "score", res.BestScore)
	} else {
		res.BestScore = 0
		s.logger.Warn("no cluster count selected", "candidates", len(trials), "failures", len(res.Failures))
	}
	return res
}

// validate checks the input and returns the candidates sorted ascending
// without duplicates.
func validate(vectors [][]float32, candidates []int) ([]int, error) {
	if len(candidates) == 0 {
		return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "select", "", ErrNoCandidates)
	}
	if len(vectors) == 0 {
		return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "select", "", ErrNoRows)
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "select", "", "feature vectors have no dimensions")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "select", fmt.Sprintf("row %d", i),
				"has %d dimensions, want %d", len(v), dim)
		}
	}

	ks := make([]int, 0, len(candidates))
	seen := make(map[int]bool, len(candidates))
	for _, k := range candidates {
		if k <= 0 {
			return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "select", kSubject(k), "k must be positive")
		}
		if !seen[k] {
			seen[k] = true
			ks = append(ks, k)
		}
	}
	sort.Ints(ks)
	return ks, nil
}

func checkAssignment(assignment []int, n, k int) error {
	if len(assignment) != n {
		return fmt.Errorf("assignment has %d labels for %d rows", len(assignment), n)
	}
	for i, c := range assignment {
		if c < 0 || c >= k {
			return fmt.Errorf("row %d has label %d outside [0, %d)", i, c, k)
		}
	}
	return nil
}

func kSubject(k int) string {
	return "k=" + strconv.Itoa(k)
}
