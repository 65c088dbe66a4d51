package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// roundRobin labels row i with i%k.
type roundRobin struct {
	fail  map[int]error
	calls atomic.Int32
}

func (r *roundRobin) Cluster(_ context.Context, vectors [][]float32, k int) ([]int, error) {
	r.calls.Add(1)
	if err := r.fail[k]; err != nil {
		return nil, err
	}
	out := make([]int, len(vectors))
	for i := range out {
		out[i] = i % k
	}
	return out, nil
}

// fixedScores scores a partition by its label count.
type fixedScores map[int]float64

func (f fixedScores) Score(_ [][]float32, assignment []int) (float64, error) {
	k := 0
	for _, c := range assignment {
		if c+1 > k {
			k = c + 1
		}
	}
	score, ok := f[k]
	if !ok {
		return 0, errors.New("no score")
	}
	return score, nil
}

func rows(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		out[i][i%dim] = 1
	}
	return out
}

func blobs() [][]float32 {
	return [][]float32{
		{1, 0.1}, {1, 0}, {0.9, 0.1},
		{0, 1}, {0.1, 1}, {0.1, 0.9},
	}
}

// =============================================================================
// Selector Tests
// =============================================================================

func TestSelect_PicksHighestScore(t *testing.T) {
	s := NewSelector(&roundRobin{}, fixedScores{2: 0.1, 4: 0.4, 6: 0.2})

	res, err := s.Select(context.Background(), rows(10, 3), []int{6, 2, 4})
	require.NoError(t, err)

	assert.True(t, res.Selected)
	assert.Equal(t, 4, res.BestK)
	assert.InDelta(t, 0.4, res.BestScore, 1e-12)
	assert.Equal(t, []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1}, res.BestAssignment)
	assert.Equal(t, map[int]float64{2: 0.1, 4: 0.4, 6: 0.2}, res.Scores)
	assert.Empty(t, res.Failures)

	require.Len(t, res.Trials, 3)
	assert.Equal(t, []int{2, 4, 6}, []int{res.Trials[0].K, res.Trials[1].K, res.Trials[2].K})

	k, assignment, ok := res.Best()
	assert.True(t, ok)
	assert.Equal(t, 4, k)
	assert.Len(t, assignment, 10)
}

func TestSelect_TieKeepsSmallestK(t *testing.T) {
	s := NewSelector(&roundRobin{}, fixedScores{2: 0.3, 3: 0.3})

	res, err := s.Select(context.Background(), rows(6, 2), []int{3, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.BestK)
}

func TestSelect_NoPositiveScore(t *testing.T) {
	s := NewSelector(&roundRobin{}, fixedScores{2: -0.1, 3: -0.05})

	res, err := s.Select(context.Background(), rows(6, 2), []int{2, 3})
	require.NoError(t, err)

	assert.False(t, res.Selected)
	assert.Len(t, res.Scores, 2)
	_, _, ok := res.Best()
	assert.False(t, ok)

	rep := res.Report()
	assert.Nil(t, rep.BestK)
	assert.Nil(t, rep.MaxScore)

	data, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"best_k":null`)
	assert.Contains(t, string(data), `"max_score":null`)
}

func TestSelect_InvalidCandidatesAreFailures(t *testing.T) {
	clusterer := &roundRobin{}
	s := NewSelector(clusterer, fixedScores{2: 0.5})

	res, err := s.Select(context.Background(), rows(4, 2), []int{2, 4, 5, 1})
	require.NoError(t, err)

	assert.Equal(t, 2, res.BestK)
	require.Len(t, res.Failures, 3)
	for _, k := range []int{1, 4, 5} {
		assert.ErrorIs(t, res.Failures[k], ErrInvalidK, "k=%d", k)
		assert.True(t, rcerrors.IsConfiguration(res.Failures[k]))
	}
	assert.Equal(t, int32(1), clusterer.calls.Load())

	rep := res.Report()
	require.NotNil(t, rep.BestK)
	assert.Equal(t, 2, *rep.BestK)
	assert.Contains(t, rep.Failures[4], "k=4")
}

func TestSelect_ClustererAndMetricFailures(t *testing.T) {
	boom := errors.New("did not converge")
	s := NewSelector(&roundRobin{fail: map[int]error{3: boom}}, fixedScores{2: 0.2})

	res, err := s.Select(context.Background(), rows(8, 2), []int{2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, 2, res.BestK)
	assert.ErrorIs(t, res.Failures[3], boom)
	assert.True(t, rcerrors.IsClustering(res.Failures[3]))
	assert.True(t, rcerrors.IsClustering(res.Failures[4]))
}

// panicky panics while clustering k.
type panicky struct {
	roundRobin
	k int
}

func (p *panicky) Cluster(ctx context.Context, vectors [][]float32, k int) ([]int, error) {
	if k == p.k {
		var m [][]float32
		_ = m[0][:5]
	}
	return p.roundRobin.Cluster(ctx, vectors, k)
}

// panickyMetric panics when scoring k labels.
type panickyMetric struct {
	fixedScores
	k int
}

func (p panickyMetric) Score(vectors [][]float32, assignment []int) (float64, error) {
	if maxLabel(assignment)+1 == p.k {
		panic("metric blew up")
	}
	return p.fixedScores.Score(vectors, assignment)
}

func maxLabel(assignment []int) int {
	m := -1
	for _, c := range assignment {
		if c > m {
			m = c
		}
	}
	return m
}

func TestSelect_RecoversPanics(t *testing.T) {
	for _, parallelism := range []int{1, 3} {
		s := NewSelector(&panicky{k: 3}, panickyMetric{fixedScores: fixedScores{2: 0.2, 4: 0.5}, k: 5},
			WithParallelism(parallelism))

		var res *Result
		var err error
		require.NotPanics(t, func() {
			res, err = s.Select(context.Background(), rows(10, 3), []int{2, 3, 4, 5})
		})
		require.NoError(t, err)

		assert.True(t, res.Selected)
		assert.Equal(t, 4, res.BestK)
		assert.Equal(t, map[int]float64{2: 0.2, 4: 0.5}, res.Scores)

		require.Contains(t, res.Failures, 3)
		assert.True(t, rcerrors.IsClustering(res.Failures[3]))
		assert.Contains(t, res.Failures[3].Error(), "panic")
		assert.Contains(t, res.Failures[3].Error(), "k=3")

		require.Contains(t, res.Failures, 5)
		assert.Contains(t, res.Failures[5].Error(), "metric blew up")
		assert.Nil(t, res.Trials[3].Assignment)
	}
}

func TestSelect_FailedSmallerKDoesNotBlock(t *testing.T) {
	boom := errors.New("did not converge")
	s := NewSelector(&roundRobin{fail: map[int]error{2: boom}}, fixedScores{3: 0.2, 4: 0.1})

	res, err := s.Select(context.Background(), rows(9, 3), []int{2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, 3, res.BestK)
	assert.InDelta(t, 0.2, res.BestScore, 1e-12)
	assert.ErrorIs(t, res.Failures[2], boom)
}

type badLabels struct{}

func (badLabels) Cluster(_ context.Context, vectors [][]float32, k int) ([]int, error) {
	out := make([]int, len(vectors))
	out[0] = k
	return out, nil
}

func TestSelect_RejectsOutOfRangeLabels(t *testing.T) {
	s := NewSelector(badLabels{}, fixedScores{2: 1})

	res, err := s.Select(context.Background(), rows(5, 2), []int{2})
	require.NoError(t, err)
	assert.False(t, res.Selected)
	assert.Contains(t, res.Failures[2].Error(), "outside [0, 2)")
}

func TestSelect_ParallelMatchesSequential(t *testing.T) {
	scores := fixedScores{2: 0.1, 3: 0.6, 4: 0.6, 5: 0.3, 6: 0.7, 7: 0.7}
	candidates := []int{2, 3, 4, 5, 6, 7}
	vectors := rows(20, 4)

	seq, err := NewSelector(&roundRobin{}, scores).Select(context.Background(), vectors, candidates)
	require.NoError(t, err)
	par, err := NewSelector(&roundRobin{}, scores, WithParallelism(4)).Select(context.Background(), vectors, candidates)
	require.NoError(t, err)

	assert.Equal(t, 6, seq.BestK)
	assert.Equal(t, seq.BestK, par.BestK)
	assert.Equal(t, seq.Scores, par.Scores)
	assert.Equal(t, seq.BestAssignment, par.BestAssignment)
}

func TestSelect_InputValidation(t *testing.T) {
	s := NewSelector(&roundRobin{}, fixedScores{})

	tests := []struct {
		name       string
		vectors    [][]float32
		candidates []int
		want       error
	}{
		{name: "no candidates", vectors: rows(4, 2), want: ErrNoCandidates},
		{name: "no rows", candidates: []int{2}, want: ErrNoRows},
		{name: "ragged rows", vectors: [][]float32{{1, 0}, {1}}, candidates: []int{2}},
		{name: "zero dimensions", vectors: [][]float32{{}, {}}, candidates: []int{2}},
		{name: "non-positive k", vectors: rows(4, 2), candidates: []int{2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Select(context.Background(), tt.vectors, tt.candidates)
			require.Error(t, err)
			assert.True(t, rcerrors.IsConfiguration(err), "got %v", err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestSelect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSelector(&roundRobin{}, fixedScores{2: 1}).Select(ctx, rows(4, 2), []int{2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelect_KMeansSilhouette(t *testing.T) {
	s := NewSelector(NewSphericalKMeans(7), Silhouette{}, WithParallelism(2))

	res, err := s.Select(context.Background(), blobs(), []int{2, 3, 4})
	require.NoError(t, err)
	require.True(t, res.Selected)
	assert.Equal(t, 2, res.BestK)
	assert.Greater(t, res.BestScore, 0.8)
}

// =============================================================================
// Range Tests
// =============================================================================

func TestRange_Candidates(t *testing.T) {
	ks, err := Range{Min: 2, Max: 10, Step: 3}.Candidates()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 8}, ks)

	ks, err = Range{Min: 2, Max: 3, Step: 1}.Candidates()
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ks)

	_, err = Range{Min: 2, Max: 10, Step: 0}.Candidates()
	assert.True(t, rcerrors.IsConfiguration(err))

	_, err = Range{Min: 5, Max: 5, Step: 1}.Candidates()
	assert.True(t, rcerrors.IsConfiguration(err))
}

// =============================================================================
// Spherical K-Means Tests
// =============================================================================

func TestSphericalKMeans_SeparatesDirections(t *testing.T) {
	km := NewSphericalKMeans(42)

	labels, err := km.Cluster(context.Background(), blobs(), 2)
	require.NoError(t, err)
	require.Len(t, labels, 6)

	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.Equal(t, labels[3], labels[5])
	assert.NotEqual(t, labels[0], labels[3])
}

func TestSphericalKMeans_Deterministic(t *testing.T) {
	vectors := rows(12, 4)
	a, err := NewSphericalKMeans(3).Cluster(context.Background(), vectors, 3)
	require.NoError(t, err)
	b, err := NewSphericalKMeans(3).Cluster(context.Background(), vectors, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	for _, c := range a {
		assert.True(t, c >= 0 && c < 3)
	}
}

func TestSphericalKMeans_EveryClusterUsed(t *testing.T) {
	labels, err := NewSphericalKMeans(1).Cluster(context.Background(), rows(8, 4), 4)
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, c := range labels {
		seen[c] = true
	}
	assert.Len(t, seen, 4)
}

func TestSphericalKMeans_InvalidK(t *testing.T) {
	km := NewSphericalKMeans(1)
	for _, k := range []int{0, 1, 6, 7} {
		_, err := km.Cluster(context.Background(), blobs(), k)
		assert.ErrorIs(t, err, ErrInvalidK, "k=%d", k)
	}
}

func TestSphericalKMeans_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSphericalKMeans(1).Cluster(ctx, blobs(), 2)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Silhouette Tests
// =============================================================================

func TestSilhouette_Score(t *testing.T) {
	vectors := [][]float32{{0}, {1}, {10}, {11}}
	got, err := Silhouette{}.Score(vectors, []int{0, 0, 1, 1})
	require.NoError(t, err)

	want := (2*(9.5/10.5) + 2*(8.5/9.5)) / 4
	assert.InDelta(t, want, got, 1e-6)
}

func TestSilhouette_SingletonScoresZero(t *testing.T) {
	vectors := [][]float32{{0}, {1}, {10}}
	got, err := Silhouette{}.Score(vectors, []int{0, 0, 1})
	require.NoError(t, err)

	want := (0.9 + 8.0/9.0) / 3
	assert.InDelta(t, want, got, 1e-6)
}

func TestSilhouette_Errors(t *testing.T) {
	_, err := Silhouette{}.Score([][]float32{{0}, {1}}, []int{0, 0})
	assert.True(t, rcerrors.IsClustering(err))

	_, err = Silhouette{}.Score([][]float32{{0}, {1}}, []int{0})
	assert.True(t, rcerrors.IsClustering(err))

	_, err = Silhouette{}.Score([][]float32{{0}, {1}}, []int{0, -1})
	assert.True(t, rcerrors.IsClustering(err))
}
