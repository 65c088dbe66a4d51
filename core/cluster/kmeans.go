package cluster

import (
	"context"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// Spherical k-means defaults.
const (
	DefaultMaxIterations = 300
	DefaultRestarts      = 3
	DefaultTolerance     = 1e-4
)

// SphericalKMeans partitions rows by direction. Rows and centroids are kept
// at unit L2 norm and each row goes to the centroid with the largest dot
// product, so the objective is total cosine dissimilarity.
type SphericalKMeans struct {
	// MaxIterations caps Lloyd iterations per restart.
	MaxIterations int

	// Restarts is the number of k-means++ seedings; the lowest objective wins.
	Restarts int

	// Tolerance stops a restart once the relative objective improvement
	// drops below it.
	Tolerance float64

	// Seed makes runs reproducible. 0 seeds from the clock.
	Seed int64
}

// NewSphericalKMeans returns a clusterer with default settings.
func NewSphericalKMeans(seed int64) *SphericalKMeans {
	return &SphericalKMeans{
		MaxIterations: DefaultMaxIterations,
		Restarts:      DefaultRestarts,
		Tolerance:     DefaultTolerance,
		Seed:          seed,
	}
}

func (s *SphericalKMeans) withDefaults() SphericalKMeans {
	c := *s
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Restarts <= 0 {
		c.Restarts = DefaultRestarts
	}
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Cluster implements Clusterer.
func (s *SphericalKMeans) Cluster(ctx context.Context, vectors [][]float32, k int) ([]int, error) {
	if k < 2 || k >= len(vectors) {
		return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "cluster", kSubject(k), ErrInvalidK)
	}
	cfg := s.withDefaults()

	state := newSphericalState(vectors, k)
	best := make([]int, state.n)
	bestObjective := math.Inf(1)

	for restart := 0; restart < cfg.Restarts; restart++ {
		state.reset()
		rng := rand.New(rand.NewSource(cfg.Seed + int64(restart)))
		objective, err := state.run(ctx, cfg, rng)
		if err != nil {
			return nil, err
		}
		if objective < bestObjective {
			bestObjective = objective
			copy(best, state.assignments)
		}
	}

	if math.IsInf(bestObjective, 1) {
		return nil, rcerrors.Errorf(rcerrors.KindClustering, "cluster", kSubject(k), "k-means did not converge to a finite objective")
	}
	return best, nil
}

// =============================================================================
// State
// =============================================================================

// sphericalState holds one run's buffers, row-major and contiguous for BLAS.
type sphericalState struct {
	n, k, dim int

	vectors      []float64 // [n × dim], unit rows (zero rows stay zero)
	centroids    []float64 // [k × dim], unit rows
	newCentroids []float64 // [k × dim]
	dots         []float64 // [n × k]

	assignments []int
	counts      []int
}

func newSphericalState(vectors [][]float32, k int) *sphericalState {
	n := len(vectors)
	dim := len(vectors[0])
	s := &sphericalState{
		n:            n,
		k:            k,
		dim:          dim,
		vectors:      make([]float64, n*dim),
		centroids:    make([]float64, k*dim),
		newCentroids: make([]float64, k*dim),
		dots:         make([]float64, n*k),
		assignments:  make([]int, n),
		counts:       make([]int, k),
	}
	for i, v := range vectors {
		row := s.row(s.vectors, i)
		for d, x := range v {
			row[d] = float64(x)
		}
		normalize(row)
	}
	return s
}

func (s *sphericalState) row(data []float64, i int) []float64 {
	return data[i*s.dim : (i+1)*s.dim]
}

func (s *sphericalState) vec(v []float64) blas64.Vector {
	return blas64.Vector{N: len(v), Inc: 1, Data: v}
}

func (s *sphericalState) reset() {
	clear(s.centroids)
	clear(s.newCentroids)
	clear(s.dots)
	clear(s.assignments)
	clear(s.counts)
}

func (s *sphericalState) run(ctx context.Context, cfg SphericalKMeans, rng *rand.Rand) (float64, error) {
	s.seed(rng)

	prev := math.Inf(1)
	objective := prev
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		s.computeDots()
		objective = s.assign()
		if math.IsNaN(objective) {
			return math.Inf(1), nil
		}

		if !math.IsInf(prev, 1) {
			improvement := prev - objective
			if improvement >= 0 && improvement <= cfg.Tolerance*math.Max(objective, 1e-12) {
				return objective, nil
			}
		}
		prev = objective

		s.updateCentroids()
		s.reseedEmpty()
	}

	s.computeDots()
	return s.assign(), nil
}

// seed picks initial centroids with k-means++ using cosine dissimilarity.
func (s *sphericalState) seed(rng *rand.Rand) {
	first := rng.Intn(s.n)
	copy(s.row(s.centroids, 0), s.row(s.vectors, first))

	dist := make([]float64, s.n)
	for i := range dist {
		dist[i] = math.MaxFloat64
	}
	dots := make([]float64, s.n)

	for c := 1; c < s.k; c++ {
		blas64.Gemv(blas.NoTrans, 1,
			blas64.General{Rows: s.n, Cols: s.dim, Stride: s.dim, Data: s.vectors},
			s.vec(s.row(s.centroids, c-1)),
			0, s.vec(dots),
		)

		var total float64
		for i := range dist {
			d := 1 - dots[i]
			if d < 0 {
				d = 0
			}
			if d < dist[i] {
				dist[i] = d
			}
			total += dist[i]
		}

		pick := rng.Intn(s.n)
		if total > 0 {
			target := rng.Float64() * total
			var cum float64
			pick = s.n - 1
			for i, d := range dist {
				cum += d
				if cum >= target {
					pick = i
					break
				}
			}
		}
		copy(s.row(s.centroids, c), s.row(s.vectors, pick))
	}
}

// computeDots fills dots = vectors × centroidsᵀ.
func (s *sphericalState) computeDots() {
	blas64.Gemm(blas.NoTrans, blas.Trans, 1,
		blas64.General{Rows: s.n, Cols: s.dim, Stride: s.dim, Data: s.vectors},
		blas64.General{Rows: s.k, Cols: s.dim, Stride: s.dim, Data: s.centroids},
		0,
		blas64.General{Rows: s.n, Cols: s.k, Stride: s.k, Data: s.dots},
	)
}

// assign moves each row to its most similar centroid and returns the
// objective, the summed cosine dissimilarity.
func (s *sphericalState) assign() float64 {
	clear(s.counts)
	var objective float64
	for i := 0; i < s.n; i++ {
		row := s.dots[i*s.k : (i+1)*s.k]
		best, bestDot := 0, row[0]
		for j := 1; j < s.k; j++ {
			if row[j] > bestDot {
				best, bestDot = j, row[j]
			}
		}
		s.assignments[i] = best
		s.counts[best]++
		objective += 1 - bestDot
	}
	return objective
}

// updateCentroids sets each centroid to the normalized sum of its rows.
func (s *sphericalState) updateCentroids() {
	clear(s.newCentroids)
	for i := 0; i < s.n; i++ {
		blas64.Axpy(1, s.vec(s.row(s.vectors, i)), s.vec(s.row(s.newCentroids, s.assignments[i])))
	}
	for j := 0; j < s.k; j++ {
		if s.counts[j] > 0 {
			normalize(s.row(s.newCentroids, j))
		}
	}
	s.centroids, s.newCentroids = s.newCentroids, s.centroids
}

// reseedEmpty moves each empty centroid onto the row least similar to its
// own centroid.
func (s *sphericalState) reseedEmpty() {
	for j := 0; j < s.k; j++ {
		if s.counts[j] > 0 {
			continue
		}
		worst, worstDot := -1, math.Inf(1)
		for i := 0; i < s.n; i++ {
			if s.counts[s.assignments[i]] <= 1 {
				continue
			}
			d := s.dots[i*s.k+s.assignments[i]]
			if d < worstDot {
				worst, worstDot = i, d
			}
		}
		if worst < 0 {
			continue
		}
		s.counts[s.assignments[worst]]--
		s.assignments[worst] = j
		s.counts[j] = 1
		copy(s.row(s.centroids, j), s.row(s.vectors, worst))
	}
}

func normalize(v []float64) {
	vec := blas64.Vector{N: len(v), Inc: 1, Data: v}
	norm := blas64.Nrm2(vec)
	if norm > 0 {
		blas64.Scal(1/norm, vec)
	}
}
