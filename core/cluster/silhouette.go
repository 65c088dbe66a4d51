package cluster

import (
	"github.com/viterin/vek/vek32"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// Silhouette scores a partition by the mean silhouette coefficient under
// Euclidean distance. Scores lie in [-1, 1]; higher is better. Rows in
// singleton clusters contribute 0.
type Silhouette struct{}

// Score implements Metric.
func (Silhouette) Score(vectors [][]float32, assignment []int) (float64, error) {
	n := len(vectors)
	if len(assignment) != n {
		return 0, rcerrors.Errorf(rcerrors.KindClustering, "silhouette", "",
			"assignment has %d labels for %d rows", len(assignment), n)
	}

	k := 0
	for _, c := range assignment {
		if c < 0 {
			return 0, rcerrors.Errorf(rcerrors.KindClustering, "silhouette", "", "negative label %d", c)
		}
		if c+1 > k {
			k = c + 1
		}
	}
	sizes := make([]int, k)
	for _, c := range assignment {
		sizes[c]++
	}
	nonEmpty := 0
	for _, size := range sizes {
		if size > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return 0, rcerrors.Errorf(rcerrors.KindClustering, "silhouette", "",
			"need at least 2 non-empty clusters, got %d", nonEmpty)
	}

	// sums[i*k+c] is the summed distance from row i to cluster c.
	sums := make([]float64, n*k)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := float64(vek32.Distance(vectors[i], vectors[j]))
			sums[i*k+assignment[j]] += d
			sums[j*k+assignment[i]] += d
		}
	}

	var total float64
	for i := 0; i < n; i++ {
		own := assignment[i]
		if sizes[own] <= 1 {
			continue
		}
		a := sums[i*k+own] / float64(sizes[own]-1)

		b := -1.0
		for c := 0; c < k; c++ {
			if c == own || sizes[c] == 0 {
				continue
			}
			mean := sums[i*k+c] / float64(sizes[c])
			if b < 0 || mean < b {
				b = mean
			}
		}

		denom := a
		if b > denom {
			denom = b
		}
		if denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(n), nil
}
