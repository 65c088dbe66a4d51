package cluster

import (
	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// Range is a half-open candidate interval [Min, Max) walked by Step.
type Range struct {
	Min  int `yaml:"min"`
	Max  int `yaml:"max"`
	Step int `yaml:"step"`
}

// Candidates lists the k values in r.
func (r Range) Candidates() ([]int, error) {
	if r.Step <= 0 {
		return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "candidates", "",
			"step must be positive, got %d", r.Step)
	}
	if r.Min >= r.Max {
		return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "candidates", "",
			"empty range [%d, %d)", r.Min, r.Max)
	}
	ks := make([]int, 0, (r.Max-r.Min+r.Step-1)/r.Step)
	for k := r.Min; k < r.Max; k += r.Step {
		ks = append(ks, k)
	}
	return ks, nil
}
