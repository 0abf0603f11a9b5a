package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

type CorrelationResult struct {
	Coef float64
	P    float64
}

// ClassCorrelation returns Pearson's r between unit activations and the
// model's output probability for a class, with a two-tailed p-value rounded
// to three places. Undefined correlations (fewer than two items or zero
// variance) yield r=0, p=1.
func ClassCorrelation(acts, outputs []float64) CorrelationResult {
	n := len(acts)
	if n < 2 || len(outputs) != n {
		return CorrelationResult{Coef: 0, P: 1}
	}
	r := stat.Correlation(acts, outputs, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return CorrelationResult{Coef: 0, P: 1}
	}
	r = math.Max(-1, math.Min(1, r))
	return CorrelationResult{Coef: r, P: round3(pearsonP(r, n))}
}

func pearsonP(r float64, n int) float64 {
	df := float64(n - 2)
	if df <= 0 {
		return 1
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*dist.CDF(-math.Abs(t)))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
