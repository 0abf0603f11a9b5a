package metrics

import (
	"errors"
	"math"
)

var ErrDegenerateContrast = errors.New("class-conditional mean contrast undefined: class and complement means sum to zero")

// CCMA returns (mean_a - mean_not_a) / (mean_a + mean_not_a). An empty
// group contributes a mean of 0.
func CCMA(values []float64, labels []int, class int) (float64, error) {
	var sumA, sumNot float64
	var nA, nNot int
	for i, label := range labels {
		if label == class {
			sumA += values[i]
			nA++
		} else {
			sumNot += values[i]
			nNot++
		}
	}
	meanA := 0.0
	if nA > 0 {
		meanA = sumA / float64(nA)
	}
	meanNot := 0.0
	if nNot > 0 {
		meanNot = sumNot / float64(nNot)
	}
	den := meanA + meanNot
	if den == 0 || math.IsNaN(den) {
		return 0, ErrDegenerateContrast
	}
	return (meanA - meanNot) / den, nil
}
