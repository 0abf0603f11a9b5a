package metrics

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// Curve is a receiver operating characteristic curve with thresholds in
// decreasing order. The first point is (0, 0) at a threshold above the
// highest score.
type Curve struct {
	FPR        []float64
	TPR        []float64
	Thresholds []float64
}

type ROCResult struct {
	AUC          float64
	AvePrec      float64
	PRAUC        float64
	MaxInformed  float64
	MaxInfoCount int
	MaxInfoThr   float64
	MaxInfoSens  float64
	MaxInfoSpec  float64
	MaxInfoPrec  float64
	// Precision and Recall are the per-threshold sequences behind AvePrec and PRAUC.
	Precision []float64
	Recall    []float64
}

// Binarize converts class labels to one-vs-rest targets: 1 for class and
// 0 (or -1 when bipolar) for every other label.
func Binarize(labels []int, class int, bipolar bool) []float64 {
	negative := 0.0
	if bipolar {
		negative = -1
	}
	out := make([]float64, len(labels))
	for i, label := range labels {
		if label == class {
			out[i] = 1
		} else {
			out[i] = negative
		}
	}
	return out
}

// ROCCurve computes the curve over every distinct score. Targets equal to 1
// are positives. An item is predicted positive when its score is at or
// above the threshold.
func ROCCurve(targets, scores []float64) Curve {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	var positives, negatives float64
	for _, y := range targets {
		if y == 1 {
			positives++
		} else {
			negatives++
		}
	}

	curve := Curve{
		FPR:        []float64{0},
		TPR:        []float64{0},
		Thresholds: []float64{0},
	}
	var tp, fp float64
	for i, idx := range order {
		if targets[idx] == 1 {
			tp++
		} else {
			fp++
		}
		if i+1 < len(order) && scores[order[i+1]] == scores[idx] {
			continue
		}
		curve.TPR = append(curve.TPR, rate(tp, positives))
		curve.FPR = append(curve.FPR, rate(fp, negatives))
		curve.Thresholds = append(curve.Thresholds, scores[idx])
	}
	if len(curve.Thresholds) > 1 {
		curve.Thresholds[0] = curve.Thresholds[1] + 1
	}
	return curve
}

// ROC computes the ROC-derived family for one class. classSize and notSize
// scale the curve rates back to confusion counts. A class without members
// yields the zero result.
func ROC(labels []int, scores []float64, class, classSize, notSize int, bipolar bool) ROCResult {
	if classSize <= 0 || len(scores) == 0 {
		return ROCResult{}
	}
	targets := Binarize(labels, class, bipolar)
	hasPositive := false
	for _, y := range targets {
		if y == 1 {
			hasPositive = true
			break
		}
	}
	if !hasPositive {
		return ROCResult{}
	}

	curve := ROCCurve(targets, scores)
	n := len(curve.TPR)
	precision := make([]float64, n)
	recall := make([]float64, n)
	informed := make([]float64, n)
	avePrec := 0.0
	for i := range curve.TPR {
		tp := float64(classSize) * curve.TPR[i]
		fp := float64(notSize) * curve.FPR[i]
		if above := tp + fp; above != 0 {
			precision[i] = tp / above
		}
		recall[i] = tp / float64(classSize)
		prevRecall := 0.0
		if i > 0 {
			prevRecall = recall[i-1]
		}
		avePrec += precision[i] * (recall[i] - prevRecall)
		informed[i] = curve.TPR[i] + (1 - curve.FPR[i]) - 1
	}

	result := ROCResult{
		AUC:       integrate.Trapezoidal(curve.FPR, curve.TPR),
		AvePrec:   avePrec,
		PRAUC:     integrate.Trapezoidal(recall, precision),
		Precision: precision,
		Recall:    recall,
	}

	best := floats.MaxIdx(informed)
	if informed[best] <= 0 {
		return result
	}
	result.MaxInformed = informed[best]
	result.MaxInfoCount = best
	result.MaxInfoThr = curve.Thresholds[best]
	result.MaxInfoSens = curve.TPR[best]
	result.MaxInfoSpec = 1 - curve.FPR[best]
	result.MaxInfoPrec = precision[best]
	return result
}

func rate(count, total float64) float64 {
	if total == 0 {
		return 0
	}
	return count / total
}
