package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"unitsel/internal/model"
)

// ClassBasics are the class-conditional descriptive statistics of one class.
type ClassBasics struct {
	Mean       float64 `json:"mean"`
	SD         float64 `json:"sd"`
	NZCount    int     `json:"nz_count"`
	NZProp     float64 `json:"nz_prop"`
	NZPrec     float64 `json:"nz_prec"`
	HiValCount int     `json:"hi_val_count"`
	HiValProp  float64 `json:"hi_val_prop"`
	HiValPrec  float64 `json:"hi_val_prec"`
}

type Basics struct {
	ByClass map[int]ClassBasics `json:"by_class"`
	Total   ClassBasics         `json:"total"`
}

// Classes returns the labels covered by the basics in ascending order.
func (b Basics) Classes() []int {
	classes := make([]int, 0, len(b.ByClass))
	for class := range b.ByClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	return classes
}

// ClassSelBasics computes the basics for every label in classes and every
// label observed in labels. Labels without observations are zero-filled.
// Proportions divide by the class sizes in counts.
func ClassSelBasics(values []float64, labels []int, counts model.ClassCount, classes []int, hiValThr float64) Basics {
	groups := make(map[int][]float64, len(classes))
	for _, class := range classes {
		groups[class] = nil
	}
	for i, label := range labels {
		groups[label] = append(groups[label], values[i])
	}

	nzTotal := countAbove(values, 0)
	hiTotal := countAbove(values, hiValThr)

	out := Basics{ByClass: make(map[int]ClassBasics, len(groups))}
	for class, group := range groups {
		mean, sd := meanStd(group)
		nz := countAbove(group, 0)
		hi := countAbove(group, hiValThr)
		out.ByClass[class] = ClassBasics{
			Mean:       mean,
			SD:         sd,
			NZCount:    nz,
			NZProp:     ratio(nz, counts.Size(class)),
			NZPrec:     ratio(nz, nzTotal),
			HiValCount: hi,
			HiValProp:  ratio(hi, counts.Size(class)),
			HiValPrec:  ratio(hi, hiTotal),
		}
	}

	out.Total = TotalBasics(values, hiValThr)
	return out
}

// TotalBasics computes the basics of the pseudo-class holding every item.
func TotalBasics(values []float64, hiValThr float64) ClassBasics {
	nz := countAbove(values, 0)
	hi := countAbove(values, hiValThr)
	mean, sd := meanStd(values)
	return ClassBasics{
		Mean:       mean,
		SD:         sd,
		NZCount:    nz,
		NZProp:     ratio(nz, len(values)),
		NZPrec:     ratio(nz, nz),
		HiValCount: hi,
		HiValProp:  ratio(hi, len(values)),
		HiValPrec:  ratio(hi, hi),
	}
}

// meanStd returns the mean and sample standard deviation, with zero for
// groups too small to define them.
func meanStd(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	mean, sd := stat.MeanStdDev(values, nil)
	if math.IsNaN(sd) {
		sd = 0
	}
	return mean, sd
}

func countAbove(values []float64, thr float64) int {
	n := 0
	for _, v := range values {
		if v > thr {
			n++
		}
	}
	return n
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
