// Package selection picks the classes worth testing for a unit when
// exhaustive class testing is too costly.
package selection

import (
	"sort"

	"unitsel/internal/metrics"
)

// TopN is how many classes each criterion contributes.
const TopN = 3

// ClassesOfInterest returns the union of the top classes by mean
// activation, by non-zero proportion and by high-value precision, in
// ascending label order. Ties favour the lower label.
func ClassesOfInterest(basics metrics.Basics) []int {
	classes := basics.Classes()
	picked := make(map[int]struct{}, 3*TopN)
	criteria := []func(metrics.ClassBasics) float64{
		func(b metrics.ClassBasics) float64 { return b.Mean },
		func(b metrics.ClassBasics) float64 { return b.NZProp },
		func(b metrics.ClassBasics) float64 { return b.HiValPrec },
	}
	for _, score := range criteria {
		for _, class := range top(classes, basics, score) {
			picked[class] = struct{}{}
		}
	}

	out := make([]int, 0, len(picked))
	for class := range picked {
		out = append(out, class)
	}
	sort.Ints(out)
	return out
}

func top(classes []int, basics metrics.Basics, score func(metrics.ClassBasics) float64) []int {
	ranked := append([]int(nil), classes...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return score(basics.ByClass[ranked[i]]) > score(basics.ByClass[ranked[j]])
	})
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}
	return ranked
}
