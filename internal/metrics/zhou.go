package metrics

const (
	zhouLargeCutoffPerMille = 5
	zhouSmallItems          = 100
	zhouMediumItems         = 20000
	zhouMediumSelects       = 100
)

type ZhouResult struct {
	Prec    float64
	Selects int
	Thr     float64
}

// ZhouSelects returns how many of the most active items the top-percentile
// precision inspects: 1 below 100 items, 100 below 20000 items, otherwise
// ceil(0.5% of n).
func ZhouSelects(n int) int {
	switch {
	case n <= 0:
		return 0
	case n < zhouSmallItems:
		return 1
	case n < zhouMediumItems:
		return zhouMediumSelects
	default:
		return (n*zhouLargeCutoffPerMille + 999) / 1000
	}
}

// Zhou computes top-percentile precision. values and labels must already be
// ordered by descending activation.
func Zhou(values []float64, labels []int, class int) ZhouResult {
	k := ZhouSelects(len(values))
	if k == 0 {
		return ZhouResult{}
	}
	hits := 0
	for _, label := range labels[:k] {
		if label == class {
			hits++
		}
	}
	return ZhouResult{
		Prec:    float64(hits) / float64(k),
		Selects: k,
		Thr:     values[k-1],
	}
}
