package report

import (
	"sort"

	"unitsel/internal/metrics"
	"unitsel/internal/model"
)

type Highlight struct {
	Key   model.UnitKey `json:"key"`
	Score float64       `json:"score"`
	Class int           `json:"class"`
	Rank  int           `json:"rank"`
}

// UnitEntry is one highlight seen from the unit side.
type UnitEntry struct {
	Metric model.Metric `json:"metric"`
	Score  float64      `json:"score"`
	Class  int          `json:"class"`
	Rank   int          `json:"rank"`
}

type UnitView struct {
	// Timesteps holds the unit's highlights keyed by timestep.
	Timesteps map[int][]UnitEntry `json:"timesteps,omitempty"`
	// TimestepInvariant lists metrics whose best class is the same at every
	// timestep of the unit.
	TimestepInvariant []model.Metric `json:"ts_invar,omitempty"`
}

type HighlightIndex struct {
	TopN      int                          `json:"top_n"`
	Threshold float64                      `json:"high_sel_thr"`
	ByMetric  map[model.Metric][]Highlight `json:"by_metric"`
	// Units is keyed by layer then unit.
	Units map[string]map[int]UnitView `json:"units"`
}

// DenseRank ranks scores in descending order. Equal scores share a rank and
// the next distinct score takes the following rank.
func DenseRank(scores []float64) []int {
	distinct := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(distinct)))
	rankOf := make(map[float64]int, len(distinct))
	rank := 0
	for i, score := range distinct {
		if i == 0 || score != distinct[i-1] {
			rank++
			rankOf[score] = rank
		}
	}
	out := make([]int, len(scores))
	for i, score := range scores {
		out[i] = rankOf[score]
	}
	return out
}

// Highlights picks, per summary metric, every row at or above threshold
// when there are more than topN of them, otherwise the topN highest rows.
// Rows with equal scores keep key order.
func Highlights(t Table, topN int, threshold float64) HighlightIndex {
	index := HighlightIndex{
		TopN:      topN,
		Threshold: threshold,
		ByMetric:  make(map[model.Metric][]Highlight),
		Units:     make(map[string]map[int]UnitView),
	}
	for _, metric := range metrics.SummaryMetrics(t.Metrics) {
		col := t.Column(metric)
		order := make([]int, len(t.Rows))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return t.Rows[order[a]].Values[col] > t.Rows[order[b]].Values[col]
		})

		above := 0
		for _, idx := range order {
			if t.Rows[idx].Values[col] >= threshold {
				above++
			}
		}
		take := above
		if above <= topN {
			take = topN
		}
		if take > len(order) {
			take = len(order)
		}

		picked := order[:take]
		scores := make([]float64, len(picked))
		for i, idx := range picked {
			scores[i] = t.Rows[idx].Values[col]
		}
		ranks := DenseRank(scores)
		highlights := make([]Highlight, len(picked))
		for i, idx := range picked {
			row := t.Rows[idx]
			highlights[i] = Highlight{Key: row.Key, Score: scores[i], Class: row.Classes[col], Rank: ranks[i]}
			view := index.unit(row.Key)
			if view.Timesteps == nil {
				view.Timesteps = make(map[int][]UnitEntry)
			}
			view.Timesteps[row.Key.Timestep] = append(view.Timesteps[row.Key.Timestep], UnitEntry{
				Metric: metric,
				Score:  scores[i],
				Class:  row.Classes[col],
				Rank:   ranks[i],
			})
			index.Units[row.Key.Layer][row.Key.Unit] = view
		}
		index.ByMetric[metric] = highlights
	}

	for unit, invariant := range TimestepInvariant(t) {
		key := model.UnitKey{Layer: unit.Layer, Unit: unit.Unit}
		view := index.unit(key)
		view.TimestepInvariant = invariant
		index.Units[unit.Layer][unit.Unit] = view
	}
	return index
}

func (h HighlightIndex) unit(key model.UnitKey) UnitView {
	if h.Units[key.Layer] == nil {
		h.Units[key.Layer] = make(map[int]UnitView)
	}
	return h.Units[key.Layer][key.Unit]
}

// LayerUnit addresses a unit across all its timesteps.
type LayerUnit struct {
	Layer string
	Unit  int
}

// TimestepInvariant returns, for each unit of a sequential model, the
// summary metrics whose best class is identical across every timestep.
// Units without invariant metrics are omitted.
func TimestepInvariant(t Table) map[LayerUnit][]model.Metric {
	classes := make(map[LayerUnit][][]int)
	order := make([]LayerUnit, 0)
	for _, row := range t.Rows {
		if !row.Key.Sequential() {
			continue
		}
		unit := LayerUnit{Layer: row.Key.Layer, Unit: row.Key.Unit}
		if _, ok := classes[unit]; !ok {
			order = append(order, unit)
		}
		classes[unit] = append(classes[unit], row.Classes)
	}

	selected := metrics.SummaryMetrics(t.Metrics)
	out := make(map[LayerUnit][]model.Metric)
	for _, unit := range order {
		rows := classes[unit]
		for _, metric := range selected {
			col := t.Column(metric)
			invariant := true
			for _, rowClasses := range rows[1:] {
				if rowClasses[col] != rows[0][col] {
					invariant = false
					break
				}
			}
			if invariant {
				out[unit] = append(out[unit], metric)
			}
		}
	}
	return out
}
