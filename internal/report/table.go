// Package report flattens best-class summaries into a typed table and
// derives the model-level, compact and highlight views from it.
package report

import (
	"errors"
	"fmt"
	"sort"

	"unitsel/internal/metrics"
	"unitsel/internal/model"
)

var (
	ErrEmptyTable          = errors.New("no unit summaries to report")
	ErrInconsistentMetrics = errors.New("unit summaries report different metrics")
)

// Row is one (layer, unit, timestep) of the table. Values and Classes are
// aligned with Table.Metrics.
type Row struct {
	Key     model.UnitKey
	Values  []float64
	Classes []int
}

type Table struct {
	Metrics []model.Metric
	Rows    []Row
}

// BuildTable flattens summaries into rows ordered by key with one column
// per metric in descriptor order.
func BuildTable(summaries []model.UnitSummary) (Table, error) {
	if len(summaries) == 0 {
		return Table{}, ErrEmptyTable
	}
	present := make(map[model.Metric]bool)
	for _, best := range summaries[0].Best {
		present[best.Metric] = true
	}
	table := Table{}
	for _, d := range metrics.Descriptors() {
		if present[d.Metric] {
			table.Metrics = append(table.Metrics, d.Metric)
		}
	}

	ordered := append([]model.UnitSummary(nil), summaries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Key.Less(ordered[j].Key)
	})
	table.Rows = make([]Row, 0, len(ordered))
	for _, summary := range ordered {
		if len(summary.Best) != len(table.Metrics) {
			return Table{}, fmt.Errorf("%s: %w", summary.Key, ErrInconsistentMetrics)
		}
		row := Row{
			Key:     summary.Key,
			Values:  make([]float64, len(table.Metrics)),
			Classes: make([]int, len(table.Metrics)),
		}
		for i, metric := range table.Metrics {
			best, ok := summary.Lookup(metric)
			if !ok {
				return Table{}, fmt.Errorf("%s: %w: missing %s", summary.Key, ErrInconsistentMetrics, metric)
			}
			row.Values[i] = best.Value
			row.Classes[i] = best.Class
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Column returns the index of metric in the table, or -1.
func (t Table) Column(metric model.Metric) int {
	for i, m := range t.Metrics {
		if m == metric {
			return i
		}
	}
	return -1
}

// Values returns one metric's column over the selected rows.
func (t Table) Values(metric model.Metric, keep func(model.UnitKey) bool) []float64 {
	col := t.Column(metric)
	if col < 0 {
		return nil
	}
	out := make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		if keep == nil || keep(row.Key) {
			out = append(out, row.Values[col])
		}
	}
	return out
}

// Layers returns the distinct layers in ascending order.
func (t Table) Layers() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, row := range t.Rows {
		if !seen[row.Key.Layer] {
			seen[row.Key.Layer] = true
			out = append(out, row.Key.Layer)
		}
	}
	sort.Strings(out)
	return out
}

// Timesteps returns the distinct timesteps in ascending order.
func (t Table) Timesteps() []int {
	seen := make(map[int]bool)
	out := make([]int, 0)
	for _, row := range t.Rows {
		if !seen[row.Key.Timestep] {
			seen[row.Key.Timestep] = true
			out = append(out, row.Key.Timestep)
		}
	}
	sort.Ints(out)
	return out
}
