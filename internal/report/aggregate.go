package report

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"unitsel/internal/metrics"
	"unitsel/internal/model"
)

type Scope string

const (
	ScopeModel    Scope = "model"
	ScopeLayer    Scope = "layer"
	ScopeTimestep Scope = "timestep"
)

type MeanMax struct {
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}

// Aggregate is the mean and max of every summary metric over one slice of
// the table.
type Aggregate struct {
	Scope  Scope                    `json:"scope"`
	Name   string                   `json:"name"`
	Values map[model.Metric]MeanMax `json:"values"`
}

// MeanMaxByScope aggregates over the whole table, then each layer when
// there is more than one, then each timestep when there is more than one.
func MeanMaxByScope(t Table) []Aggregate {
	selected := metrics.SummaryMetrics(t.Metrics)
	out := []Aggregate{aggregate(t, selected, ScopeModel, "model", nil)}

	if layers := t.Layers(); len(layers) > 1 {
		for _, layer := range layers {
			layer := layer
			out = append(out, aggregate(t, selected, ScopeLayer, layer, func(k model.UnitKey) bool {
				return k.Layer == layer
			}))
		}
	}
	if timesteps := t.Timesteps(); len(timesteps) > 1 {
		for _, ts := range timesteps {
			ts := ts
			out = append(out, aggregate(t, selected, ScopeTimestep, timestepLabel(ts), func(k model.UnitKey) bool {
				return k.Timestep == ts
			}))
		}
	}
	return out
}

func aggregate(t Table, selected []model.Metric, scope Scope, name string, keep func(model.UnitKey) bool) Aggregate {
	agg := Aggregate{Scope: scope, Name: name, Values: make(map[model.Metric]MeanMax, len(selected))}
	for _, metric := range selected {
		values := t.Values(metric, keep)
		if len(values) == 0 {
			continue
		}
		agg.Values[metric] = MeanMax{Mean: stat.Mean(values, nil), Max: floats.Max(values)}
	}
	return agg
}

func timestepLabel(ts int) string {
	if ts == model.NoTimestep {
		return "ff"
	}
	return fmt.Sprintf("ts%d", ts)
}
