// Package reduce collapses per-class selectivity results to the best class
// per metric.
package reduce

import (
	"errors"
	"fmt"

	"unitsel/internal/metrics"
	"unitsel/internal/model"
)

var (
	ErrUnknownMetric = errors.New("unknown metric")
	ErrMissingParent = errors.New("ancillary metric parent was never computed")
	ErrNoClasses     = errors.New("no classes were evaluated")
)

// BestClass reduces a unit's per-class results. Independent metrics take
// the maximum over classes with ties going to the first class in
// iteration order. Ancillary metrics take the value at their parent's
// chosen class.
func BestClass(result model.UnitResult) (model.UnitSummary, error) {
	if len(result.Classes) == 0 {
		return model.UnitSummary{}, fmt.Errorf("%s: %w", result.Key, ErrNoClasses)
	}

	computed := make(map[model.Metric]bool, len(result.Metrics))
	for _, metric := range result.Metrics {
		if _, ok := metrics.Lookup(metric); !ok {
			return model.UnitSummary{}, fmt.Errorf("%s: %w: %s", result.Key, ErrUnknownMetric, metric)
		}
		computed[metric] = true
	}

	chosen := make(map[model.Metric]int, len(result.Metrics))
	best := make(map[model.Metric]model.BestClass, len(result.Metrics))
	for _, d := range metrics.Descriptors() {
		if !computed[d.Metric] || d.Ancillary() {
			continue
		}
		idx := 0
		value := d.Value(result.Classes[0])
		for i := 1; i < len(result.Classes); i++ {
			if v := d.Value(result.Classes[i]); v > value {
				idx, value = i, v
			}
		}
		chosen[d.Metric] = idx
		best[d.Metric] = model.BestClass{Metric: d.Metric, Value: value, Class: result.Classes[idx].Class}
	}

	for _, d := range metrics.Descriptors() {
		if !computed[d.Metric] || !d.Ancillary() {
			continue
		}
		idx, ok := chosen[d.Parent]
		if !ok {
			return model.UnitSummary{}, fmt.Errorf("%s: %w: %s requires %s", result.Key, ErrMissingParent, d.Metric, d.Parent)
		}
		class := result.Classes[idx]
		best[d.Metric] = model.BestClass{Metric: d.Metric, Value: d.Value(class), Class: class.Class, Ancillary: true}
	}

	summary := model.UnitSummary{
		VersionedRecord: result.VersionedRecord,
		Key:             result.Key,
		Best:            make([]model.BestClass, 0, len(best)),
	}
	for _, d := range metrics.Descriptors() {
		if b, ok := best[d.Metric]; ok {
			summary.Best = append(summary.Best, b)
		}
	}
	return summary, nil
}
