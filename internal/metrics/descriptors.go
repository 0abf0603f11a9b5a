package metrics

import "unitsel/internal/model"

// Descriptor declares how a metric is read from a ClassResult and reduced
// to a best class.
type Descriptor struct {
	Metric model.Metric
	// Parent is set for ancillary metrics, which take the value at the
	// parent metric's chosen class instead of their own maximum.
	Parent model.Metric
	// Summary marks class-labelled selectivity scores reported in the
	// model-level summaries and highlights.
	Summary bool
	Value   func(model.ClassResult) float64
}

func (d Descriptor) Ancillary() bool {
	return d.Parent != ""
}

var descriptors = []Descriptor{
	{Metric: model.MetricROCAUC, Summary: true, Value: func(r model.ClassResult) float64 { return r.ROCAUC }},
	{Metric: model.MetricAvePrec, Summary: true, Value: func(r model.ClassResult) float64 { return r.AvePrec }},
	{Metric: model.MetricPRAUC, Summary: true, Value: func(r model.ClassResult) float64 { return r.PRAUC }},
	{Metric: model.MetricMaxInformed, Summary: true, Value: func(r model.ClassResult) float64 { return r.MaxInformed }},
	{Metric: model.MetricMaxInfoCount, Parent: model.MetricMaxInformed, Value: func(r model.ClassResult) float64 { return float64(r.MaxInfoCount) }},
	{Metric: model.MetricMaxInfoThr, Parent: model.MetricMaxInformed, Value: func(r model.ClassResult) float64 { return r.MaxInfoThr }},
	{Metric: model.MetricMaxInfoSens, Parent: model.MetricMaxInformed, Value: func(r model.ClassResult) float64 { return r.MaxInfoSens }},
	{Metric: model.MetricMaxInfoSpec, Parent: model.MetricMaxInformed, Value: func(r model.ClassResult) float64 { return r.MaxInfoSpec }},
	{Metric: model.MetricMaxInfoPrec, Parent: model.MetricMaxInformed, Value: func(r model.ClassResult) float64 { return r.MaxInfoPrec }},
	{Metric: model.MetricCCMA, Summary: true, Value: func(r model.ClassResult) float64 { return r.CCMA }},
	{Metric: model.MetricZhouPrec, Summary: true, Value: func(r model.ClassResult) float64 { return r.ZhouPrec }},
	{Metric: model.MetricZhouSelects, Parent: model.MetricZhouPrec, Value: func(r model.ClassResult) float64 { return float64(r.ZhouSelects) }},
	{Metric: model.MetricZhouThr, Parent: model.MetricZhouPrec, Value: func(r model.ClassResult) float64 { return r.ZhouThr }},
	{Metric: model.MetricCorrCoef, Summary: true, Value: func(r model.ClassResult) float64 { return r.CorrCoef }},
	{Metric: model.MetricCorrP, Parent: model.MetricCorrCoef, Value: func(r model.ClassResult) float64 { return r.CorrP }},
	{Metric: model.MetricMeans, Summary: true, Value: func(r model.ClassResult) float64 { return r.Means }},
	{Metric: model.MetricSD, Summary: true, Value: func(r model.ClassResult) float64 { return r.SD }},
	{Metric: model.MetricNZCount, Value: func(r model.ClassResult) float64 { return float64(r.NZCount) }},
	{Metric: model.MetricNZProp, Summary: true, Value: func(r model.ClassResult) float64 { return r.NZProp }},
	{Metric: model.MetricNZPrec, Summary: true, Value: func(r model.ClassResult) float64 { return r.NZPrec }},
	{Metric: model.MetricHiValCount, Value: func(r model.ClassResult) float64 { return float64(r.HiValCount) }},
	{Metric: model.MetricHiValProp, Summary: true, Value: func(r model.ClassResult) float64 { return r.HiValProp }},
	{Metric: model.MetricHiValPrec, Summary: true, Value: func(r model.ClassResult) float64 { return r.HiValPrec }},
}

// Descriptors returns the metric table in reporting order. Parents always
// precede their ancillary metrics.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

func Lookup(metric model.Metric) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Metric == metric {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ComputedMetrics lists the metrics an evaluation produces, in table order.
// Correlation is only available for one-hot outputs.
func ComputedMetrics(correlation bool) []model.Metric {
	out := make([]model.Metric, 0, len(descriptors))
	for _, d := range descriptors {
		if !correlation && (d.Metric == model.MetricCorrCoef || d.Metric == model.MetricCorrP) {
			continue
		}
		out = append(out, d.Metric)
	}
	return out
}

// SummaryMetrics filters metrics down to the class-labelled selectivity scores.
func SummaryMetrics(metrics []model.Metric) []model.Metric {
	out := make([]model.Metric, 0, len(metrics))
	for _, metric := range metrics {
		if d, ok := Lookup(metric); ok && d.Summary {
			out = append(out, metric)
		}
	}
	return out
}
