package reduce

import (
	"errors"
	"testing"

	"unitsel/internal/metrics"
	"unitsel/internal/model"
)

func sampleResult() model.UnitResult {
	return model.UnitResult{
		Key:     model.UnitKey{Layer: "hid0", Unit: 3, Timestep: 1},
		Metrics: metrics.ComputedMetrics(false),
		Classes: []model.ClassResult{
			{Class: 0, MaxInformed: 0.4, MaxInfoThr: 0.2, MaxInfoSens: 0.5, ZhouPrec: 1, ZhouSelects: 1, ZhouThr: 0.9, Means: 0.3},
			{Class: 1, MaxInformed: 0.8, MaxInfoThr: 0.6, MaxInfoSens: 0.9, ZhouPrec: 0, ZhouSelects: 1, ZhouThr: 0.7, Means: 0.5},
			{Class: 2, MaxInformed: 0.8, MaxInfoThr: 0.1, MaxInfoSens: 0.3, ZhouPrec: 1, ZhouSelects: 1, ZhouThr: 0.4, Means: 0.1},
		},
	}
}

func TestBestClassPicksMaxWithFirstTie(t *testing.T) {
	summary, err := BestClass(sampleResult())
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	best, ok := summary.Lookup(model.MetricMaxInformed)
	if !ok {
		t.Fatal("expected max_informed in summary")
	}
	if best.Class != 1 || best.Value != 0.8 {
		t.Fatalf("expected first tied class 1 with 0.8, got=%+v", best)
	}
	zhou, _ := summary.Lookup(model.MetricZhouPrec)
	if zhou.Class != 0 {
		t.Fatalf("expected zhou tie to favour class 0, got=%+v", zhou)
	}
}

func TestBestClassAncillaryFollowsParent(t *testing.T) {
	summary, err := BestClass(sampleResult())
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	thr, _ := summary.Lookup(model.MetricMaxInfoThr)
	if thr.Value != 0.6 || thr.Class != 1 || !thr.Ancillary {
		t.Fatalf("expected threshold of class 1, got=%+v", thr)
	}
	sens, _ := summary.Lookup(model.MetricMaxInfoSens)
	if sens.Value != 0.9 {
		t.Fatalf("expected sensitivity of parent class (0.9), got=%+v", sens)
	}
	zhouThr, _ := summary.Lookup(model.MetricZhouThr)
	if zhouThr.Value != 0.9 || zhouThr.Class != 0 {
		t.Fatalf("expected zhou threshold of class 0, got=%+v", zhouThr)
	}
}

func TestBestClassKeepsDescriptorOrder(t *testing.T) {
	summary, err := BestClass(sampleResult())
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	want := metrics.ComputedMetrics(false)
	if len(summary.Best) != len(want) {
		t.Fatalf("unexpected summary size: got=%d want=%d", len(summary.Best), len(want))
	}
	for i := range want {
		if summary.Best[i].Metric != want[i] {
			t.Fatalf("unexpected metric at %d: got=%s want=%s", i, summary.Best[i].Metric, want[i])
		}
	}
	if _, ok := summary.Lookup(model.MetricCorrCoef); ok {
		t.Fatal("correlation must not be reported when not computed")
	}
}

func TestBestClassMissingParentFailsLoudly(t *testing.T) {
	result := sampleResult()
	result.Metrics = []model.Metric{model.MetricROCAUC, model.MetricMaxInfoThr}
	_, err := BestClass(result)
	if !errors.Is(err, ErrMissingParent) {
		t.Fatalf("expected missing parent error, got=%v", err)
	}
}

func TestBestClassUnknownMetric(t *testing.T) {
	result := sampleResult()
	result.Metrics = append(result.Metrics, "entropy")
	if _, err := BestClass(result); !errors.Is(err, ErrUnknownMetric) {
		t.Fatalf("expected unknown metric error, got=%v", err)
	}
}

func TestBestClassNoClasses(t *testing.T) {
	result := sampleResult()
	result.Classes = nil
	if _, err := BestClass(result); !errors.Is(err, ErrNoClasses) {
		t.Fatalf("expected no classes error, got=%v", err)
	}
}
