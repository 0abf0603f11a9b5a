package evaluator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitsel/internal/metrics"
	"unitsel/internal/model"
	"unitsel/internal/nn"
)

func separatedRecord() model.ActivationRecord {
	return model.ActivationRecord{
		Key:        model.UnitKey{Layer: "hid0", Unit: 2, Timestep: model.NoTimestep},
		Activation: model.ActivationReLU,
		Observations: []model.Observation{
			{Item: 0, Activation: 0.1, Label: 0},
			{Item: 1, Activation: 0.9, Label: 1},
			{Item: 2, Activation: 0.05, Label: 0},
			{Item: 3, Activation: 0.95, Label: 1},
		},
	}
}

type fakeOutputs struct {
	values map[int]map[int]float64
	calls  int
}

func (f *fakeOutputs) Column(_ int, class int, items []int) ([]float64, error) {
	f.calls++
	out := make([]float64, len(items))
	for i, item := range items {
		out[i] = f.values[class][item]
	}
	return out, nil
}

func TestEvaluatePerfectSeparation(t *testing.T) {
	ev := New(Options{Exhaustive: true, NumClasses: 2}, nil)
	result, summary, err := ev.Evaluate(Input{
		Record: separatedRecord(),
		Counts: model.ClassCount{0: 2, 1: 2},
	})
	require.NoError(t, err)
	require.Len(t, result.Classes, 2)
	assert.Equal(t, 4, result.Items)
	assert.Equal(t, metrics.ComputedMetrics(false), result.Metrics)

	auc, ok := summary.Lookup(model.MetricROCAUC)
	require.True(t, ok)
	assert.Equal(t, 1, auc.Class)
	assert.InDelta(t, 1.0, auc.Value, 1e-12)

	informed, _ := summary.Lookup(model.MetricMaxInformed)
	assert.Equal(t, 1, informed.Class)
	assert.InDelta(t, 1.0, informed.Value, 1e-12)

	zhou, _ := summary.Lookup(model.MetricZhouPrec)
	assert.Equal(t, 1, zhou.Class)
	assert.InDelta(t, 1.0, zhou.Value, 1e-12)
	zhouThr, _ := summary.Lookup(model.MetricZhouThr)
	assert.InDelta(t, 1.0, zhouThr.Value, 1e-12)

	class1 := result.Classes[1]
	assert.Equal(t, 2, class1.Size)
	assert.Equal(t, 1, class1.ZhouSelects)
	assert.InDelta(t, (0.9/0.95+1)/2, class1.Means, 1e-12)
	meanA := (0.9/0.95 + 1) / 2
	meanNot := (0.1/0.95 + 0.05/0.95) / 2
	assert.InDelta(t, (meanA-meanNot)/(meanA+meanNot), class1.CCMA, 1e-12)
}

func TestEvaluateTanhUsesShiftedContrastAndRawThresholds(t *testing.T) {
	record := model.ActivationRecord{
		Key:        model.UnitKey{Layer: "hid0", Unit: 0, Timestep: 1},
		Activation: model.ActivationTanh,
		Observations: []model.Observation{
			{Item: 0, Activation: -0.8, Label: 0},
			{Item: 1, Activation: 0.6, Label: 1},
			{Item: 2, Activation: -0.4, Label: 0},
			{Item: 3, Activation: 0.2, Label: 1},
		},
	}
	ev := New(Options{Exhaustive: true, NumClasses: 2}, nil)
	result, summary, err := ev.Evaluate(Input{Record: record, Counts: model.ClassCount{0: 2, 1: 2}})
	require.NoError(t, err)
	require.Len(t, result.Classes, 2)

	// Shifted by one and divided by the 1.6 peak: 1, 0.75, 0.375, 0.125.
	class1 := result.Classes[1]
	assert.InDelta(t, (0.875-0.25)/(0.875+0.25), class1.CCMA, 1e-12)
	assert.InDelta(t, 0.6, class1.ZhouThr, 1e-12)
	assert.InDelta(t, 0.2, class1.MaxInfoThr, 1e-12)
	assert.InDelta(t, 1.0, class1.MaxInformed, 1e-12)
	assert.InDelta(t, 0.4, class1.Means, 1e-12)
	assert.Equal(t, 2, class1.NZCount)
	assert.Equal(t, 1, class1.HiValCount)
	assert.Equal(t, 0, result.Classes[0].NZCount)

	zhouThr, ok := summary.Lookup(model.MetricZhouThr)
	require.True(t, ok)
	assert.InDelta(t, 0.6, zhouThr.Value, 1e-12)
	infoThr, ok := summary.Lookup(model.MetricMaxInfoThr)
	require.True(t, ok)
	assert.InDelta(t, 0.2, infoThr.Value, 1e-12)

	assert.InDelta(t, -0.1, result.Total.Means, 1e-12)
	assert.Equal(t, 2, result.Total.NZCount)
	assert.Equal(t, 1, result.Total.HiValCount)
}

func TestEvaluateSigmoidHighValueThreshold(t *testing.T) {
	record := model.ActivationRecord{
		Key:        model.UnitKey{Layer: "out", Unit: 3, Timestep: model.NoTimestep},
		Activation: model.ActivationSigmoid,
		Observations: []model.Observation{
			{Item: 0, Activation: 0.9, Label: 1},
			{Item: 1, Activation: 0.8, Label: 1},
			{Item: 2, Activation: 0.7, Label: 0},
			{Item: 3, Activation: 0.2, Label: 0},
		},
	}
	ev := New(Options{Exhaustive: true, NumClasses: 2}, nil)
	result, _, err := ev.Evaluate(Input{Record: record, Counts: model.ClassCount{0: 2, 1: 2}})
	require.NoError(t, err)
	require.Len(t, result.Classes, 2)

	// 0.7 clears the default 0.5 cut but not the sigmoid one.
	assert.Equal(t, 0, result.Classes[0].HiValCount)
	assert.Equal(t, 2, result.Classes[1].HiValCount)
	assert.InDelta(t, 1.0, result.Classes[1].HiValPrec, 1e-12)
	assert.InDelta(t, 0.85, result.Classes[1].Means, 1e-12)
	assert.Equal(t, 2, result.Total.HiValCount)
	assert.InDelta(t, 0.5, result.Total.HiValProp, 1e-12)
}

func TestEvaluateRecordsTotalBasics(t *testing.T) {
	ev := New(Options{Exhaustive: true, NumClasses: 2}, nil)
	result, _, err := ev.Evaluate(Input{Record: separatedRecord(), Counts: model.ClassCount{0: 2, 1: 2}})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total.NZCount)
	assert.InDelta(t, 1.0, result.Total.NZProp, 1e-12)
	assert.InDelta(t, (0.1+0.9+0.05+0.95)/0.95/4, result.Total.Means, 1e-12)
	assert.Equal(t, 2, result.Total.HiValCount)
}

func TestEvaluateDoesNotReorderInput(t *testing.T) {
	record := separatedRecord()
	ev := New(Options{Exhaustive: true, NumClasses: 2}, nil)
	_, _, err := ev.Evaluate(Input{Record: record, Counts: model.ClassCount{0: 2, 1: 2}})
	require.NoError(t, err)
	for i, obs := range record.Observations {
		if obs.Item != i {
			t.Fatalf("record observations were reordered: %+v", record.Observations)
		}
	}
}

func TestEvaluateFillsAbsentClasses(t *testing.T) {
	ev := New(Options{Exhaustive: true, NumClasses: 4}, nil)
	result, _, err := ev.Evaluate(Input{
		Record: separatedRecord(),
		Counts: model.ClassCount{0: 2, 1: 2},
	})
	require.NoError(t, err)
	require.Len(t, result.Classes, 4)
	absent := result.Classes[3]
	assert.Equal(t, 3, absent.Class)
	assert.Zero(t, absent.Size)
	assert.Zero(t, absent.ROCAUC)
	assert.Zero(t, absent.MaxInformed)
	assert.Zero(t, absent.Means)
	assert.InDelta(t, -1.0, absent.CCMA, 1e-12)
}

func TestEvaluateUnknownActivationFailsFast(t *testing.T) {
	record := separatedRecord()
	record.Activation = "softplus"
	_, _, err := New(Options{}, nil).Evaluate(Input{Record: record, Counts: model.ClassCount{0: 2, 1: 2}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, nn.ErrUnknownActivation))
	var unitErr *UnitError
	require.True(t, errors.As(err, &unitErr))
	assert.Equal(t, record.Key, unitErr.Key)
}

func TestEvaluateDegenerateContrast(t *testing.T) {
	record := model.ActivationRecord{
		Key:        model.UnitKey{Layer: "hid1", Unit: 0, Timestep: 3},
		Activation: model.ActivationReLU,
		Observations: []model.Observation{
			{Item: 0, Activation: 0, Label: 0},
			{Item: 1, Activation: 0, Label: 1},
		},
	}
	counts := model.ClassCount{0: 1, 1: 1}

	_, _, err := New(Options{Exhaustive: true}, nil).Evaluate(Input{Record: record, Counts: counts})
	require.Error(t, err)
	assert.True(t, errors.Is(err, metrics.ErrDegenerateContrast))
	var unitErr *UnitError
	require.True(t, errors.As(err, &unitErr))
	assert.Equal(t, model.MetricCCMA, unitErr.Metric)
	assert.Contains(t, err.Error(), "hid1/unit 0/ts3")

	result, _, err := New(Options{Exhaustive: true, CCMAZero: CCMAZeroZero}, nil).Evaluate(Input{Record: record, Counts: counts})
	require.NoError(t, err)
	for _, class := range result.Classes {
		assert.Zero(t, class.CCMA)
	}
}

func TestEvaluateCorrelationUsesOutputs(t *testing.T) {
	outputs := &fakeOutputs{values: map[int]map[int]float64{
		0: {0: 0.9, 1: 0.1, 2: 0.8, 3: 0.2},
		1: {0: 0.1, 1: 0.9, 2: 0.2, 3: 0.8},
	}}
	result, summary, err := New(Options{Exhaustive: true, NumClasses: 2}, nil).Evaluate(Input{
		Record:  separatedRecord(),
		Counts:  model.ClassCount{0: 2, 1: 2},
		Outputs: outputs,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, outputs.calls)
	assert.Equal(t, metrics.ComputedMetrics(true), result.Metrics)
	assert.Greater(t, result.Classes[1].CorrCoef, 0.9)
	assert.Less(t, result.Classes[0].CorrCoef, -0.9)

	corr, ok := summary.Lookup(model.MetricCorrCoef)
	require.True(t, ok)
	assert.Equal(t, 1, corr.Class)
	p, ok := summary.Lookup(model.MetricCorrP)
	require.True(t, ok)
	assert.Equal(t, 1, p.Class)
	assert.True(t, p.Ancillary)
}

func TestEvaluateLetters(t *testing.T) {
	record := model.ActivationRecord{
		Key:        model.UnitKey{Layer: "hid0", Unit: 1, Timestep: 0},
		Activation: model.ActivationSigmoid,
		Observations: []model.Observation{
			{Item: 0, Activation: 0.9, Label: 5, Parts: []int{0, 1}},
			{Item: 1, Activation: 0.2, Label: 6, Parts: []int{1}},
			{Item: 2, Activation: 0.1, Label: 7, Parts: []int{2}},
			{Item: 3, Activation: 0.8, Label: 8, Parts: []int{0}},
		},
	}
	outputs := &fakeOutputs{}
	result, summary, err := New(Options{Letters: true}, nil).Evaluate(Input{
		Record:       record,
		LetterCounts: model.ClassCount{0: 2, 1: 2, 2: 1},
		Outputs:      outputs,
	})
	require.NoError(t, err)
	assert.True(t, result.Letters)
	assert.Zero(t, outputs.calls)
	assert.Equal(t, metrics.ComputedMetrics(false), result.Metrics)
	require.Len(t, result.Classes, 3)

	letter0 := result.Classes[0]
	assert.Equal(t, 0, letter0.Class)
	assert.InDelta(t, 1.0, letter0.ROCAUC, 1e-12)
	assert.InDelta(t, (0.85-0.15)/(0.85+0.15), letter0.CCMA, 1e-12)
	assert.InDelta(t, 0.85, letter0.Means, 1e-12)
	assert.Equal(t, 2, letter0.HiValCount)
	assert.InDelta(t, 1.0, letter0.HiValProp, 1e-12)

	auc, _ := summary.Lookup(model.MetricROCAUC)
	assert.Equal(t, 0, auc.Class)
}

func TestEvaluateEmptyRecord(t *testing.T) {
	record := separatedRecord()
	record.Observations = nil
	_, _, err := New(Options{}, nil).Evaluate(Input{Record: record, Counts: model.ClassCount{0: 1}})
	assert.True(t, errors.Is(err, ErrEmptyRecord))
}

func TestParseCCMAZeroPolicy(t *testing.T) {
	policy, err := ParseCCMAZeroPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CCMAZeroFail, policy)
	policy, err = ParseCCMAZeroPolicy("zero")
	require.NoError(t, err)
	assert.Equal(t, CCMAZeroZero, policy)
	_, err = ParseCCMAZeroPolicy("nan")
	assert.True(t, errors.Is(err, ErrUnknownCCMAZero))
}
