package nn

import (
	"errors"
	"math"
	"testing"

	"unitsel/internal/model"
)

func TestParseActivationAliases(t *testing.T) {
	for _, name := range []string{"relu", "ReLu", "Relu", " RELU "} {
		fn, err := ParseActivation(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if fn != model.ActivationReLU {
			t.Fatalf("expected relu for %q, got=%s", name, fn)
		}
	}
	if _, err := ParseActivation("softplus"); !errors.Is(err, ErrUnknownActivation) {
		t.Fatalf("expected unknown activation error, got=%v", err)
	}
}

func TestPolicyForUnknownActivation(t *testing.T) {
	if _, err := PolicyFor("gelu"); !errors.Is(err, ErrUnknownActivation) {
		t.Fatalf("expected unknown activation error, got=%v", err)
	}
}

func TestNormalizeReLUDividesByMax(t *testing.T) {
	policy, err := PolicyFor(model.ActivationReLU)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	got := policy.Normalize([]float64{0, 2, 4, 1})
	want := []float64{0, 0.5, 1, 0.25}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected normalized value at %d: got=%f want=%f", i, got[i], want[i])
		}
	}
}

func TestNormalizeTanhShiftsThenDivides(t *testing.T) {
	policy, err := PolicyFor(model.ActivationTanh)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	got := policy.Normalize([]float64{-1, 0, 0.6})
	want := []float64{0, 1 / 1.6, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("unexpected normalized value at %d: got=%f want=%f", i, got[i], want[i])
		}
	}
	if !policy.BipolarLabels {
		t.Fatal("expected tanh to use bipolar labels")
	}
}

func TestNormalizeSigmoidUnmodified(t *testing.T) {
	policy, err := PolicyFor(model.ActivationSigmoid)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	raw := []float64{0.2, 0.9, 0.4}
	got := policy.Normalize(raw)
	for i := range raw {
		if got[i] != raw[i] {
			t.Fatalf("expected sigmoid activation unmodified at %d: got=%f", i, got[i])
		}
	}
	if policy.HighValueThreshold != 0.75 {
		t.Fatalf("expected sigmoid high-value threshold 0.75, got=%f", policy.HighValueThreshold)
	}
	if &policy.Selective(raw, got)[0] != &raw[0] {
		t.Fatal("expected sigmoid selective view to use raw activations")
	}
}

func TestNormalizeSilentUnitIsZero(t *testing.T) {
	policy, err := PolicyFor(model.ActivationReLU)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	for i, value := range policy.Normalize([]float64{0, 0, 0}) {
		if value != 0 {
			t.Fatalf("expected zero at %d, got=%f", i, value)
		}
	}
}

func TestNormalizedRangeIsUnitInterval(t *testing.T) {
	inputs := map[model.ActivationFunction][]float64{
		model.ActivationReLU: {0, 0.3, 12.5, 7, 0.001},
		model.ActivationTanh: {-0.99, -0.2, 0, 0.45, 0.97},
	}
	for fn, raw := range inputs {
		policy, err := PolicyFor(fn)
		if err != nil {
			t.Fatalf("policy %s: %v", fn, err)
		}
		for i, value := range policy.Normalize(raw) {
			if value < 0 || value > 1 {
				t.Fatalf("%s value %d out of range: %f", fn, i, value)
			}
		}
	}
}
