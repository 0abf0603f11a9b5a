package nn

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"

	"unitsel/internal/model"
)

var ErrUnknownActivation = errors.New("unknown activation function")

const (
	defaultHighValueThreshold = 0.5
	sigmoidHighValueThreshold = 0.75
)

// ParseActivation accepts the activation names emitted by common frameworks
// (relu, ReLu, Relu, sigmoid, tanh).
func ParseActivation(name string) (model.ActivationFunction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "relu":
		return model.ActivationReLU, nil
	case "sigmoid":
		return model.ActivationSigmoid, nil
	case "tanh":
		return model.ActivationTanh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownActivation, name)
	}
}

// Policy is the activation-function-dependent normalization and threshold
// policy for one record. It is computed once and passed to every metric.
type Policy struct {
	Function           model.ActivationFunction
	HighValueThreshold float64
	// BipolarLabels selects -1/1 one-vs-rest labels instead of 0/1.
	BipolarLabels bool

	normalize     bool
	shift         float64
	contrastNorm  bool
	selectiveNorm bool
}

func PolicyFor(fn model.ActivationFunction) (Policy, error) {
	switch fn {
	case model.ActivationReLU:
		return Policy{
			Function:           fn,
			HighValueThreshold: defaultHighValueThreshold,
			normalize:          true,
			contrastNorm:       true,
			selectiveNorm:      true,
		}, nil
	case model.ActivationTanh:
		return Policy{
			Function:           fn,
			HighValueThreshold: defaultHighValueThreshold,
			BipolarLabels:      true,
			normalize:          true,
			shift:              1,
			contrastNorm:       true,
		}, nil
	case model.ActivationSigmoid:
		return Policy{
			Function:           fn,
			HighValueThreshold: sigmoidHighValueThreshold,
		}, nil
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownActivation, fn)
	}
}

// Normalize rescales raw activations to [0, 1]. ReLU divides by the maximum,
// tanh shifts by +1 first, sigmoid is returned unmodified. A non-positive
// maximum (a silent unit) maps every value to 0.
func (p Policy) Normalize(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if !p.normalize {
		copy(out, raw)
		return out
	}
	if len(raw) == 0 {
		return out
	}
	for i, value := range raw {
		out[i] = value + p.shift
	}
	peak := floats.Max(out)
	if peak <= 0 {
		for i := range out {
			out[i] = 0
		}
		return out
	}
	for i := range out {
		out[i] = Sat(out[i]/peak, 1, 0)
	}
	return out
}

// Selective picks the activation view used by the class basics, ROC,
// top-percentile and correlation measures.
func (p Policy) Selective(raw, normalized []float64) []float64 {
	if p.selectiveNorm {
		return normalized
	}
	return raw
}

// Contrast picks the activation view used by the class-conditional mean
// contrast, which needs a non-negative range.
func (p Policy) Contrast(raw, normalized []float64) []float64 {
	if p.contrastNorm {
		return normalized
	}
	return raw
}

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}
