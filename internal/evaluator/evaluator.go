// Package evaluator computes the per-class selectivity battery for one unit.
package evaluator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"unitsel/internal/metrics"
	"unitsel/internal/model"
	"unitsel/internal/nn"
	"unitsel/internal/reduce"
	"unitsel/internal/selection"
	"unitsel/internal/storage"
)

// NotThisLetter labels items that do not contain the letter under test in
// letter mode. It cannot collide with a real letter id.
const NotThisLetter = -1

var (
	ErrEmptyRecord     = errors.New("activation record has no observations")
	ErrMissingCounts   = errors.New("class counts missing")
	ErrOutputsMismatch = errors.New("output probabilities do not cover record items")
	ErrUnknownCCMAZero = errors.New("unknown ccma zero policy")
)

// CCMAZeroPolicy decides what a zero contrast denominator does.
type CCMAZeroPolicy string

const (
	CCMAZeroFail CCMAZeroPolicy = "fail"
	CCMAZeroZero CCMAZeroPolicy = "zero"
)

func ParseCCMAZeroPolicy(value string) (CCMAZeroPolicy, error) {
	switch CCMAZeroPolicy(value) {
	case "", CCMAZeroFail:
		return CCMAZeroFail, nil
	case CCMAZeroZero:
		return CCMAZeroZero, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCCMAZero, value)
	}
}

// OutputSource serves the model's output probability for a class, one
// value per item in the given item order.
type OutputSource interface {
	Column(timestep, class int, items []int) ([]float64, error)
}

type Options struct {
	// Exhaustive evaluates every class instead of the classes of interest.
	Exhaustive bool
	// Letters switches to one-vs-rest letter analysis over observation parts.
	Letters bool
	// NumClasses fixes the word label range 0..NumClasses-1. When zero the
	// labels present in the counts are used.
	NumClasses int
	// NumLetters fixes the letter range in letter mode, with the same fallback.
	NumLetters int
	CCMAZero   CCMAZeroPolicy
}

type Input struct {
	Record model.ActivationRecord
	// Counts are the word class counts for the record's timestep.
	Counts model.ClassCount
	// LetterCounts are the letter counts for the record's timestep. Only
	// read in letter mode.
	LetterCounts model.ClassCount
	// Outputs enables the correlation measures when non-nil.
	Outputs OutputSource
}

// UnitError names the unit, metric and class an evaluation failed on.
type UnitError struct {
	Key    model.UnitKey
	Metric model.Metric
	Class  int
	Err    error
}

func (e *UnitError) Error() string {
	if e.Metric == "" {
		return fmt.Sprintf("%s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %s class %d: %v", e.Key, e.Metric, e.Class, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

type Evaluator struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Evaluator {
	if opts.CCMAZero == "" {
		opts.CCMAZero = CCMAZeroFail
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{opts: opts, logger: logger}
}

// view is a record sorted by descending activation, with the normalized
// activations and the views each metric family reads.
type view struct {
	items     []int
	labels    []int
	parts     [][]int
	raw       []float64
	selective []float64
	contrast  []float64
	policy    nn.Policy
}

func newView(record model.ActivationRecord, policy nn.Policy) view {
	obs := append([]model.Observation(nil), record.Observations...)
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Activation > obs[j].Activation
	})
	v := view{
		items:  make([]int, len(obs)),
		labels: make([]int, len(obs)),
		parts:  make([][]int, len(obs)),
		raw:    make([]float64, len(obs)),
		policy: policy,
	}
	for i, o := range obs {
		v.items[i] = o.Item
		v.labels[i] = o.Label
		v.parts[i] = o.Parts
		v.raw[i] = o.Activation
	}
	normed := policy.Normalize(v.raw)
	v.selective = policy.Selective(v.raw, normed)
	v.contrast = policy.Contrast(v.raw, normed)
	return v
}

// Evaluate runs the full battery for one record and reduces it to the best
// class per metric. It has no side effects.
func (e *Evaluator) Evaluate(in Input) (model.UnitResult, model.UnitSummary, error) {
	key := in.Record.Key
	if len(in.Record.Observations) == 0 {
		return model.UnitResult{}, model.UnitSummary{}, &UnitError{Key: key, Err: ErrEmptyRecord}
	}
	policy, err := nn.PolicyFor(in.Record.Activation)
	if err != nil {
		return model.UnitResult{}, model.UnitSummary{}, &UnitError{Key: key, Err: err}
	}
	v := newView(in.Record, policy)

	correlate := in.Outputs != nil && !e.opts.Letters
	result := model.UnitResult{
		VersionedRecord: model.VersionedRecord{SchemaVersion: storage.CurrentSchemaVersion, CodecVersion: storage.CurrentCodecVersion},
		Key:             key,
		Activation:      in.Record.Activation,
		Letters:         e.opts.Letters,
		Items:           len(v.items),
		Metrics:         metrics.ComputedMetrics(correlate),
	}

	if e.opts.Letters {
		result.Classes, err = e.evaluateLetters(key, v, in.LetterCounts)
	} else {
		result.Classes, err = e.evaluateWords(key, v, in.Counts, in.Outputs)
	}
	result.Total = totalBasics(v)
	if err != nil {
		return model.UnitResult{}, model.UnitSummary{}, err
	}

	summary, err := reduce.BestClass(result)
	if err != nil {
		return model.UnitResult{}, model.UnitSummary{}, &UnitError{Key: key, Err: err}
	}
	e.logger.Debug("unit evaluated",
		"unit", key.String(),
		"items", result.Items,
		"classes", len(result.Classes),
	)
	return result, summary, nil
}

func (e *Evaluator) evaluateWords(key model.UnitKey, v view, counts model.ClassCount, outputs OutputSource) ([]model.ClassResult, error) {
	if len(counts) == 0 {
		return nil, &UnitError{Key: key, Err: ErrMissingCounts}
	}
	classes := labelRange(e.opts.NumClasses, counts)
	basics := metrics.ClassSelBasics(v.selective, v.labels, counts, classes, v.policy.HighValueThreshold)

	candidates := classes
	if !e.opts.Exhaustive {
		candidates = selection.ClassesOfInterest(basics)
	}

	out := make([]model.ClassResult, 0, len(candidates))
	for _, class := range candidates {
		size := counts.Size(class)
		r, err := e.classResult(key, v, v.labels, class, size, len(v.items)-size)
		if err != nil {
			return nil, err
		}
		fillBasics(&r, basics.ByClass[class])
		if outputs != nil {
			column, err := outputs.Column(key.Timestep, class, v.items)
			if err != nil {
				return nil, &UnitError{Key: key, Metric: model.MetricCorrCoef, Class: class, Err: err}
			}
			if len(column) != len(v.items) {
				return nil, &UnitError{Key: key, Metric: model.MetricCorrCoef, Class: class, Err: ErrOutputsMismatch}
			}
			corr := metrics.ClassCorrelation(v.selective, column)
			r.CorrCoef = corr.Coef
			r.CorrP = corr.P
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Evaluator) evaluateLetters(key model.UnitKey, v view, counts model.ClassCount) ([]model.ClassResult, error) {
	if len(counts) == 0 {
		return nil, &UnitError{Key: key, Err: ErrMissingCounts}
	}
	n := len(v.items)
	letters := labelRange(e.opts.NumLetters, counts)
	out := make([]model.ClassResult, 0, len(letters))
	labels := make([]int, n)
	for _, letter := range letters {
		for i, parts := range v.parts {
			labels[i] = NotThisLetter
			for _, part := range parts {
				if part == letter {
					labels[i] = letter
					break
				}
			}
		}
		size := counts.Size(letter)
		binary := model.ClassCount{letter: size, NotThisLetter: n - size}
		basics := metrics.ClassSelBasics(v.selective, labels, binary, []int{letter, NotThisLetter}, v.policy.HighValueThreshold)

		r, err := e.classResult(key, v, labels, letter, size, n-size)
		if err != nil {
			return nil, err
		}
		fillBasics(&r, basics.ByClass[letter])
		out = append(out, r)
	}
	return out, nil
}

// classResult computes the ROC, contrast and top-percentile families for one
// class against the given label vector.
func (e *Evaluator) classResult(key model.UnitKey, v view, labels []int, class, size, notSize int) (model.ClassResult, error) {
	roc := metrics.ROC(labels, v.selective, class, size, notSize, v.policy.BipolarLabels)
	ccma, err := metrics.CCMA(v.contrast, labels, class)
	if err != nil {
		if !errors.Is(err, metrics.ErrDegenerateContrast) || e.opts.CCMAZero != CCMAZeroZero {
			return model.ClassResult{}, &UnitError{Key: key, Metric: model.MetricCCMA, Class: class, Err: err}
		}
		ccma = 0
	}
	zhou := metrics.Zhou(v.selective, labels, class)

	return model.ClassResult{
		Class:        class,
		Size:         size,
		ROCAUC:       roc.AUC,
		AvePrec:      roc.AvePrec,
		PRAUC:        roc.PRAUC,
		MaxInformed:  roc.MaxInformed,
		MaxInfoCount: roc.MaxInfoCount,
		MaxInfoThr:   roc.MaxInfoThr,
		MaxInfoSens:  roc.MaxInfoSens,
		MaxInfoSpec:  roc.MaxInfoSpec,
		MaxInfoPrec:  roc.MaxInfoPrec,
		CCMA:         ccma,
		ZhouPrec:     zhou.Prec,
		ZhouSelects:  zhou.Selects,
		ZhouThr:      zhou.Thr,
	}, nil
}

func fillBasics(r *model.ClassResult, b metrics.ClassBasics) {
	r.Means = b.Mean
	r.SD = b.SD
	r.NZCount = b.NZCount
	r.NZProp = b.NZProp
	r.NZPrec = b.NZPrec
	r.HiValCount = b.HiValCount
	r.HiValProp = b.HiValProp
	r.HiValPrec = b.HiValPrec
}

// totalBasics describes the whole record on the selective view.
func totalBasics(v view) model.TotalBasics {
	total := metrics.TotalBasics(v.selective, v.policy.HighValueThreshold)
	return model.TotalBasics{
		Means:      total.Mean,
		SD:         total.SD,
		NZCount:    total.NZCount,
		NZProp:     total.NZProp,
		HiValCount: total.HiValCount,
		HiValProp:  total.HiValProp,
	}
}

func labelRange(n int, counts model.ClassCount) []int {
	if n <= 0 {
		return counts.Labels()
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
