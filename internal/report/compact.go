package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"unitsel/internal/model"
)

// Compact is the model-wide comparison record: mean and max of
// informedness, class-conditional mean contrast, top-percentile precision
// and mean activation.
type Compact struct {
	MIMean    float64 `json:"mi_mean"`
	MIMax     float64 `json:"mi_max"`
	CCMAMean  float64 `json:"ccma_mean"`
	CCMAMax   float64 `json:"ccma_max"`
	PrecMean  float64 `json:"prec_mean"`
	PrecMax   float64 `json:"prec_max"`
	MeansMean float64 `json:"means_mean"`
	MeansMax  float64 `json:"means_max"`
}

// CompactRecord reads the compact record from the model-scope aggregate.
func CompactRecord(aggregates []Aggregate) (Compact, error) {
	for _, agg := range aggregates {
		if agg.Scope != ScopeModel {
			continue
		}
		need := []model.Metric{model.MetricMaxInformed, model.MetricCCMA, model.MetricZhouPrec, model.MetricMeans}
		for _, metric := range need {
			if _, ok := agg.Values[metric]; !ok {
				return Compact{}, fmt.Errorf("compact record: %w: missing %s", ErrInconsistentMetrics, metric)
			}
		}
		v := agg.Values
		return Compact{
			MIMean:    v[model.MetricMaxInformed].Mean,
			MIMax:     v[model.MetricMaxInformed].Max,
			CCMAMean:  v[model.MetricCCMA].Mean,
			CCMAMax:   v[model.MetricCCMA].Max,
			PrecMean:  v[model.MetricZhouPrec].Mean,
			PrecMax:   v[model.MetricZhouPrec].Max,
			MeansMean: v[model.MetricMeans].Mean,
			MeansMax:  v[model.MetricMeans].Max,
		}, nil
	}
	return Compact{}, ErrEmptyTable
}

// ResultsRow is one line of the persistent cross-run results table.
type ResultsRow struct {
	Cond           string  `json:"cond"`
	Run            string  `json:"run"`
	OutputFilename string  `json:"output_filename"`
	Dataset        string  `json:"dataset"`
	UseDataset     string  `json:"use_dataset"`
	NLayers        int     `json:"n_layers"`
	HidUnits       int     `json:"hid_units"`
	Accuracy       float64 `json:"gha_acc"`
	Compact
}

var resultsHeader = []string{
	"cond", "run", "output_filename", "dataset", "use_dataset", "n_layers", "hid_units", "gha_acc",
	"mi_mean", "mi_max", "ccma_mean", "ccma_max", "prec_mean", "prec_max", "means_mean", "means_max",
}

// AppendResultsRow appends row to the CSV at path. The header is written
// only when the file is created.
func AppendResultsRow(path string, row ResultsRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	_, err := os.Stat(path)
	create := os.IsNotExist(err)
	if err != nil && !create {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if create {
		if err := writer.Write(resultsHeader); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{
		row.Cond,
		row.Run,
		row.OutputFilename,
		row.Dataset,
		row.UseDataset,
		strconv.Itoa(row.NLayers),
		strconv.Itoa(row.HidUnits),
		formatRounded(row.Accuracy),
		formatRounded(row.MIMean),
		formatRounded(row.MIMax),
		formatRounded(row.CCMAMean),
		formatRounded(row.CCMAMax),
		formatRounded(row.PrecMean),
		formatRounded(row.PrecMax),
		formatRounded(row.MeansMean),
		formatRounded(row.MeansMax),
	}); err != nil {
		return err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func formatRounded(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}
