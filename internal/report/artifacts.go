package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"unitsel/internal/model"
)

const (
	tableSuffix      = "_max_sel.csv"
	meanMaxSuffix    = "_model_mean_max.csv"
	highlightsSuffix = "_hl_dfs.json"
	unitsSuffix      = "_hl_units.json"
	manifestSuffix   = "_sel_dict.json"
)

type Options struct {
	TopN      int
	Threshold float64
}

// Summary bundles every derived view of one run's summaries.
type Summary struct {
	Table      Table
	Aggregates []Aggregate
	Compact    Compact
	Highlights HighlightIndex
}

func Summarize(summaries []model.UnitSummary, opts Options) (Summary, error) {
	table, err := BuildTable(summaries)
	if err != nil {
		return Summary{}, err
	}
	aggregates := MeanMaxByScope(table)
	compact, err := CompactRecord(aggregates)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Table:      table,
		Aggregates: aggregates,
		Compact:    compact,
		Highlights: Highlights(table, opts.TopN, opts.Threshold),
	}, nil
}

// Paths names the summary artifacts of one output id.
type Paths struct {
	Table      string `json:"max_sel_df_name"`
	MeanMax    string `json:"model_mean_max_df_name"`
	Highlights string `json:"hl_dfs_dict_name"`
	Units      string `json:"hl_units_dict_name"`
}

func ArtifactPaths(dir, outputID string) Paths {
	return Paths{
		Table:      filepath.Join(dir, outputID+tableSuffix),
		MeanMax:    filepath.Join(dir, outputID+meanMaxSuffix),
		Highlights: filepath.Join(dir, outputID+highlightsSuffix),
		Units:      filepath.Join(dir, outputID+unitsSuffix),
	}
}

func ManifestPath(dir, outputID string) string {
	return filepath.Join(dir, outputID+manifestSuffix)
}

func WriteArtifacts(dir, outputID string, summary Summary) (Paths, error) {
	if outputID == "" {
		return Paths{}, fmt.Errorf("output id is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, err
	}
	paths := ArtifactPaths(dir, outputID)
	if err := WriteTableCSV(paths.Table, summary.Table); err != nil {
		return Paths{}, err
	}
	if err := WriteMeanMaxCSV(paths.MeanMax, summary.Table.Metrics, summary.Aggregates); err != nil {
		return Paths{}, err
	}
	if err := writeJSON(paths.Highlights, summary.Highlights.ByMetric); err != nil {
		return Paths{}, err
	}
	if err := writeJSON(paths.Units, summary.Highlights.Units); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

// WriteTableCSV writes one row per unit key with a value and a best-class
// column per metric.
func WriteTableCSV(path string, t Table) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"layer", "unit", "timestep"}
	for _, metric := range t.Metrics {
		header = append(header, string(metric), string(metric)+"_c")
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		record := []string{row.Key.Layer, strconv.Itoa(row.Key.Unit), timestepLabel(row.Key.Timestep)}
		for i := range t.Metrics {
			record = append(record,
				strconv.FormatFloat(row.Values[i], 'f', -1, 64),
				strconv.Itoa(row.Classes[i]),
			)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteMeanMaxCSV writes one row per summary metric with a means and a max
// column per aggregate.
func WriteMeanMaxCSV(path string, tableMetrics []model.Metric, aggregates []Aggregate) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"metric"}
	for _, agg := range aggregates {
		header = append(header, agg.Name+"_means", agg.Name+"_max")
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, metric := range tableMetrics {
		if _, ok := aggregates[0].Values[metric]; !ok {
			continue
		}
		record := []string{string(metric)}
		for _, agg := range aggregates {
			v := agg.Values[metric]
			record = append(record,
				strconv.FormatFloat(v.Mean, 'f', -1, 64),
				strconv.FormatFloat(v.Max, 'f', -1, 64),
			)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Manifest records where a run put its artifacts and how it was configured.
type Manifest struct {
	RunID        string         `json:"run_id"`
	OutputID     string         `json:"output_id"`
	ResultsPath  string         `json:"sel_per_unit_name"`
	SummaryPath  string         `json:"max_sel_p_unit_name"`
	Artifacts    Paths          `json:"artifacts"`
	Options      map[string]any `json:"options"`
	Compact      Compact        `json:"for_summ_csv_dict"`
	Units        int            `json:"units"`
	CreatedAtUTC string         `json:"created_at_utc"`
}

func WriteManifest(path string, manifest Manifest) error {
	if manifest.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	return writeJSON(path, manifest)
}

func ReadManifest(path string) (Manifest, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, false, err
	}
	return manifest, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
