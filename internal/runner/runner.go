// Package runner drives a selectivity run: it streams activation records,
// evaluates each unit, checkpoints every result and writes the summaries.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"unitsel/internal/evaluator"
	"unitsel/internal/model"
	"unitsel/internal/provider"
	"unitsel/internal/report"
	"unitsel/internal/storage"
)

var (
	ErrUnsupportedConfig = errors.New("unsupported configuration")
	ErrNoSource          = errors.New("activation source is required")
	ErrNoItemsLeft       = errors.New("no correct items left after filtering")
)

const progressEvery = 100

type Meta struct {
	Cond       string
	Run        string
	Dataset    string
	UseDataset string
	NLayers    int
	HidUnits   int
	Accuracy   float64
}

type Config struct {
	Source provider.Source
	// Counts are the precomputed class counts. When nil, counts are derived
	// from each record's observations.
	Counts *model.ClassCounts
	// Outputs enables the correlation measures. Sources with a Release
	// method are released after every record.
	Outputs evaluator.OutputSource

	OutDir    string
	OutputID  string
	StoreKind string
	// Store overrides the backend built from StoreKind.
	Store storage.Store

	Letters             bool
	Exhaustive          bool
	CorrectOnly         bool
	DatasetHasIncorrect bool
	NumClasses          int
	NumLetters          int
	CCMAZero            evaluator.CCMAZeroPolicy
	TopN                int
	Threshold           float64
	// TestRun caps the records processed and writes into a test directory,
	// ignoring earlier completion.
	TestRun int

	ResultsTable string
	RunID        string
	Meta         Meta
	Logger       *slog.Logger
}

type Result struct {
	RunID     string
	Dir       string
	OutputID  string
	Processed int
	Skipped   int
	Paths     report.Paths
	Manifest  string
	Compact   report.Compact
}

// Cursor is the resume point of one layer.
type Cursor struct {
	Layer string `json:"layer"`
	Unit  int    `json:"unit"`
}

// ArtifactDir is the directory a run writes into.
func ArtifactDir(outDir string, correctOnly, testRun bool) string {
	sub := "all_sel"
	if correctOnly {
		sub = "correct_sel"
	}
	dir := filepath.Join(outDir, sub)
	if testRun {
		dir = filepath.Join(dir, "test")
	}
	return dir
}

// OutputID is the artifact name stem of a run.
func OutputID(base string, letters bool) string {
	if letters {
		return base + "_lett"
	}
	return base
}

func (c Config) validate() error {
	if c.Source == nil {
		return ErrNoSource
	}
	if c.OutputID == "" {
		return fmt.Errorf("%w: output id is required", ErrUnsupportedConfig)
	}
	if !c.CorrectOnly && !c.DatasetHasIncorrect {
		return fmt.Errorf("%w: incorrect items requested but the dataset has none", ErrUnsupportedConfig)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("%w: top n must be positive", ErrUnsupportedConfig)
	}
	return nil
}

// Run processes every pending record, then summarizes the whole store.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	testRun := cfg.TestRun > 0
	dir := ArtifactDir(cfg.OutDir, cfg.CorrectOnly, testRun)
	outputID := OutputID(cfg.OutputID, cfg.Letters)
	logger = logger.With("run_id", runID, "output_id", outputID)

	store, closeStore, err := openStore(ctx, cfg, dir, outputID)
	if err != nil {
		return Result{}, err
	}
	defer closeStore()

	resume := map[string]int{}
	if !testRun {
		cursors, err := Status(ctx, store)
		if err != nil {
			return Result{}, err
		}
		for _, cursor := range cursors {
			resume[cursor.Layer] = cursor.Unit
			logger.Info("resuming layer", "layer", cursor.Layer, "unit", cursor.Unit)
		}
	}

	ev := evaluator.New(evaluator.Options{
		Exhaustive: cfg.Exhaustive,
		Letters:    cfg.Letters,
		NumClasses: cfg.NumClasses,
		NumLetters: cfg.NumLetters,
		CCMAZero:   cfg.CCMAZero,
	}, logger)

	processed, skipped, err := process(ctx, cfg, store, ev, resume, logger)
	if err != nil {
		return Result{}, err
	}
	logger.Info("units evaluated",
		"processed", humanize.Comma(int64(processed)),
		"skipped", humanize.Comma(int64(skipped)),
	)

	result, err := summarize(ctx, cfg, store, dir, outputID, runID, logger)
	if err != nil {
		return Result{}, err
	}
	result.Processed = processed
	result.Skipped = skipped
	return result, nil
}

func process(ctx context.Context, cfg Config, store storage.Store, ev *evaluator.Evaluator, resume map[string]int, logger *slog.Logger) (int, int, error) {
	it, err := cfg.Source.Open(ctx, resume)
	if err != nil {
		return 0, 0, fmt.Errorf("open activations: %w", err)
	}
	defer it.Close()

	processed, skipped := 0, 0
	started := time.Now()
	for {
		if cfg.TestRun > 0 && processed >= cfg.TestRun {
			break
		}
		record, ok, err := it.Next(ctx)
		if err != nil {
			return processed, skipped, err
		}
		if !ok {
			break
		}
		if cfg.TestRun == 0 {
			done, err := store.IsCompleted(ctx, record.Key)
			if err != nil {
				return processed, skipped, err
			}
			if done {
				skipped++
				continue
			}
		}

		if err := evaluateRecord(ctx, cfg, store, ev, record); err != nil {
			return processed, skipped, err
		}
		processed++
		if processed%progressEvery == 0 {
			logger.Info("progress",
				"units", humanize.Comma(int64(processed)),
				"elapsed", time.Since(started).Round(time.Millisecond).String(),
			)
		}
	}
	return processed, skipped, nil
}

func evaluateRecord(ctx context.Context, cfg Config, store storage.Store, ev *evaluator.Evaluator, record model.ActivationRecord) error {
	if cfg.CorrectOnly {
		record = correctItems(record)
		if len(record.Observations) == 0 {
			return fmt.Errorf("%s: %w", record.Key, ErrNoItemsLeft)
		}
	}
	in := evaluator.Input{
		Record:  record,
		Counts:  wordCounts(cfg.Counts, record),
		Outputs: cfg.Outputs,
	}
	if cfg.Letters {
		in.LetterCounts = letterCounts(cfg.Counts, record)
	}

	result, summary, err := ev.Evaluate(in)
	if releaser, ok := cfg.Outputs.(interface{ Release() error }); ok {
		if releaseErr := releaser.Release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}
	if err != nil {
		return err
	}
	if err := store.Write(ctx, storage.Entry{Key: record.Key, Result: result, Summary: summary}); err != nil {
		return fmt.Errorf("%s: write: %w", record.Key, err)
	}
	return nil
}

func correctItems(record model.ActivationRecord) model.ActivationRecord {
	kept := make([]model.Observation, 0, len(record.Observations))
	for _, obs := range record.Observations {
		if !obs.Incorrect {
			kept = append(kept, obs)
		}
	}
	record.Observations = kept
	return record
}

func wordCounts(counts *model.ClassCounts, record model.ActivationRecord) model.ClassCount {
	if counts != nil {
		if c, ok := counts.WordsAt(record.Key.Timestep); ok {
			return c
		}
	}
	return provider.CountLabels(record.Observations)
}

func letterCounts(counts *model.ClassCounts, record model.ActivationRecord) model.ClassCount {
	if counts != nil {
		if c, ok := counts.LettersAt(record.Key.Timestep); ok {
			return c
		}
	}
	return provider.CountParts(record.Observations)
}

// Status returns the resume cursor of every layer with completed entries.
func Status(ctx context.Context, store storage.Store) ([]Cursor, error) {
	layers, err := store.Layers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Cursor, 0, len(layers))
	for _, layer := range layers {
		unit, ok, err := store.ResumeCursor(ctx, layer)
		if err != nil {
			return nil, fmt.Errorf("resume cursor %s: %w", layer, err)
		}
		if ok {
			out = append(out, Cursor{Layer: layer, Unit: unit})
		}
	}
	return out, nil
}

// Summarize writes the summary artifacts of an existing store without
// evaluating anything.
func Summarize(ctx context.Context, cfg Config) (Result, error) {
	if cfg.OutputID == "" {
		return Result{}, fmt.Errorf("%w: output id is required", ErrUnsupportedConfig)
	}
	if cfg.TopN <= 0 {
		return Result{}, fmt.Errorf("%w: top n must be positive", ErrUnsupportedConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	dir := ArtifactDir(cfg.OutDir, cfg.CorrectOnly, cfg.TestRun > 0)
	outputID := OutputID(cfg.OutputID, cfg.Letters)

	store, closeStore, err := openStore(ctx, cfg, dir, outputID)
	if err != nil {
		return Result{}, err
	}
	defer closeStore()
	return summarize(ctx, cfg, store, dir, outputID, runID, logger.With("run_id", runID, "output_id", outputID))
}

func summarize(ctx context.Context, cfg Config, store storage.Store, dir, outputID, runID string, logger *slog.Logger) (Result, error) {
	entries, err := store.Entries(ctx)
	if err != nil {
		return Result{}, err
	}
	summaries := make([]model.UnitSummary, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, entry.Summary)
	}
	summary, err := report.Summarize(summaries, report.Options{TopN: cfg.TopN, Threshold: cfg.Threshold})
	if err != nil {
		return Result{}, fmt.Errorf("summarize: %w", err)
	}
	paths, err := report.WriteArtifacts(dir, outputID, summary)
	if err != nil {
		return Result{}, fmt.Errorf("write artifacts: %w", err)
	}

	if cfg.ResultsTable != "" {
		row := report.ResultsRow{
			Cond:           cfg.Meta.Cond,
			Run:            cfg.Meta.Run,
			OutputFilename: outputID,
			Dataset:        cfg.Meta.Dataset,
			UseDataset:     cfg.Meta.UseDataset,
			NLayers:        cfg.Meta.NLayers,
			HidUnits:       cfg.Meta.HidUnits,
			Accuracy:       cfg.Meta.Accuracy,
			Compact:        summary.Compact,
		}
		if err := report.AppendResultsRow(cfg.ResultsTable, row); err != nil {
			return Result{}, fmt.Errorf("append results row: %w", err)
		}
	}

	resultsPath, summaryPath := storePaths(store)
	manifestPath := report.ManifestPath(dir, outputID)
	manifest := report.Manifest{
		RunID:       runID,
		OutputID:    outputID,
		ResultsPath: resultsPath,
		SummaryPath: summaryPath,
		Artifacts:   paths,
		Options: map[string]any{
			"letters":          cfg.Letters,
			"exhaustive":       cfg.Exhaustive,
			"correct_only":     cfg.CorrectOnly,
			"num_classes":      cfg.NumClasses,
			"num_letters":      cfg.NumLetters,
			"top_n":            cfg.TopN,
			"high_sel_thr":     cfg.Threshold,
			"ccma_zero_policy": string(cfg.CCMAZero),
			"store":            cfg.StoreKind,
			"test_run":         cfg.TestRun,
		},
		Compact:      summary.Compact,
		Units:        len(summary.Table.Rows),
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
	if err := report.WriteManifest(manifestPath, manifest); err != nil {
		return Result{}, fmt.Errorf("write manifest: %w", err)
	}

	logger.Info("summaries written",
		"dir", dir,
		"rows", humanize.Comma(int64(len(summary.Table.Rows))),
		"store_size", humanize.Bytes(fileSize(resultsPath)+fileSize(summaryPath)),
	)
	return Result{
		RunID:    runID,
		Dir:      dir,
		OutputID: outputID,
		Paths:    paths,
		Manifest: manifestPath,
		Compact:  summary.Compact,
	}, nil
}

func openStore(ctx context.Context, cfg Config, dir, outputID string) (storage.Store, func(), error) {
	if cfg.Store != nil {
		if err := cfg.Store.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("init store: %w", err)
		}
		return cfg.Store, func() {}, nil
	}
	store, err := storage.NewStore(cfg.StoreKind, dir, outputID)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	return store, func() { _ = storage.CloseIfSupported(store) }, nil
}

func storePaths(store storage.Store) (string, string) {
	switch s := store.(type) {
	case *storage.FileStore:
		return s.ResultsPath(), s.SummaryPath()
	case *storage.SQLiteStore:
		return s.Path(), s.Path()
	default:
		return "", ""
	}
}

func fileSize(path string) uint64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}
