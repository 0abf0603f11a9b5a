package unitsel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"unitsel/internal/config"
	"unitsel/internal/evaluator"
	"unitsel/internal/model"
	"unitsel/internal/provider"
	"unitsel/internal/report"
	"unitsel/internal/runner"
	"unitsel/internal/storage"
)

var ErrMissingInput = errors.New("missing input")

type Client struct {
	cfg    *config.Config
	logger *slog.Logger
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	OutputID     string
	Processed    int
	Skipped      int
	Manifest     string
	Compact      report.Compact
}

type StatusItem struct {
	Layer string
	Unit  int
}

type CountsRequest struct {
	// Labels is a CSV of word labels, one row per item, one column per timestep.
	Labels string
	// Vocab maps word labels to letter ids. Optional.
	Vocab string
	Out   string
}

type CountsSummary struct {
	Path      string
	Timesteps int
	Letters   bool
}

// New validates cfg and returns a client bound to it.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}, nil
}

func (c *Client) Run(ctx context.Context) (RunSummary, error) {
	if c.cfg.Input.Records == "" {
		return RunSummary{}, fmt.Errorf("%w: activation records path", ErrMissingInput)
	}
	rc, err := c.runnerConfig()
	if err != nil {
		return RunSummary{}, err
	}
	rc.Source = provider.NewCSVSource(c.cfg.Input.Records)

	if c.cfg.Input.Counts != "" {
		counts, found, err := provider.LoadClassCounts(c.cfg.Input.Counts)
		if err != nil {
			return RunSummary{}, err
		}
		if !found {
			return RunSummary{}, fmt.Errorf("%w: class counts %s", ErrMissingInput, c.cfg.Input.Counts)
		}
		rc.Counts = &counts
	}
	if c.cfg.Input.Outputs != "" {
		if _, err := os.Stat(c.cfg.Input.Outputs); err != nil {
			return RunSummary{}, fmt.Errorf("%w: output probabilities: %v", ErrMissingInput, err)
		}
		outputs := provider.NewMappedOutputs(c.cfg.Input.Outputs, c.cfg.Input.OutputShape)
		defer outputs.Release()
		rc.Outputs = outputs
	}

	result, err := runner.Run(ctx, rc)
	if err != nil {
		return RunSummary{}, err
	}
	return toRunSummary(result), nil
}

// Summarize rewrites the summary artifacts from the existing store.
func (c *Client) Summarize(ctx context.Context) (RunSummary, error) {
	rc, err := c.runnerConfig()
	if err != nil {
		return RunSummary{}, err
	}
	result, err := runner.Summarize(ctx, rc)
	if err != nil {
		return RunSummary{}, err
	}
	return toRunSummary(result), nil
}

// Status lists the per-layer resume cursors of the configured store.
func (c *Client) Status(ctx context.Context) ([]StatusItem, error) {
	dir := runner.ArtifactDir(c.cfg.Output.Dir, c.cfg.Analysis.CorrectOnly, c.cfg.Analysis.TestRun > 0)
	outputID := runner.OutputID(c.cfg.Output.ID, c.cfg.Analysis.Letters)
	if c.cfg.Output.ID == "" {
		return nil, fmt.Errorf("%w: output id", ErrMissingInput)
	}
	store, err := storage.NewStore(c.cfg.Output.Store, dir, outputID)
	if err != nil {
		return nil, err
	}
	defer storage.CloseIfSupported(store)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	cursors, err := runner.Status(ctx, store)
	if err != nil {
		return nil, err
	}
	items := make([]StatusItem, 0, len(cursors))
	for _, cursor := range cursors {
		items = append(items, StatusItem{Layer: cursor.Layer, Unit: cursor.Unit})
	}
	return items, nil
}

// Counts computes per-timestep items-per-class counts from label sequences
// and writes them as a class counts file.
func (c *Client) Counts(_ context.Context, req CountsRequest) (CountsSummary, error) {
	if req.Labels == "" || req.Out == "" {
		return CountsSummary{}, fmt.Errorf("%w: labels and out paths are required", ErrMissingInput)
	}
	file, err := os.Open(req.Labels)
	if err != nil {
		return CountsSummary{}, err
	}
	defer file.Close()
	seqs, err := provider.ReadLabelSequences(file)
	if err != nil {
		return CountsSummary{}, err
	}

	var vocab map[int][]int
	if req.Vocab != "" {
		vocab, err = provider.LoadVocab(req.Vocab)
		if err != nil {
			return CountsSummary{}, err
		}
	}
	counts := provider.ItemsPerClass(seqs, vocab)
	if err := provider.SaveClassCounts(req.Out, counts); err != nil {
		return CountsSummary{}, err
	}
	c.logger.Info("class counts written", "path", req.Out, "items", len(seqs), "timesteps", len(counts.Words))
	return CountsSummary{Path: req.Out, Timesteps: len(counts.Words), Letters: counts.Letters != nil}, nil
}

func (c *Client) runnerConfig() (runner.Config, error) {
	if c.cfg.Output.ID == "" {
		return runner.Config{}, fmt.Errorf("%w: output id", ErrMissingInput)
	}
	policy, err := evaluator.ParseCCMAZeroPolicy(c.cfg.Analysis.CCMAZero)
	if err != nil {
		return runner.Config{}, err
	}
	a := c.cfg.Analysis
	return runner.Config{
		OutDir:              c.cfg.Output.Dir,
		OutputID:            c.cfg.Output.ID,
		StoreKind:           c.cfg.Output.Store,
		Letters:             a.Letters,
		Exhaustive:          a.Exhaustive,
		CorrectOnly:         a.CorrectOnly,
		DatasetHasIncorrect: a.DatasetHasIncorrect,
		NumClasses:          a.NumClasses,
		NumLetters:          a.NumLetters,
		CCMAZero:            policy,
		TopN:                a.TopN,
		Threshold:           a.HighSelThreshold,
		TestRun:             a.TestRun,
		ResultsTable:        c.cfg.Output.ResultsTable,
		RunID:               c.cfg.Run.ID,
		Meta: runner.Meta{
			Cond:       c.cfg.Run.Cond,
			Run:        c.cfg.Run.Run,
			Dataset:    c.cfg.Run.Dataset,
			UseDataset: c.cfg.Run.UseDataset,
			NLayers:    c.cfg.Run.NLayers,
			HidUnits:   c.cfg.Run.HidUnits,
			Accuracy:   c.cfg.Run.Accuracy,
		},
		Logger: c.logger,
	}, nil
}

func toRunSummary(result runner.Result) RunSummary {
	return RunSummary{
		RunID:        result.RunID,
		ArtifactsDir: result.Dir,
		OutputID:     result.OutputID,
		Processed:    result.Processed,
		Skipped:      result.Skipped,
		Manifest:     result.Manifest,
		Compact:      result.Compact,
	}
}

// Summaries loads every best-class summary from the configured store.
func (c *Client) Summaries(ctx context.Context) ([]model.UnitSummary, error) {
	dir := runner.ArtifactDir(c.cfg.Output.Dir, c.cfg.Analysis.CorrectOnly, c.cfg.Analysis.TestRun > 0)
	store, err := storage.NewStore(c.cfg.Output.Store, dir, runner.OutputID(c.cfg.Output.ID, c.cfg.Analysis.Letters))
	if err != nil {
		return nil, err
	}
	defer storage.CloseIfSupported(store)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	entries, err := store.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.UnitSummary, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Summary)
	}
	return out, nil
}
