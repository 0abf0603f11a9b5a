package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"unitsel/internal/config"
	"unitsel/pkg/unitsel"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

// cli holds the state shared by all subcommands of one invocation.
type cli struct {
	configPath string
	overrides  overrides

	cfg     *config.Config
	client  *unitsel.Client
	cleanup func() error
}

type overrides struct {
	records      string
	counts       string
	outputs      string
	outDir       string
	outputID     string
	store        string
	resultsTable string
	letters      bool
	allItems     bool
	hasIncorrect bool
	subset       bool
	topN         int
	threshold    float64
	ccmaZero     string
	testRun      int
	logLevel     string
	logFile      string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "unitselctl",
		Short:         "Per-unit selectivity analysis of network activations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if c.cleanup != nil {
				return c.cleanup()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&c.overrides.outDir, "out", "", "output directory")
	flags.StringVar(&c.overrides.outputID, "id", "", "output identifier naming every artifact")
	flags.StringVar(&c.overrides.store, "store", "", "store backend: memory|file|sqlite")
	flags.BoolVar(&c.overrides.letters, "letters", false, "analyse letters instead of words")
	flags.BoolVar(&c.overrides.allItems, "all-items", false, "include incorrectly answered items")
	flags.IntVar(&c.overrides.testRun, "test-run", 0, "process at most this many records into a test directory")
	flags.StringVar(&c.overrides.logLevel, "log-level", "", "log level: debug|info|warn|error")
	flags.StringVar(&c.overrides.logFile, "log-file", "", "additional JSON log file")

	root.AddCommand(c.runCmd(), c.summarizeCmd(), c.statusCmd(), c.countsCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadOrDefault(c.configPath)
	if err != nil {
		return err
	}
	c.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, cleanup, err := config.SetupLogger(cfg.Log.File, cfg.LogLevel())
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	client, err := unitsel.New(cfg, logger)
	if err != nil {
		_ = cleanup()
		return err
	}
	c.cfg = cfg
	c.client = client
	c.cleanup = cleanup
	return nil
}

// applyFlags overrides config values with the flags set on the command line.
func (c *cli) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	o := c.overrides
	changed := cmd.Flags().Changed
	if changed("records") {
		cfg.Input.Records = o.records
	}
	if changed("counts") {
		cfg.Input.Counts = o.counts
	}
	if changed("outputs") {
		cfg.Input.Outputs = o.outputs
	}
	if changed("out") {
		cfg.Output.Dir = o.outDir
	}
	if changed("id") {
		cfg.Output.ID = o.outputID
	}
	if changed("store") {
		cfg.Output.Store = o.store
	}
	if changed("results-table") {
		cfg.Output.ResultsTable = o.resultsTable
	}
	if changed("letters") {
		cfg.Analysis.Letters = o.letters
	}
	if changed("all-items") {
		cfg.Analysis.CorrectOnly = !o.allItems
	}
	if changed("dataset-has-incorrect") {
		cfg.Analysis.DatasetHasIncorrect = o.hasIncorrect
	}
	if changed("subset") {
		cfg.Analysis.Exhaustive = !o.subset
	}
	if changed("top-n") {
		cfg.Analysis.TopN = o.topN
	}
	if changed("threshold") {
		cfg.Analysis.HighSelThreshold = o.threshold
	}
	if changed("ccma-zero") {
		cfg.Analysis.CCMAZero = o.ccmaZero
	}
	if changed("test-run") {
		cfg.Analysis.TestRun = o.testRun
	}
	if changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if changed("log-file") {
		cfg.Log.File = o.logFile
	}
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate every pending unit and write the summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.client.Run(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), "run completed", summary)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&c.overrides.records, "records", "", "long-format activation CSV")
	flags.StringVar(&c.overrides.counts, "counts", "", "class counts JSON")
	flags.StringVar(&c.overrides.outputs, "outputs", "", "raw float32 output probabilities")
	flags.StringVar(&c.overrides.resultsTable, "results-table", "", "CSV the comparison row is appended to")
	flags.BoolVar(&c.overrides.hasIncorrect, "dataset-has-incorrect", false, "dataset contains incorrectly answered items")
	flags.BoolVar(&c.overrides.subset, "subset", false, "evaluate only the classes of interest")
	flags.IntVar(&c.overrides.topN, "top-n", 0, "highlights kept per metric")
	flags.Float64Var(&c.overrides.threshold, "threshold", 0, "high selectivity threshold")
	flags.StringVar(&c.overrides.ccmaZero, "ccma-zero", "", "zero contrast denominator policy: fail|zero")
	return cmd
}

func (c *cli) summarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Rewrite the summary artifacts from the stored results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.client.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), "summary written", summary)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&c.overrides.resultsTable, "results-table", "", "CSV the comparison row is appended to")
	flags.IntVar(&c.overrides.topN, "top-n", 0, "highlights kept per metric")
	flags.Float64Var(&c.overrides.threshold, "threshold", 0, "high selectivity threshold")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resume cursor of every layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := c.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "no completed units")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(out, "layer=%s resume_unit=%d\n", item.Layer, item.Unit)
			}
			return nil
		},
	}
}

func (c *cli) countsCmd() *cobra.Command {
	var req unitsel.CountsRequest
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Compute items per class from label sequences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.client.Counts(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "counts written path=%s timesteps=%d letters=%t\n",
				summary.Path, summary.Timesteps, summary.Letters)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Labels, "labels", "", "CSV of word labels per item and timestep")
	cmd.Flags().StringVar(&req.Vocab, "vocab", "", "JSON mapping word labels to letter ids")
	cmd.Flags().StringVar(&req.Out, "out-counts", "", "destination class counts JSON")
	_ = cmd.MarkFlagRequired("labels")
	_ = cmd.MarkFlagRequired("out-counts")
	return cmd
}

func printSummary(out io.Writer, title string, summary unitsel.RunSummary) {
	fmt.Fprintf(out, "%s run_id=%s output_id=%s processed=%d skipped=%d\n",
		title, summary.RunID, summary.OutputID, summary.Processed, summary.Skipped)
	fmt.Fprintf(out, "mi_mean=%.6f mi_max=%.6f ccma_mean=%.6f ccma_max=%.6f prec_mean=%.6f prec_max=%.6f\n",
		summary.Compact.MIMean, summary.Compact.MIMax,
		summary.Compact.CCMAMean, summary.Compact.CCMAMax,
		summary.Compact.PrecMean, summary.Compact.PrecMax)
	fmt.Fprintf(out, "artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
}
