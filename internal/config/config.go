// Package config loads run configuration from YAML with environment
// overrides and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"unitsel/internal/evaluator"
	"unitsel/internal/provider"
	"unitsel/internal/storage"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration values.
type Config struct {
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Run      RunConfig      `yaml:"run"`
	Log      LogConfig      `yaml:"log"`
}

type InputConfig struct {
	// Records is the long-format activation CSV.
	Records string `yaml:"records"`
	// Counts is the per-timestep class count JSON. When empty, counts are
	// derived from each record's labels.
	Counts string `yaml:"counts,omitempty"`
	// Outputs is the raw float32 output probability array.
	Outputs     string         `yaml:"outputs,omitempty"`
	OutputShape provider.Shape `yaml:"output_shape,omitempty"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
	// ID names every artifact of the run.
	ID           string `yaml:"id"`
	Store        string `yaml:"store"`
	ResultsTable string `yaml:"results_table,omitempty"`
}

type AnalysisConfig struct {
	Letters             bool    `yaml:"letters"`
	Exhaustive          bool    `yaml:"exhaustive"`
	CorrectOnly         bool    `yaml:"correct_only"`
	DatasetHasIncorrect bool    `yaml:"dataset_has_incorrect"`
	NumClasses          int     `yaml:"num_classes,omitempty"`
	NumLetters          int     `yaml:"num_letters,omitempty"`
	TopN                int     `yaml:"top_n"`
	HighSelThreshold    float64 `yaml:"high_sel_thr"`
	CCMAZero            string  `yaml:"ccma_zero_policy"`
	// TestRun caps the number of records processed; 0 disables test mode.
	TestRun int `yaml:"test_run,omitempty"`
}

// RunConfig describes the analysed model for the cross-run results table.
type RunConfig struct {
	ID         string  `yaml:"id,omitempty"`
	Cond       string  `yaml:"cond,omitempty"`
	Run        string  `yaml:"run,omitempty"`
	Dataset    string  `yaml:"dataset,omitempty"`
	UseDataset string  `yaml:"use_dataset,omitempty"`
	NLayers    int     `yaml:"n_layers,omitempty"`
	HidUnits   int     `yaml:"hid_units,omitempty"`
	Accuracy   float64 `yaml:"accuracy,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			Dir:   ".",
			Store: storage.DefaultStoreKind(),
		},
		Analysis: AnalysisConfig{
			Exhaustive:       true,
			CorrectOnly:      true,
			TopN:             3,
			HighSelThreshold: 1.0,
			CCMAZero:         string(evaluator.CCMAZeroFail),
		},
		Log: LogConfig{Level: "INFO"},
	}
}

// Load reads a YAML config file over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the defaults with
// environment overrides if path is empty or missing.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	cfg := Default()
	cfg.ApplyEnv()
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from UNITSEL_* environment variables.
func (c *Config) ApplyEnv() {
	c.Input.Records = getEnv("UNITSEL_RECORDS", c.Input.Records)
	c.Input.Counts = getEnv("UNITSEL_COUNTS", c.Input.Counts)
	c.Input.Outputs = getEnv("UNITSEL_OUTPUTS", c.Input.Outputs)
	c.Output.Dir = getEnv("UNITSEL_OUT_DIR", c.Output.Dir)
	c.Output.ID = getEnv("UNITSEL_OUTPUT_ID", c.Output.ID)
	c.Output.Store = getEnv("UNITSEL_STORE", c.Output.Store)
	c.Output.ResultsTable = getEnv("UNITSEL_RESULTS_TABLE", c.Output.ResultsTable)
	c.Analysis.Letters = getEnvBool("UNITSEL_LETTERS", c.Analysis.Letters)
	c.Analysis.Exhaustive = getEnvBool("UNITSEL_EXHAUSTIVE", c.Analysis.Exhaustive)
	c.Analysis.CorrectOnly = getEnvBool("UNITSEL_CORRECT_ONLY", c.Analysis.CorrectOnly)
	c.Analysis.CCMAZero = getEnv("UNITSEL_CCMA_ZERO", c.Analysis.CCMAZero)
	c.Log.Level = getEnv("UNITSEL_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("UNITSEL_LOG_FILE", c.Log.File)
}

// Validate checks enumerated values and numeric ranges.
func (c *Config) Validate() error {
	switch c.Output.Store {
	case storage.KindMemory, storage.KindFile, storage.KindSQLite:
	default:
		return fmt.Errorf("%w: store %q", ErrInvalidConfig, c.Output.Store)
	}
	if _, err := evaluator.ParseCCMAZeroPolicy(c.Analysis.CCMAZero); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, ok := parseLogLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.Analysis.TopN <= 0 {
		return fmt.Errorf("%w: top_n must be positive", ErrInvalidConfig)
	}
	if c.Analysis.TestRun < 0 || c.Analysis.NumClasses < 0 || c.Analysis.NumLetters < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidConfig)
	}
	if c.Input.Outputs != "" {
		shape := c.Input.OutputShape
		if shape.Items <= 0 || shape.Timesteps <= 0 || shape.Classes <= 0 {
			return fmt.Errorf("%w: output_shape must be positive when outputs is set", ErrInvalidConfig)
		}
	}
	return nil
}

// LogLevel returns the configured level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLogLevel(c.Log.Level)
	return level
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func parseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "", "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
