package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "file", cfg.Output.Store)
	assert.True(t, cfg.Analysis.CorrectOnly)
	assert.True(t, cfg.Analysis.Exhaustive)
	assert.Equal(t, 3, cfg.Analysis.TopN)
	assert.Equal(t, 1.0, cfg.Analysis.HighSelThreshold)
	assert.Equal(t, "fail", cfg.Analysis.CCMAZero)
	require.NoError(t, cfg.Validate())
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unitsel.yaml")
	body := `
input:
  records: acts.csv
output:
  dir: out
  id: rnn_v1
analysis:
  letters: true
  top_n: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acts.csv", cfg.Input.Records)
	assert.Equal(t, "rnn_v1", cfg.Output.ID)
	assert.True(t, cfg.Analysis.Letters)
	assert.Equal(t, 5, cfg.Analysis.TopN)
	assert.True(t, cfg.Analysis.CorrectOnly)
	assert.Equal(t, "file", cfg.Output.Store)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unitsel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  store: file\n"), 0o644))
	t.Setenv("UNITSEL_STORE", "sqlite")
	t.Setenv("UNITSEL_CORRECT_ONLY", "false")
	t.Setenv("UNITSEL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Output.Store)
	assert.False(t, cfg.Analysis.CorrectOnly)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Analysis, cfg.Analysis)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "unitsel.yaml")
	cfg := Default()
	cfg.Output.ID = "saved"
	cfg.Input.Outputs = "probs.f32"
	cfg.Input.OutputShape.Items = 10
	cfg.Input.OutputShape.Timesteps = 3
	cfg.Input.OutputShape.Classes = 30
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"store":     func(c *Config) { c.Output.Store = "redis" },
		"ccma":      func(c *Config) { c.Analysis.CCMAZero = "nan" },
		"log level": func(c *Config) { c.Log.Level = "loud" },
		"top n":     func(c *Config) { c.Analysis.TopN = 0 },
		"shape":     func(c *Config) { c.Input.Outputs = "probs.f32" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected invalid config, got=%v", err)
			}
		})
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, true, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("unit written", "unit", "hid0/unit 1/ff")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "msg=\"unit written\"")
	assert.True(t, strings.HasPrefix(file.String(), "{"))
	assert.Contains(t, file.String(), `"unit":"hid0/unit 1/ff"`)
}

func TestSetupLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, cleanup, err := SetupLogger(path, slog.LevelInfo)
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
