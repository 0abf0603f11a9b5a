package unitsel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unitsel/internal/config"
	"unitsel/internal/provider"
)

// writeRecords writes two sequential layers of three units over four items
// and two timesteps.
func writeRecords(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("layer,unit,timestep,act_func,item,activation,label,parts\n")
	for _, layer := range []string{"hid0", "hid1"} {
		for unit := 0; unit < 3; unit++ {
			for ts := 0; ts < 2; ts++ {
				for item := 0; item < 4; item++ {
					label := item % 2
					act := 0.1 + 0.2*float64(item) + 0.01*float64(unit)
					if label == 1 {
						act += 0.3
					}
					fmt.Fprintf(&b, "%s,%d,%d,ReLU,%d,%.3f,%d,%d;%d\n", layer, unit, ts, item, act, label, label, 2)
				}
			}
		}
	}
	path := filepath.Join(dir, "acts.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func writeOutputs(t *testing.T, dir string, shape provider.Shape) string {
	t.Helper()
	buf := make([]byte, 0, shape.Items*shape.Timesteps*shape.Classes*4)
	for item := 0; item < shape.Items; item++ {
		for ts := 0; ts < shape.Timesteps; ts++ {
			for class := 0; class < shape.Classes; class++ {
				p := float32(0.1)
				if item%2 == class {
					p = 0.9
				}
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p))
			}
		}
	}
	path := filepath.Join(dir, "probs.f32")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input.Records = writeRecords(t, dir)
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.ID = "srn_demo"
	cfg.Output.ResultsTable = filepath.Join(dir, "results.csv")
	cfg.Run.Cond = "demo"
	return cfg
}

func TestClientRunStatusSummarize(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	client, err := New(cfg, nil)
	require.NoError(t, err)

	summary, err := client.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Processed)
	assert.NotEmpty(t, summary.RunID)
	assert.FileExists(t, summary.Manifest)
	assert.InDelta(t, 1.0, summary.Compact.MIMax, 1e-12)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusItem{{Layer: "hid0", Unit: 2}, {Layer: "hid1", Unit: 2}}, status)

	again, err := client.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)

	summaries, err := client.Summaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 12)

	resummarized, err := client.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, summary.ArtifactsDir, resummarized.ArtifactsDir)
}

func TestClientRunWithOutputProbabilities(t *testing.T) {
	cfg := testConfig(t)
	shape := provider.Shape{Items: 4, Timesteps: 2, Classes: 2}
	cfg.Input.Outputs = writeOutputs(t, t.TempDir(), shape)
	cfg.Input.OutputShape = shape
	cfg.Output.Store = "sqlite"

	client, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = client.Run(context.Background())
	require.NoError(t, err)

	summaries, err := client.Summaries(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summaries)
	corr, ok := summaries[0].Lookup("corr_coef")
	require.True(t, ok)
	assert.Greater(t, corr.Value, 0.5)
}

func TestClientLetterRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Letters = true
	client, err := New(cfg, nil)
	require.NoError(t, err)

	summary, err := client.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "srn_demo_lett", summary.OutputID)
}

func TestClientMissingCountsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Input.Counts = filepath.Join(t.TempDir(), "missing.json")
	client, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = client.Run(context.Background())
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected missing input, got=%v", err)
	}
}

func TestClientCounts(t *testing.T) {
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.csv")
	vocab := filepath.Join(dir, "vocab.json")
	require.NoError(t, os.WriteFile(labels, []byte("ts0,ts1\n0,1\n1,1\n0,0\n"), 0o644))
	require.NoError(t, os.WriteFile(vocab, []byte(`{"0":[0,2],"1":[1]}`), 0o644))

	client, err := New(nil, nil)
	require.NoError(t, err)
	out := filepath.Join(dir, "counts.json")
	summary, err := client.Counts(context.Background(), CountsRequest{Labels: labels, Vocab: vocab, Out: out})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Timesteps)
	assert.True(t, summary.Letters)

	counts, found, err := provider.LoadClassCounts(out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, counts.Words[0][0])
	assert.Equal(t, 1, counts.Words[0][1])
	assert.Equal(t, 2, counts.Letters[0][2])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Store = "redis"
	_, err := New(cfg, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}
