package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"unitsel/internal/model"
)

func TestDecodeSummaryFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("unit_summary_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	summary, err := DecodeSummary(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	want := model.UnitKey{Layer: "hid0", Unit: 7, Timestep: 2}
	if summary.Key != want {
		t.Fatalf("unexpected key: got=%+v want=%+v", summary.Key, want)
	}
	thr, ok := summary.Lookup(model.MetricMaxInfoThr)
	if !ok || !thr.Ancillary || thr.Class != 3 {
		t.Fatalf("unexpected ancillary entry: %+v", thr)
	}
}

func TestDecodeSummaryRejectsOldSchema(t *testing.T) {
	data, err := os.ReadFile(fixturePath("unit_summary_v0.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if _, err := DecodeSummary(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got=%v", err)
	}
}

func TestResultCodecRoundTrip(t *testing.T) {
	input := sampleEntry("hid1", 4, 0).Result
	encoded, err := EncodeResult(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeResult(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Key != input.Key || len(decoded.Classes) != len(input.Classes) {
		t.Fatalf("unexpected decoded result: %+v", decoded)
	}
	if decoded.Classes[1].MaxInformed != input.Classes[1].MaxInformed {
		t.Fatalf("class values lost: got=%v want=%v", decoded.Classes[1].MaxInformed, input.Classes[1].MaxInformed)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func sampleEntry(layer string, unit, timestep int) Entry {
	key := model.UnitKey{Layer: layer, Unit: unit, Timestep: timestep}
	version := model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	return Entry{
		Key: key,
		Result: model.UnitResult{
			VersionedRecord: version,
			Key:             key,
			Activation:      model.ActivationReLU,
			Items:           10,
			Metrics:         []model.Metric{model.MetricROCAUC, model.MetricMaxInformed},
			Classes: []model.ClassResult{
				{Class: 0, Size: 5, ROCAUC: 0.4, MaxInformed: 0.1},
				{Class: 1, Size: 5, ROCAUC: 0.9, MaxInformed: 0.6},
			},
		},
		Summary: model.UnitSummary{
			VersionedRecord: version,
			Key:             key,
			Best: []model.BestClass{
				{Metric: model.MetricROCAUC, Value: 0.9, Class: 1},
				{Metric: model.MetricMaxInformed, Value: 0.6, Class: 1},
			},
		},
	}
}
