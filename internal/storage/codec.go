package storage

import (
	"encoding/json"
	"errors"

	"unitsel/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeResult(r model.UnitResult) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeResult(data []byte) (model.UnitResult, error) {
	var result model.UnitResult
	if err := json.Unmarshal(data, &result); err != nil {
		return model.UnitResult{}, err
	}
	if err := checkVersion(result.VersionedRecord); err != nil {
		return model.UnitResult{}, err
	}
	return result, nil
}

func EncodeSummary(s model.UnitSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSummary(data []byte) (model.UnitSummary, error) {
	var summary model.UnitSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.UnitSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.UnitSummary{}, err
	}
	return summary, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
