package provider

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"unitsel/internal/model"
)

// LoadClassCounts reads per-timestep word and letter counts. The boolean
// is false when the file does not exist.
func LoadClassCounts(path string) (model.ClassCounts, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.ClassCounts{}, false, nil
		}
		return model.ClassCounts{}, false, err
	}
	var counts model.ClassCounts
	if err := json.Unmarshal(data, &counts); err != nil {
		return model.ClassCounts{}, false, fmt.Errorf("decode class counts %s: %w", path, err)
	}
	return counts, true, nil
}

func SaveClassCounts(path string, counts model.ClassCounts) error {
	data, err := json.MarshalIndent(counts, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// CountLabels derives word counts from the observations of one record.
func CountLabels(observations []model.Observation) model.ClassCount {
	counts := make(model.ClassCount)
	for _, obs := range observations {
		counts[obs.Label]++
	}
	return counts
}

// CountParts derives letter counts from the observations of one record.
// An item containing a letter twice counts once.
func CountParts(observations []model.Observation) model.ClassCount {
	counts := make(model.ClassCount)
	for _, obs := range observations {
		for _, part := range uniqueParts(obs.Parts) {
			counts[part]++
		}
	}
	return counts
}

// ItemsPerClass builds per-timestep word and letter counts from each item's
// word-label sequence. vocab maps a word label to its letter ids; it may be
// nil when letter counts are not needed.
func ItemsPerClass(labelSeqs [][]int, vocab map[int][]int) model.ClassCounts {
	counts := model.ClassCounts{
		Words:   make(map[int]model.ClassCount),
		Letters: make(map[int]model.ClassCount),
	}
	for _, seq := range labelSeqs {
		for ts, word := range seq {
			if counts.Words[ts] == nil {
				counts.Words[ts] = make(model.ClassCount)
			}
			counts.Words[ts][word]++
			if vocab == nil {
				continue
			}
			if counts.Letters[ts] == nil {
				counts.Letters[ts] = make(model.ClassCount)
			}
			for _, letter := range uniqueParts(vocab[word]) {
				counts.Letters[ts][letter]++
			}
		}
	}
	if vocab == nil {
		counts.Letters = nil
	}
	return counts
}

// ReadLabelSequences reads one item per CSV row, one word label per
// timestep column. A header row is skipped when its first field is not an
// integer.
func ReadLabelSequences(in io.Reader) ([][]int, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	seqs := make([][]int, 0, 1024)
	rowIndex := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read label sequence row %d: %w", rowIndex, err)
		}
		rowIndex++
		if blankRecord(record) {
			continue
		}
		seq := make([]int, 0, len(record))
		for i, field := range record {
			value, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				if rowIndex == 1 && i == 0 {
					seq = nil
					break
				}
				return nil, fmt.Errorf("read label sequence row %d: parse column %d: %w", rowIndex, i, err)
			}
			seq = append(seq, value)
		}
		if seq != nil {
			seqs = append(seqs, seq)
		}
	}
	return seqs, nil
}

// LoadVocab reads a JSON object mapping word labels to letter ids.
func LoadVocab(path string) (map[int][]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vocab map[int][]int
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("decode vocab %s: %w", path, err)
	}
	return vocab, nil
}

func uniqueParts(parts []int) []int {
	if len(parts) < 2 {
		return parts
	}
	seen := make(map[int]bool, len(parts))
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		if !seen[part] {
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
