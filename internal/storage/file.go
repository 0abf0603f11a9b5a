package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"unitsel/internal/model"
)

var ErrCorruptStore = errors.New("store artifact is corrupt")

const (
	resultsSuffix = "_sel_per_unit.json"
	summarySuffix = "_max_sel_p_unit.json"
)

// ResultsArtifact is the path of the all-results mapping for an output id.
func ResultsArtifact(dir, outputID string) string {
	return filepath.Join(dir, outputID+resultsSuffix)
}

// SummaryArtifact is the path of the best-class summary mapping for an output id.
func SummaryArtifact(dir, outputID string) string {
	return filepath.Join(dir, outputID+summarySuffix)
}

// layer -> unit -> timestep
type resultsDocument struct {
	model.VersionedRecord
	Layers map[string]map[int]map[int]model.UnitResult `json:"layers"`
}

type summaryDocument struct {
	model.VersionedRecord
	Layers map[string]map[int]map[int]model.UnitSummary `json:"layers"`
}

// FileStore keeps the aggregation as two nested JSON mappings, each
// rewritten wholesale on every write. The all-results file is replaced
// before the summary file; an entry counts as completed only once it is
// present in both.
type FileStore struct {
	dir      string
	outputID string

	mu          sync.RWMutex
	initialized bool
	entries     map[model.UnitKey]Entry
}

func NewFileStore(dir, outputID string) *FileStore {
	return &FileStore{dir: dir, outputID: outputID}
}

func (s *FileStore) ResultsPath() string {
	return ResultsArtifact(s.dir, s.outputID)
}

func (s *FileStore) SummaryPath() string {
	return SummaryArtifact(s.dir, s.outputID)
}

func (s *FileStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" || s.outputID == "" {
		return errors.New("file store requires a directory and an output id")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	var results resultsDocument
	resultsFound, err := readDocument(s.ResultsPath(), &results)
	if err != nil {
		return err
	}
	var summaries summaryDocument
	summaryFound, err := readDocument(s.SummaryPath(), &summaries)
	if err != nil {
		return err
	}
	if resultsFound {
		if err := checkVersion(results.VersionedRecord); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.ResultsPath(), err)
		}
	}
	if summaryFound {
		if err := checkVersion(summaries.VersionedRecord); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.SummaryPath(), err)
		}
	}

	s.entries = make(map[model.UnitKey]Entry)
	for layer, units := range summaries.Layers {
		for unit, timesteps := range units {
			for timestep, summary := range timesteps {
				result, ok := results.Layers[layer][unit][timestep]
				if !ok {
					continue
				}
				key := model.UnitKey{Layer: layer, Unit: unit, Timestep: timestep}
				s.entries[key] = Entry{Key: key, Result: result, Summary: summary}
			}
		}
	}
	s.initialized = true
	return nil
}

func (s *FileStore) IsCompleted(_ context.Context, key model.UnitKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	_, ok := s.entries[key]
	return ok, nil
}

func (s *FileStore) Write(_ context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	next := make(map[model.UnitKey]Entry, len(s.entries)+1)
	for key, existing := range s.entries {
		next[key] = existing
	}
	next[entry.Key] = entry

	results := resultsDocument{
		VersionedRecord: currentVersion(),
		Layers:          make(map[string]map[int]map[int]model.UnitResult),
	}
	summaries := summaryDocument{
		VersionedRecord: currentVersion(),
		Layers:          make(map[string]map[int]map[int]model.UnitSummary),
	}
	for key, e := range next {
		if results.Layers[key.Layer] == nil {
			results.Layers[key.Layer] = make(map[int]map[int]model.UnitResult)
			summaries.Layers[key.Layer] = make(map[int]map[int]model.UnitSummary)
		}
		if results.Layers[key.Layer][key.Unit] == nil {
			results.Layers[key.Layer][key.Unit] = make(map[int]model.UnitResult)
			summaries.Layers[key.Layer][key.Unit] = make(map[int]model.UnitSummary)
		}
		results.Layers[key.Layer][key.Unit][key.Timestep] = e.Result
		summaries.Layers[key.Layer][key.Unit][key.Timestep] = e.Summary
	}

	if err := writeDocument(s.ResultsPath(), results); err != nil {
		return fmt.Errorf("write %s: %w", entry.Key, err)
	}
	if err := writeDocument(s.SummaryPath(), summaries); err != nil {
		return fmt.Errorf("write %s: %w", entry.Key, err)
	}
	s.entries = next
	return nil
}

func (s *FileStore) ResumeCursor(_ context.Context, layer string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return 0, false, ErrNotInitialized
	}
	cursor, found := 0, false
	for key := range s.entries {
		if key.Layer == layer && (!found || key.Unit > cursor) {
			cursor, found = key.Unit, true
		}
	}
	return cursor, found, nil
}

func (s *FileStore) Layers(ctx context.Context) ([]string, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return layersOf(entries), nil
}

func (s *FileStore) Entries(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sortEntries(out)
	return out, nil
}

func currentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func readDocument(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}
	return true, nil
}

// writeDocument replaces path through a synced temp file, a rename and a
// sync of the parent directory, so a crash leaves either the old or the new
// document.
func writeDocument(path string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(path))
}

// syncDir flushes a directory so a completed rename survives a crash.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}
