package storage

import (
	"context"
	"errors"
	"sort"

	"unitsel/internal/model"
)

var (
	ErrNotInitialized = errors.New("store is not initialized")
	ErrKeyMismatch    = errors.New("entry result and summary keys differ")
)

// Entry is the atomic unit of aggregation: the full per-class results for
// one (layer, unit, timestep) and their best-class summary.
type Entry struct {
	Key     model.UnitKey     `json:"key"`
	Result  model.UnitResult  `json:"result"`
	Summary model.UnitSummary `json:"summary"`
}

// Store persists completed unit entries. A Write is all-or-nothing and
// durable before it returns.
type Store interface {
	Init(ctx context.Context) error
	IsCompleted(ctx context.Context, key model.UnitKey) (bool, error)
	Write(ctx context.Context, entry Entry) error
	// ResumeCursor returns the highest unit index with a completed entry in
	// layer, or false when the layer has none.
	ResumeCursor(ctx context.Context, layer string) (int, bool, error)
	Layers(ctx context.Context) ([]string, error)
	// Entries returns every completed entry ordered by key.
	Entries(ctx context.Context) ([]Entry, error)
}

func validateEntry(entry Entry) error {
	if entry.Result.Key != entry.Key || entry.Summary.Key != entry.Key {
		return ErrKeyMismatch
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})
}

func layersOf(entries []Entry) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, entry := range entries {
		if _, ok := seen[entry.Key.Layer]; ok {
			continue
		}
		seen[entry.Key.Layer] = struct{}{}
		out = append(out, entry.Key.Layer)
	}
	sort.Strings(out)
	return out
}
