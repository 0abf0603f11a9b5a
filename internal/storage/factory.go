package storage

import (
	"fmt"
	"path/filepath"
)

const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// DefaultStoreKind is the backend used when none is configured.
func DefaultStoreKind() string {
	return KindFile
}

// NewStore builds a backend rooted at dir. Artifacts are named from outputID.
func NewStore(kind, dir, outputID string) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemoryStore(), nil
	case "", KindFile:
		return NewFileStore(dir, outputID), nil
	case KindSQLite:
		return NewSQLiteStore(SQLiteArtifact(dir, outputID)), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// SQLiteArtifact is the database path for an output id.
func SQLiteArtifact(dir, outputID string) string {
	return filepath.Join(dir, outputID+"_sel.db")
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
