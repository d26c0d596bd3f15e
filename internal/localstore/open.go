package localstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// Open returns the storage backend named by kind, rooted at dir.
func Open(ctx context.Context, kind, dir string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindFile:
		return NewFile(dir)
	case KindSQLite:
		if _, err := NewFile(dir); err != nil {
			return nil, err
		}
		return OpenSQLite(ctx, filepath.Join(dir, "state.db"))
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", kind)
	}
}
