package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/FranksOps/serpent/internal/storage/storagetest"
)

func TestSQLiteBackend(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "serpent.db")
	b, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	storagetest.Exercise(t, b, "cats")

	if got := b.Location(); got != "sqlite:"+dsn {
		t.Errorf("unexpected location %q", got)
	}
}

func TestSQLiteBackend_MemoryLocation(t *testing.T) {
	b, err := New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	if got := b.Location(); got != "sqlite::memory:" {
		t.Errorf("unexpected location %q", got)
	}
}
