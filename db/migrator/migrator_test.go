package migrator

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestGetMigrationFiles_SortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "notes.md", "0010_c.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o700); err != nil {
		t.Fatal(err)
	}

	m := New(nil, dir, nil)
	files, err := m.getMigrationFiles()
	if err != nil {
		t.Fatalf("getMigrationFiles() error = %v", err)
	}
	want := []string{"0001_a.sql", "0002_b.sql", "0010_c.sql"}
	if !slices.Equal(files, want) {
		t.Errorf("getMigrationFiles() = %v, want %v", files, want)
	}
}

func TestGetMigrationFiles_MissingDir(t *testing.T) {
	m := New(nil, filepath.Join(t.TempDir(), "missing"), nil)
	if _, err := m.getMigrationFiles(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestChecksumOf(t *testing.T) {
	a := checksumOf([]byte("CREATE TABLE x ();"))
	b := checksumOf([]byte("CREATE TABLE x ();"))
	c := checksumOf([]byte("CREATE TABLE y ();"))
	if a != b {
		t.Error("checksum not deterministic")
	}
	if a == c {
		t.Error("different content produced same checksum")
	}
	if len(a) != 64 {
		t.Errorf("checksum length = %d, want 64", len(a))
	}
}
