package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMigrationFilesSortedSQLOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "README.md", "0001_a.sql", "0010_c.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	want := []string{"0001_a.sql", "0002_b.sql", "0010_c.sql"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrationFilesMissingDir(t *testing.T) {
	if _, err := migrationFiles(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
