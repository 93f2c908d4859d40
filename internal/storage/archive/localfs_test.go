package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/newthinker/tradesim/internal/core"
)

func TestLocalFS_ImplementsStorage(t *testing.T) {
	var _ Storage = (*LocalFS)(nil)
}

func TestLocalFS_WriteRead(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewLocalFS(dir)
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}

	ctx := context.Background()
	data := []byte(`{"run_id":"r1"}`)

	if err := fs.Write(ctx, "runs/2024/r1.json", data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := fs.Read(ctx, "runs/2024/r1.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestLocalFS_WriteReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewLocalFS(dir)
	ctx := context.Background()

	fs.Write(ctx, "r.json", []byte("first"))
	if err := fs.Write(ctx, "r.json", []byte("second")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, _ := fs.Read(ctx, "r.json")
	if string(got) != "second" {
		t.Errorf("got %q", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestLocalFS_RejectsEscape(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())

	err := fs.Write(context.Background(), "../outside.json", []byte("x"))
	if !errors.Is(err, core.ErrStorageFailed) {
		t.Errorf("expected STORAGE_FAILED, got %v", err)
	}
}

func TestLocalFS_Exists(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	exists, _ := fs.Exists(ctx, "nonexistent.json")
	if exists {
		t.Error("expected false for nonexistent file")
	}

	fs.Write(ctx, "exists.json", []byte("data"))
	exists, _ = fs.Exists(ctx, "exists.json")
	if !exists {
		t.Error("expected true for existing file")
	}
}

func TestLocalFS_List(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewLocalFS(dir)
	ctx := context.Background()

	fs.Write(ctx, "runs/ma_crossover/b.json", []byte("b"))
	fs.Write(ctx, "runs/ma_crossover/a.json", []byte("a"))
	fs.Write(ctx, "runs/composite/c.json", []byte("c"))
	os.WriteFile(filepath.Join(dir, "runs", "ma_crossover", ".tmp-x.json-123"), []byte("partial"), 0o644)

	paths, err := fs.List(ctx, "runs/ma_crossover")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"runs/ma_crossover/a.json", "runs/ma_crossover/b.json"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("List = %v, want %v", paths, want)
	}

	paths, err = fs.List(ctx, "nothing/here")
	if err != nil || len(paths) != 0 {
		t.Errorf("missing prefix: %v, %v", paths, err)
	}
}

func TestLocalFS_Delete(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	fs.Write(ctx, "delete.json", []byte("data"))
	if err := fs.Delete(ctx, "delete.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	exists, _ := fs.Exists(ctx, "delete.json")
	if exists {
		t.Error("file should be deleted")
	}
}

func TestNew(t *testing.T) {
	s, err := New(Config{Type: "local", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("New(local): %v", err)
	}
	if _, ok := s.(*LocalFS); !ok {
		t.Errorf("expected *LocalFS, got %T", s)
	}

	if _, err := New(Config{Type: "local"}); !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("expected CONFIG_MISSING, got %v", err)
	}
	if _, err := New(Config{Type: "ftp"}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID, got %v", err)
	}
}
