package inputs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
}

func TestListTopLevelSorted(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "c.txt"))
	touch(t, filepath.Join(dir, "a.txt"))
	touch(t, filepath.Join(dir, "b.txt"))
	touch(t, filepath.Join(dir, "sub", "nested.txt"))

	files, err := List(dir, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.txt"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.txt"),
	}
	if len(files) != len(want) {
		t.Fatalf("List = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("List[%d] = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestListRecursive(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.txt"))
	touch(t, filepath.Join(dir, "sub", "deeper", "b.txt"))

	files, err := List(dir, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List = %v, want 2 files", files)
	}
}

func TestListEmptyAndMissing(t *testing.T) {
	files, err := List(t.TempDir(), false)
	if err != nil {
		t.Fatalf("List on empty dir: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("List = %v, want none", files)
	}

	if _, err := List(filepath.Join(t.TempDir(), "missing"), false); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("List on missing dir err = %v", err)
	}
}
