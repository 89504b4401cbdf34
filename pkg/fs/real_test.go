package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func Test_RealFS_Exists_Returns_False_When_Path_Does_Not_Exist(t *testing.T) {
	fs := NewReal()
	dir := t.TempDir()

	exists, err := fs.Exists(filepath.Join(dir, "does-not-exist.feat"))

	if got, want := err, error(nil); !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if got, want := exists, false; got != want {
		t.Fatalf("exists=%v, want=%v", got, want)
	}
}

func Test_RealFS_Exists_Returns_True_When_Path_Is_A_Directory(t *testing.T) {
	fs := NewReal()
	subdir := filepath.Join(t.TempDir(), "subdir")

	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	exists, err := fs.Exists(subdir)
	if err != nil {
		t.Fatalf("err=%v", err)
	}

	if !exists {
		t.Fatal("exists=false, want true")
	}
}

func Test_RealFS_ReadAt_Reads_Window_When_File_Open(t *testing.T) {
	fs := NewReal()
	path := filepath.Join(t.TempDir(), "data.bin")

	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	f, err := fs.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 3)

	if _, err := f.ReadAt(buf, 4); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}

	if got, want := string(buf), "456"; got != want {
		t.Fatalf("ReadAt=%q, want=%q", got, want)
	}
}
