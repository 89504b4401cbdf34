package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calvinalkan/featstore/pkg/fs"
)

// Contract: a held lock excludes a second TryLock until it is released.
func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Lock_Held(t *testing.T) {
	t.Parallel()

	locker := fs.NewLocker(fs.NewReal())
	path := filepath.Join(t.TempDir(), "nested", "genes.feat.lock")

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}

	if _, err := locker.TryLock(path); !errors.Is(err, fs.ErrWouldBlock) {
		t.Fatalf("second TryLock err=%v, want ErrWouldBlock", err)
	}

	if err := held.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := held.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	again, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}

	_ = again.Close()
}

// Contract: LockWithTimeout gives up after the timeout and rejects
// non-positive timeouts.
func Test_Locker_LockWithTimeout_Times_Out_When_Lock_Held(t *testing.T) {
	t.Parallel()

	locker := fs.NewLocker(fs.NewReal())
	path := filepath.Join(t.TempDir(), "build.lock")

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer held.Close()

	started := time.Now()

	if _, err := locker.LockWithTimeout(path, 30*time.Millisecond); !errors.Is(err, fs.ErrWouldBlock) {
		t.Fatalf("LockWithTimeout err=%v, want ErrWouldBlock", err)
	}

	if elapsed := time.Since(started); elapsed < 30*time.Millisecond {
		t.Fatalf("returned after %s, before the timeout", elapsed)
	}

	if _, err := locker.LockWithTimeout(path, 0); !errors.Is(err, fs.ErrInvalidTimeout) {
		t.Fatalf("zero timeout err=%v, want ErrInvalidTimeout", err)
	}
}

// Contract: Faulty fails the configured number of matching reads and then
// passes through.
func Test_Faulty_ReadAt_Fails_Configured_Times_When_Offset_Matches(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("abcdefgh"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.FailReadAt(path, 2, 1)

	f, err := faulty.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 2)

	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt(0): %v", err)
	}

	if _, err := f.ReadAt(buf, 2); !errors.Is(err, fs.ErrInjected) {
		t.Fatalf("ReadAt(2) err=%v, want ErrInjected", err)
	}

	if _, err := f.ReadAt(buf, 2); err != nil {
		t.Fatalf("ReadAt(2) retry: %v", err)
	}

	if got := string(buf); got != "cd" {
		t.Fatalf("ReadAt(2)=%q, want cd", got)
	}
}

// Contract: FailOpen fails opens of the path only.
func Test_Faulty_Open_Fails_When_Path_Configured(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad")
	good := filepath.Join(dir, "good")

	for _, p := range []string{bad, good} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}

	faulty := fs.NewFaulty(fs.NewReal())
	faulty.FailOpen(bad, -1)

	if _, err := faulty.Open(bad); !errors.Is(err, fs.ErrInjected) {
		t.Fatalf("Open(bad) err=%v, want ErrInjected", err)
	}

	f, err := faulty.Open(good)
	if err != nil {
		t.Fatalf("Open(good): %v", err)
	}

	_ = f.Close()
}
