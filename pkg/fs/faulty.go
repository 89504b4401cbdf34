package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrInjected is returned by operations failed by [Faulty].
var ErrInjected = errors.New("injected fault")

// Faulty wraps an [FS] and fails reads on request. Unlike randomized fault
// injection it is deterministic: each rule fails a fixed number of matching
// calls and then lets them through, which is what retry tests need.
//
// Faulty is safe for concurrent use.
type Faulty struct {
	fs FS

	mu    sync.Mutex
	rules []*faultRule
}

type faultRule struct {
	path      string
	open      bool  // fail Open/OpenFile instead of ReadAt
	offset    int64 // ReadAt offset to match; -1 matches any
	remaining int   // -1 fails forever
}

// NewFaulty wraps fsys.
func NewFaulty(fsys FS) *Faulty {
	if fsys == nil {
		panic("fs is nil")
	}

	return &Faulty{fs: fsys}
}

// FailReadAt makes the next times ReadAt calls on path at offset fail with
// [ErrInjected]. An offset of -1 matches every offset; times of -1 fails
// every matching call.
func (f *Faulty) FailReadAt(path string, offset int64, times int) {
	f.addRule(&faultRule{path: filepath.Clean(path), offset: offset, remaining: times})
}

// FailOpen makes the next times opens of path fail with [ErrInjected].
func (f *Faulty) FailOpen(path string, times int) {
	f.addRule(&faultRule{path: filepath.Clean(path), open: true, offset: -1, remaining: times})
}

// Reset removes all rules.
func (f *Faulty) Reset() {
	f.mu.Lock()
	f.rules = nil
	f.mu.Unlock()
}

func (f *Faulty) addRule(r *faultRule) {
	f.mu.Lock()
	f.rules = append(f.rules, r)
	f.mu.Unlock()
}

// take consumes one matching rule and reports whether the call must fail.
func (f *Faulty) take(path string, open bool, offset int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.rules {
		if r.path != path || r.open != open || r.remaining == 0 {
			continue
		}

		if !open && r.offset >= 0 && r.offset != offset {
			continue
		}

		if r.remaining > 0 {
			r.remaining--
		}

		return true
	}

	return false
}

// Open opens path through the wrapped FS.
func (f *Faulty) Open(path string) (File, error) {
	return f.OpenFile(path, os.O_RDONLY, 0)
}

// OpenFile opens path through the wrapped FS.
func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	clean := filepath.Clean(path)

	if f.take(clean, true, -1) {
		return nil, &os.PathError{Op: "open", Path: path, Err: ErrInjected}
	}

	file, err := f.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, owner: f, path: clean}, nil
}

// ReadFile passes through to the wrapped FS.
func (f *Faulty) ReadFile(path string) ([]byte, error) { return f.fs.ReadFile(path) }

// MkdirAll passes through to the wrapped FS.
func (f *Faulty) MkdirAll(path string, perm os.FileMode) error { return f.fs.MkdirAll(path, perm) }

// Stat passes through to the wrapped FS.
func (f *Faulty) Stat(path string) (os.FileInfo, error) { return f.fs.Stat(path) }

// Exists passes through to the wrapped FS.
func (f *Faulty) Exists(path string) (bool, error) { return f.fs.Exists(path) }

// Remove passes through to the wrapped FS.
func (f *Faulty) Remove(path string) error { return f.fs.Remove(path) }

type faultyFile struct {
	File

	owner *Faulty
	path  string
}

func (ff *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	if ff.owner.take(ff.path, false, off) {
		return 0, fmt.Errorf("read %s at %d: %w", ff.path, off, ErrInjected)
	}

	return ff.File.ReadAt(p, off)
}

// Compile-time interface check.
var _ FS = (*Faulty)(nil)
