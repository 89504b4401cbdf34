package featstore

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/calvinalkan/featstore/pkg/feature"
)

// Sentinel errors returned by store operations.
//
// Callers should use [errors.Is] to classify failures:
//
//	if errors.Is(err, featstore.ErrChunkOverflow) {
//	    // zoom in and retry
//	}
var (
	// ErrInitialization indicates the index or byte source could not be
	// loaded. It is fatal: every query and statistics call on the store
	// returns it.
	ErrInitialization = errors.New("featstore: initialization failed")

	// ErrChunkOverflow indicates a query selected a chunk larger than the
	// configured chunk size limit. Only that query fails.
	ErrChunkOverflow = errors.New("featstore: chunk overflow")

	// ErrFetchDecode indicates one chunk could not be fetched or decoded.
	// The failure is not cached; a later query retries the chunk.
	ErrFetchDecode = errors.New("featstore: chunk fetch failed")

	// ErrInvalidQuery indicates a malformed query window.
	ErrInvalidQuery = errors.New("featstore: invalid query")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("featstore: closed")
)

// InitError wraps the cause of an initialization failure with the stage that
// failed ("index" or "stats").
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInitialization) true.
func (e *InitError) Is(target error) bool { return target == ErrInitialization }

// OverflowError reports a chunk whose size exceeds the chunk size limit.
type OverflowError struct {
	Chunk feature.ChunkID
	Size  int64
	Limit int64
}

func (e *OverflowError) Error() string {
	return "too many features: chunk size " + commify(e.Size) +
		" bytes exceeds chunk size limit of " + commify(e.Limit) + " bytes"
}

// Is makes errors.Is(err, ErrChunkOverflow) true.
func (e *OverflowError) Is(target error) bool { return target == ErrChunkOverflow }

// ChunkError wraps a fetch or decode failure for one chunk.
type ChunkError struct {
	Chunk feature.ChunkID
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("fetch chunk %s: %v", e.Chunk, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ChunkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetchDecode) true.
func (e *ChunkError) Is(target error) bool { return target == ErrFetchDecode }

// commify formats n with thousands separators.
func commify(n int64) string {
	s := strconv.FormatInt(n, 10)

	sign := ""
	if s[0] == '-' {
		sign, s = "-", s[1:]
	}

	if len(s) <= 3 {
		return sign + s
	}

	out := make([]byte, 0, len(s)+len(s)/3)

	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}

	out = append(out, s[:lead]...)

	for i := lead; i < len(s); i += 3 {
		out = append(out, ',')
		out = append(out, s[i:i+3]...)
	}

	return sign + string(out)
}
