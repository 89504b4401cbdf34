package featstore

import (
	"context"
	"sync"

	"github.com/calvinalkan/featstore/pkg/feature"
)

// fetchChunks resolves every chunk through the cache and streams the
// features on refID overlapping [minPos, maxPos] to onFeature.
//
// The returned error is the single terminal signal for the call: nil after
// every chunk resolved and was scanned, or the first failure. Oversized
// chunks fail the call before any lookup starts. Lookups run concurrently
// and are not cancelled by a failure in a sibling; their results are
// dropped once the call has failed, but they still populate the cache.
//
// onFeature is never called concurrently and never after fetchChunks has
// returned. Within a chunk, features arrive in stored order; across chunks
// in whatever order the chunks resolve.
func (s *Store) fetchChunks(
	ctx context.Context, chunks []feature.Chunk, refID int, minPos, maxPos int64, onFeature func(feature.Feature),
) error {
	if len(chunks) == 0 {
		return nil
	}

	if limit := s.opts.chunkSizeLimit; limit > 0 {
		for _, c := range chunks {
			if c.Size > limit {
				s.counters.overflows.Add(1)

				return &OverflowError{Chunk: c.ID, Size: c.Size, Limit: limit}
			}
		}
	}

	run := &fetchRun{
		onFeature: onFeature,
		pending:   len(chunks),
		done:      make(chan struct{}),
		refID:     refID,
		minPos:    minPos,
		maxPos:    maxPos,
	}

	for _, c := range chunks {
		go func() {
			features, err := s.cache.Get(ctx, c.ID)
			if err != nil && ctx.Err() != nil {
				err = ctx.Err()
			} else if err != nil {
				err = &ChunkError{Chunk: c.ID, Err: err}
			}

			s.counters.chunksFetched.Add(1)
			run.resolve(features, err)
		}()
	}

	select {
	case <-run.done:
	case <-ctx.Done():
		run.abort(ctx.Err())
	}

	return run.result()
}

// fetchRun joins the lookups of one fetchChunks call.
type fetchRun struct {
	onFeature func(feature.Feature)
	refID     int
	minPos    int64
	maxPos    int64

	mu       sync.Mutex
	pending  int
	finished bool // latched on the first error or when pending reaches 0
	err      error
	done     chan struct{}
}

func (r *fetchRun) resolve(features []feature.Feature, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending--

	if r.finished {
		return
	}

	if err != nil {
		r.finishLocked(err)

		return
	}

	feature.Scan(features, r.refID, r.minPos, r.maxPos, func(f feature.Feature) bool {
		r.onFeature(f)

		return true
	})

	if r.pending == 0 {
		r.finishLocked(nil)
	}
}

func (r *fetchRun) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finishLocked(err)
}

func (r *fetchRun) finishLocked(err error) {
	if r.finished {
		return
	}

	r.finished = true
	r.err = err
	close(r.done)
}

func (r *fetchRun) result() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}
