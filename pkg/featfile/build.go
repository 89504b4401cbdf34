package featfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"

	"github.com/calvinalkan/featstore/pkg/featindex"
	"github.com/calvinalkan/featstore/pkg/feature"
	"github.com/calvinalkan/featstore/pkg/fs"
)

// Build defaults.
const (
	DefaultChunkTargetBytes = 64 << 10
	DefaultLockTimeout      = 5 * time.Second
)

// BuildOptions configures [Build].
type BuildOptions struct {
	// ChunkTargetBytes is the raw record bytes after which a chunk is cut.
	// A chunk always holds at least one record.
	ChunkTargetBytes int

	// NoCompression stores payloads uncompressed.
	NoCompression bool

	// LockTimeout bounds the wait for the "<data>.lock" build lock.
	LockTimeout time.Duration

	// FS is used for the build lock. Defaults to [fs.NewReal].
	FS fs.FS
}

// BuildResult summarizes a finished build.
type BuildResult struct {
	FileID     uuid.UUID
	Chunks     int
	Records    int
	References []feature.Reference
}

// IndexPath returns the conventional index path for a data file.
func IndexPath(dataPath string) string {
	return dataPath + ".idx"
}

// Build sorts records, writes them to dataPath as chunk frames and writes
// the matching index to indexPath. Both files are replaced atomically; the
// data file first, then the index. A concurrent build of the same data path
// fails with [fs.ErrWouldBlock] once LockTimeout has passed.
func Build(ctx context.Context, dataPath, indexPath string, records []Record, opts BuildOptions) (BuildResult, error) {
	if opts.ChunkTargetBytes <= 0 {
		opts.ChunkTargetBytes = DefaultChunkTargetBytes
	}

	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	if opts.FS == nil {
		opts.FS = fs.NewReal()
	}

	lock, err := fs.NewLocker(opts.FS).LockWithTimeout(dataPath+".lock", opts.LockTimeout)
	if err != nil {
		return BuildResult{}, fmt.Errorf("lock %s: %w", dataPath, err)
	}

	defer func() { _ = lock.Close() }()

	fileID, err := uuid.NewV7()
	if err != nil {
		return BuildResult{}, fmt.Errorf("generate file id: %w", err)
	}

	refs, features := assignReferences(records)

	w, err := newChunkWriter(fileID, !opts.NoCompression)
	if err != nil {
		return BuildResult{}, err
	}

	defer w.close()

	var pending []feature.Feature

	pendingBytes := 0

	for i := range features {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return BuildResult{}, err
			}
		}

		pending = append(pending, features[i])
		pendingBytes += recordFixedSize + len(features[i].Name)

		if pendingBytes >= opts.ChunkTargetBytes {
			if err := w.writeChunk(pending); err != nil {
				return BuildResult{}, err
			}

			pending, pendingBytes = pending[:0], 0
		}
	}

	if len(pending) > 0 {
		if err := w.writeChunk(pending); err != nil {
			return BuildResult{}, err
		}
	}

	if err := atomic.WriteFile(dataPath, bytes.NewReader(w.finish())); err != nil {
		return BuildResult{}, fmt.Errorf("write %s: %w", dataPath, err)
	}

	manifest := featindex.Manifest{FileID: fileID, References: refs, Chunks: w.entries}
	if err := featindex.Create(ctx, indexPath, manifest); err != nil {
		return BuildResult{}, fmt.Errorf("write index %s: %w", indexPath, err)
	}

	return BuildResult{
		FileID:     fileID,
		Chunks:     w.chunks,
		Records:    len(features),
		References: refs,
	}, nil
}

// assignReferences numbers references in name order and returns the
// features sorted by (ref id, start, end). Reference length is the largest
// end seen.
func assignReferences(records []Record) ([]feature.Reference, []feature.Feature) {
	names := make([]string, 0)
	seen := map[string]bool{}

	for i := range records {
		if !seen[records[i].Ref] {
			seen[records[i].Ref] = true
			names = append(names, records[i].Ref)
		}
	}

	slices.Sort(names)

	refs := make([]feature.Reference, len(names))
	ids := make(map[string]int, len(names))

	for i, name := range names {
		refs[i] = feature.Reference{ID: i, Name: name}
		ids[name] = i
	}

	features := make([]feature.Feature, len(records))

	for i, r := range records {
		id := ids[r.Ref]
		features[i] = feature.Feature{
			RefID:  id,
			Start:  r.Start,
			End:    r.End,
			Name:   r.Name,
			Score:  r.Score,
			Strand: r.Strand,
		}

		refs[id].Length = max(refs[id].Length, r.End)
	}

	slices.SortStableFunc(features, func(a, b feature.Feature) int {
		switch {
		case a.RefID != b.RefID:
			return a.RefID - b.RefID
		case a.Start != b.Start:
			return compareInt64(a.Start, b.Start)
		case a.End != b.End:
			return compareInt64(a.End, b.End)
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})

	return refs, features
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// chunkWriter accumulates the data file in memory.
type chunkWriter struct {
	buf     bytes.Buffer
	header  Header
	encoder *zstd.Encoder
	raw     []byte
	entries []featindex.ChunkEntry
	chunks  int
	records uint64
}

func newChunkWriter(fileID uuid.UUID, compress bool) (*chunkWriter, error) {
	w := &chunkWriter{header: Header{Version: formatVersion, FileID: fileID}}

	if compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}

		w.encoder = enc
		w.header.Flags |= flagZstd
	}

	w.buf.Write(make([]byte, headerSize))

	return w, nil
}

func (w *chunkWriter) writeChunk(features []feature.Feature) error {
	w.raw = w.raw[:0]

	var err error

	for i := range features {
		w.raw, err = appendRecord(w.raw, &features[i])
		if err != nil {
			return err
		}
	}

	if len(w.raw) > maxRawChunk {
		return fmt.Errorf("chunk of %d bytes exceeds %d", len(w.raw), maxRawChunk)
	}

	payload := w.raw
	if w.encoder != nil {
		payload = w.encoder.EncodeAll(w.raw, nil)
	}

	offset := int64(w.buf.Len())
	length := int64(frameHeaderSize + len(payload))

	var frame [frameHeaderSize]byte

	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(w.raw)))
	binary.LittleEndian.PutUint64(frame[8:16], xxhash.Sum64(payload))

	w.buf.Write(frame[:])
	w.buf.Write(payload)

	w.entries = append(w.entries, chunkEntries(features, offset, length)...)
	w.chunks++
	w.records += uint64(len(features))

	return nil
}

// chunkEntries returns one index entry per reference present in the chunk.
func chunkEntries(features []feature.Feature, offset, length int64) []featindex.ChunkEntry {
	var entries []featindex.ChunkEntry

	for i := range features {
		f := &features[i]

		if n := len(entries); n > 0 && entries[n-1].RefID == f.RefID {
			last := &entries[n-1]
			last.MaxEnd = max(last.MaxEnd, f.End)
			last.Records++

			continue
		}

		entries = append(entries, featindex.ChunkEntry{
			RefID:    f.RefID,
			MinStart: f.Start,
			MaxEnd:   f.End,
			Offset:   offset,
			Length:   length,
			Records:  1,
		})
	}

	return entries
}

// finish fills in the header and returns the whole data file.
func (w *chunkWriter) finish() []byte {
	w.header.Chunks = uint32(w.chunks)
	w.header.Records = w.records

	out := w.buf.Bytes()
	copy(out[:headerSize], encodeHeader(w.header))

	return out
}

func (w *chunkWriter) close() {
	if w.encoder != nil {
		_ = w.encoder.Close()
	}
}

// ErrEmptyInput is returned by [BuildFromBED] when the input has no records.
var ErrEmptyInput = errors.New("featfile: no records")

// BuildFromBED parses BED input with [ParseBED] and builds it.
func BuildFromBED(ctx context.Context, dataPath, indexPath string, input io.Reader, opts BuildOptions) (BuildResult, error) {
	records, err := ParseBED(input)
	if err != nil {
		return BuildResult{}, err
	}

	if len(records) == 0 {
		return BuildResult{}, ErrEmptyInput
	}

	return Build(ctx, dataPath, indexPath, records, opts)
}
