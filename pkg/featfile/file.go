package featfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/calvinalkan/featstore/pkg/featindex"
	"github.com/calvinalkan/featstore/pkg/featstore"
	"github.com/calvinalkan/featstore/pkg/feature"
	"github.com/calvinalkan/featstore/pkg/fs"
)

// File is a feature file opened for queries. It implements
// [featstore.Index] and [featstore.ChunkReader]; pass it as both to
// [featstore.New], which calls Load.
type File struct {
	fsys       fs.FS
	dataPath   string
	indexPath  string
	regularize func(string) string

	mu      sync.RWMutex
	data    fs.File
	size    int64
	header  Header
	index   *featindex.Index
	decoder *zstd.Decoder
}

// Option configures a [File].
type Option func(*File)

// WithFS reads the data file through fsys. Defaults to [fs.NewReal].
func WithFS(fsys fs.FS) Option {
	return func(f *File) { f.fsys = fsys }
}

// WithRegularizer sets the reference name canonicalization used by the
// index. Defaults to [feature.RegularizeName].
func WithRegularizer(fn func(string) string) Option {
	return func(f *File) { f.regularize = fn }
}

// Open returns an unloaded File for dataPath and its index at indexPath.
func Open(dataPath, indexPath string, opts ...Option) *File {
	f := &File{
		fsys:       fs.NewReal(),
		dataPath:   dataPath,
		indexPath:  indexPath,
		regularize: feature.RegularizeName,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Load opens the data file and index and checks that they belong together.
// Calling Load again after success is a no-op.
func (f *File) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data != nil {
		return nil
	}

	data, err := f.fsys.Open(f.dataPath)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}

	header, size, err := readHeader(data)
	if err != nil {
		_ = data.Close()

		return fmt.Errorf("%s: %w", f.dataPath, err)
	}

	index, err := featindex.Open(ctx, f.indexPath, featindex.Options{Regularize: f.regularize})
	if err != nil {
		_ = data.Close()

		return fmt.Errorf("open index: %w", err)
	}

	if index.FileID() != header.FileID {
		_ = data.Close()
		_ = index.Close()

		return fmt.Errorf("%w: data %s, index %s", ErrIndexMismatch, header.FileID, index.FileID())
	}

	if header.Compressed() {
		f.decoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxRawChunk))
		if err != nil {
			_ = data.Close()
			_ = index.Close()

			return fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	f.data, f.size, f.header, f.index = data, size, header, index

	return nil
}

func readHeader(data fs.File) (Header, int64, error) {
	info, err := data.Stat()
	if err != nil {
		return Header{}, 0, fmt.Errorf("stat: %w", err)
	}

	if info.Size() < headerSize {
		return Header{}, 0, fmt.Errorf("%w: file is %d bytes", ErrCorrupt, info.Size())
	}

	buf := make([]byte, headerSize)

	if _, err := data.ReadAt(buf, 0); err != nil {
		return Header{}, 0, fmt.Errorf("read header: %w", err)
	}

	header, err := decodeHeader(buf)
	if err != nil {
		return Header{}, 0, err
	}

	return header, info.Size(), nil
}

// Header returns the decoded header. Zero before Load.
func (f *File) Header() Header {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.header
}

// RefID implements [featstore.Index].
func (f *File) RefID(canonical string) (int, bool) {
	index := f.loadedIndex()
	if index == nil {
		return 0, false
	}

	return index.RefID(canonical)
}

// References implements [featstore.Index].
func (f *File) References() []feature.Reference {
	index := f.loadedIndex()
	if index == nil {
		return nil
	}

	return index.References()
}

// ResolveChunks implements [featstore.Index].
func (f *File) ResolveChunks(ctx context.Context, refID int, start, end int64) ([]feature.Chunk, error) {
	index := f.loadedIndex()
	if index == nil {
		return nil, ErrNotLoaded
	}

	return index.ResolveChunks(ctx, refID, start, end)
}

func (f *File) loadedIndex() *featindex.Index {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.index
}

// ReadChunk implements [featstore.ChunkReader]: it reads one frame,
// verifies its checksum and decodes its records. Failures wrap
// [ErrCorrupt] or the read error.
func (f *File) ReadChunk(ctx context.Context, id feature.ChunkID) ([]feature.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	data, size, compressed, decoder := f.data, f.size, f.header.Compressed(), f.decoder
	f.mu.RUnlock()

	if data == nil {
		return nil, ErrNotLoaded
	}

	if id.Offset < headerSize || id.Length < frameHeaderSize || id.Offset+id.Length > size {
		return nil, fmt.Errorf("%w: chunk %s outside file of %d bytes", ErrCorrupt, id, size)
	}

	frame := make([]byte, id.Length)

	if _, err := data.ReadAt(frame, id.Offset); err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", id, err)
	}

	payloadLen := int64(binary.LittleEndian.Uint32(frame[0:4]))
	rawLen := int(binary.LittleEndian.Uint32(frame[4:8]))
	checksum := binary.LittleEndian.Uint64(frame[8:16])

	if payloadLen != id.Length-frameHeaderSize {
		return nil, fmt.Errorf("%w: chunk %s payload length %d", ErrCorrupt, id, payloadLen)
	}

	payload := frame[frameHeaderSize:]

	if got := xxhash.Sum64(payload); got != checksum {
		return nil, fmt.Errorf("%w: chunk %s checksum %016x, want %016x", ErrCorrupt, id, got, checksum)
	}

	raw := payload

	if compressed {
		if rawLen > maxRawChunk {
			return nil, fmt.Errorf("%w: chunk %s claims %d raw bytes", ErrCorrupt, id, rawLen)
		}

		var err error

		raw, err = decoder.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %w", ErrCorrupt, id, err)
		}
	}

	if len(raw) != rawLen {
		return nil, fmt.Errorf("%w: chunk %s decoded to %d bytes, want %d", ErrCorrupt, id, len(raw), rawLen)
	}

	return decodeRecords(raw)
}

// Close releases the data file, the index and the decoder.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data == nil {
		return nil
	}

	var errs []error

	errs = append(errs, f.data.Close(), f.index.Close())

	if f.decoder != nil {
		f.decoder.Close()
	}

	f.data, f.index, f.decoder = nil, nil, nil

	return errors.Join(errs...)
}

var (
	_ featstore.Index       = (*File)(nil)
	_ featstore.ChunkReader = (*File)(nil)
)
