// Package featfile reads and writes indexed binary feature files.
//
// A feature file is a data file plus a SQLite block index built beside it
// (see [featindex]). The data file is a fixed header followed by chunk
// frames; each frame holds the records of one chunk, sorted by reference id
// and start:
//
//	header (64 bytes)
//	  0  magic "FEAT"
//	  4  version    u16
//	  6  flags      u16   (bit 0: payloads are zstd compressed)
//	  8  file id    [16]  (UUIDv7, repeated in the index)
//	 24  chunks     u32
//	 28  records    u64
//	 36  reserved   [28]
//
//	frame
//	  0  payload length u32
//	  4  raw length     u32   (decompressed)
//	  8  checksum       u64   (xxhash64 of the stored payload)
//	 16  payload
//
//	record (inside the raw payload)
//	  ref id u32, start i64, end i64, strand i8, score f32, name length u16, name
//
// All integers are little-endian.
package featfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/calvinalkan/featstore/pkg/feature"
)

const (
	magic           = "FEAT"
	formatVersion   = 1
	headerSize      = 64
	frameHeaderSize = 16
	recordFixedSize = 4 + 8 + 8 + 1 + 4 + 2

	flagZstd uint16 = 1 << 0

	// maxRawChunk bounds the decompressed size a frame may claim.
	maxRawChunk = 256 << 20
)

var (
	// ErrInvalidMagic reports a file that is not a feature file.
	ErrInvalidMagic = errors.New("featfile: invalid magic")

	// ErrVersion reports a feature file written by an incompatible version.
	ErrVersion = errors.New("featfile: unsupported version")

	// ErrCorrupt reports a frame or record that fails validation, including
	// checksum mismatches.
	ErrCorrupt = errors.New("featfile: corrupt data")

	// ErrIndexMismatch reports an index built for a different data file.
	ErrIndexMismatch = errors.New("featfile: index does not match data file")

	// ErrNotLoaded is returned by reads before [File.Load] succeeded.
	ErrNotLoaded = errors.New("featfile: not loaded")
)

// Header is the decoded file header.
type Header struct {
	Version uint16
	Flags   uint16
	FileID  uuid.UUID
	Chunks  uint32
	Records uint64
}

// Compressed reports whether chunk payloads are zstd compressed.
func (h Header) Compressed() bool { return h.Flags&flagZstd != 0 }

func encodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)

	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	copy(buf[8:24], h.FileID[:])
	binary.LittleEndian.PutUint32(buf[24:28], h.Chunks)
	binary.LittleEndian.PutUint64(buf[28:36], h.Records)

	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes", ErrCorrupt, len(buf))
	}

	if string(buf[0:4]) != magic {
		return Header{}, ErrInvalidMagic
	}

	h := Header{
		Version: binary.LittleEndian.Uint16(buf[4:6]),
		Flags:   binary.LittleEndian.Uint16(buf[6:8]),
		Chunks:  binary.LittleEndian.Uint32(buf[24:28]),
		Records: binary.LittleEndian.Uint64(buf[28:36]),
	}

	if h.Version != formatVersion {
		return Header{}, fmt.Errorf("%w: got %d, want %d", ErrVersion, h.Version, formatVersion)
	}

	copy(h.FileID[:], buf[8:24])

	return h, nil
}

func appendRecord(buf []byte, f *feature.Feature) ([]byte, error) {
	if len(f.Name) > math.MaxUint16 {
		return nil, fmt.Errorf("feature name is %d bytes, limit %d", len(f.Name), math.MaxUint16)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(f.RefID))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Start))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.End))
	buf = append(buf, byte(f.Strand))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f.Score))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Name)))
	buf = append(buf, f.Name...)

	return buf, nil
}

func decodeRecords(raw []byte) ([]feature.Feature, error) {
	var out []feature.Feature

	for pos := 0; pos < len(raw); {
		if len(raw)-pos < recordFixedSize {
			return nil, fmt.Errorf("%w: truncated record at byte %d", ErrCorrupt, pos)
		}

		rec := raw[pos:]
		nameLen := int(binary.LittleEndian.Uint16(rec[25:27]))

		if len(rec) < recordFixedSize+nameLen {
			return nil, fmt.Errorf("%w: truncated name at byte %d", ErrCorrupt, pos)
		}

		f := feature.Feature{
			RefID:  int(binary.LittleEndian.Uint32(rec[0:4])),
			Start:  int64(binary.LittleEndian.Uint64(rec[4:12])),
			End:    int64(binary.LittleEndian.Uint64(rec[12:20])),
			Strand: feature.Strand(int8(rec[20])),
			Score:  math.Float32frombits(binary.LittleEndian.Uint32(rec[21:25])),
			Name:   string(rec[recordFixedSize : recordFixedSize+nameLen]),
		}

		if f.End < f.Start {
			return nil, fmt.Errorf("%w: record at byte %d ends before it starts", ErrCorrupt, pos)
		}

		out = append(out, f)
		pos += recordFixedSize + nameLen
	}

	return out, nil
}
