// Package feature defines the records, chunk descriptors and range filter
// shared by the feature file reader, the chunk cache and the query store.
package feature

import (
	"fmt"
	"regexp"
	"strings"
)

// Strand is the orientation of a feature on its reference.
type Strand int8

// Strand values, matching the BED strand column.
const (
	StrandUnknown Strand = 0
	StrandForward Strand = 1
	StrandReverse Strand = -1
)

// String returns the BED representation ("+", "-" or ".").
func (s Strand) String() string {
	switch s {
	case StrandForward:
		return "+"
	case StrandReverse:
		return "-"
	default:
		return "."
	}
}

// MarshalText encodes the strand as "+", "-" or ".".
func (s Strand) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of [Strand.MarshalText].
func (s *Strand) UnmarshalText(text []byte) error {
	*s = ParseStrand(string(text))

	return nil
}

// ParseStrand parses a BED strand column. Anything other than "+" or "-"
// is [StrandUnknown].
func ParseStrand(s string) Strand {
	switch s {
	case "+":
		return StrandForward
	case "-":
		return StrandReverse
	default:
		return StrandUnknown
	}
}

// Feature is one decoded record. Features are immutable after decode; the
// store hands out copies.
//
// Start and End are in physical coordinates unless Projected is set, in
// which case they are logical coordinates and OriginalStart/OriginalEnd hold
// the physical position used for range filtering.
type Feature struct {
	// RefID is the index-assigned reference id.
	RefID int `json:"ref_id"`
	// Ref is the reference name. Decoders leave it empty; the store fills it in.
	Ref    string  `json:"ref,omitempty"`
	Start  int64   `json:"start"`
	End    int64   `json:"end"`
	Name   string  `json:"name,omitempty"`
	Score  float32 `json:"score"`
	Strand Strand  `json:"strand"`

	Projected     bool  `json:"projected,omitempty"`
	OriginalStart int64 `json:"original_start,omitempty"`
	OriginalEnd   int64 `json:"original_end,omitempty"`
}

// Span returns the coordinates used for range comparisons: the original
// physical coordinates for projected features, the stored ones otherwise.
func (f *Feature) Span() (start, end int64) {
	if f.Projected {
		return f.OriginalStart, f.OriginalEnd
	}

	return f.Start, f.End
}

// ChunkID identifies a contiguous byte region of a feature file. It is the
// cache key for decoded chunks.
type ChunkID struct {
	Offset int64 // Offset is the absolute byte offset of the chunk frame.
	Length int64 // Length is the frame length in bytes, header included.
}

// String formats the id as "@offset+length".
func (c ChunkID) String() string {
	return fmt.Sprintf("@%d+%d", c.Offset, c.Length)
}

// Chunk is a chunk descriptor produced by an index lookup. Size is the
// reported byte size that the store checks against its chunk size limit.
type Chunk struct {
	ID   ChunkID
	Size int64
}

// Reference describes one physical reference sequence known to the index.
type Reference struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Length int64  `json:"length"` // Length is the largest feature end seen on the reference.
}

var (
	chromPrefix    = regexp.MustCompile(`^chro?m?(osome)?`)
	contigPrefix   = regexp.MustCompile(`^co?n?ti?g`)
	scaffoldPrefix = regexp.MustCompile(`^scaff?o?l?d?`)
	leadingZeros   = regexp.MustCompile(`^([a-z]*)0+`)
	bareNumber     = regexp.MustCompile(`^(\d+)$`)
)

// RegularizeName canonicalizes a reference name so that "Chr1", "chrom01",
// "chromosome1" and "1" all compare equal ("chr1"). Contig and scaffold
// prefixes are normalized the same way.
func RegularizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = chromPrefix.ReplaceAllString(name, "chr")
	name = contigPrefix.ReplaceAllString(name, "ctg")
	name = scaffoldPrefix.ReplaceAllString(name, "scaffold")
	name = leadingZeros.ReplaceAllString(name, "$1")
	name = bareNumber.ReplaceAllString(name, "chr$1")

	return name
}
