// Package projection translates between logical coordinates on composite
// sequences and physical coordinates on the references stored in a feature
// file.
//
// A composite is an ordered list of segments, each a window [Start, End) of a
// physical reference. Logical coordinates run over the concatenation of the
// segments, so logical 0 is the first base of the first segment. Translation
// is pure offset arithmetic; nothing is scaled or clipped.
//
// A query names a composite either by a name registered in a [Table] or
// inline, as a JSON sequence list:
//
//	{"sequenceList":[{"name":"chr1","start":1000,"end":2000},{"name":"chr2","start":0,"end":500}]}
//
// Names that resolve to neither are passed through unchanged.
package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrInvalidComposite is returned by [Table.Register] for malformed composites.
var ErrInvalidComposite = errors.New("projection: invalid composite")

// Location is a reference name plus a coordinate window.
type Location struct {
	Ref   string
	Start int64
	End   int64
}

// Segment is one physical window that is part of a composite.
type Segment struct {
	Ref   string `json:"ref"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Composite is a named, ordered list of segments.
type Composite struct {
	Name     string    `json:"name"`
	Segments []Segment `json:"segments"`
}

// compiled is a validated composite with precomputed logical offsets.
type compiled struct {
	name    string
	segs    []Segment
	offsets []int64 // offsets[i] is the logical start of segs[i]
}

func compile(c Composite) (*compiled, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: name is empty", ErrInvalidComposite)
	}

	if len(c.Segments) == 0 {
		return nil, fmt.Errorf("%w: %s has no segments", ErrInvalidComposite, c.Name)
	}

	out := &compiled{
		name:    c.Name,
		segs:    make([]Segment, len(c.Segments)),
		offsets: make([]int64, len(c.Segments)),
	}

	var logical int64

	for i, seg := range c.Segments {
		if seg.Ref == "" {
			return nil, fmt.Errorf("%w: %s segment %d has no ref", ErrInvalidComposite, c.Name, i)
		}

		if seg.Start < 0 || seg.End <= seg.Start {
			return nil, fmt.Errorf("%w: %s segment %d has window [%d,%d)", ErrInvalidComposite, c.Name, i, seg.Start, seg.End)
		}

		out.segs[i] = seg
		out.offsets[i] = logical
		logical += seg.End - seg.Start
	}

	return out, nil
}

// segmentAt returns the index of the segment holding logical position pos.
// Positions before the composite map to the first segment, positions past
// it to the last; the caller then extends that segment's offset beyond its
// bounds.
func (c *compiled) segmentAt(pos int64) int {
	for i, seg := range c.segs {
		if pos < c.offsets[i]+(seg.End-seg.Start) {
			return i
		}
	}

	return len(c.segs) - 1
}

func (c *compiled) project(loc Location) Location {
	i := c.segmentAt(loc.Start)
	delta := c.segs[i].Start - c.offsets[i]

	return Location{Ref: c.segs[i].Ref, Start: loc.Start + delta, End: loc.End + delta}
}

type placement struct {
	composite *compiled
	index     int
}

// Table is the mapping table of registered composites. The zero value is
// not usable; create one with [NewTable]. A nil *Table projects only inline
// sequence lists.
//
// Lookups are lock-free and safe to run concurrently with Register.
type Table struct {
	mu         sync.Mutex // serializes Register
	composites *xsync.MapOf[string, *compiled]
	reverse    *xsync.MapOf[string, []placement] // physical ref -> placements in registration order
}

// NewTable returns an empty table with the given composites registered.
func NewTable(composites ...Composite) (*Table, error) {
	t := &Table{
		composites: xsync.NewMapOf[string, *compiled](),
		reverse:    xsync.NewMapOf[string, []placement](),
	}

	for _, c := range composites {
		if err := t.Register(c); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Register adds a composite. Names must be unique.
func (t *Table) Register(c Composite) error {
	comp, err := compile(c)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.composites.Load(comp.name); exists {
		return fmt.Errorf("%w: %s already registered", ErrInvalidComposite, comp.name)
	}

	t.composites.Store(comp.name, comp)

	for i, seg := range comp.segs {
		existing, _ := t.reverse.Load(seg.Ref)
		placements := make([]placement, 0, len(existing)+1)
		placements = append(placements, existing...)
		placements = append(placements, placement{composite: comp, index: i})
		t.reverse.Store(seg.Ref, placements)
	}

	return nil
}

// Composites returns the registered composite names.
func (t *Table) Composites() []string {
	if t == nil {
		return nil
	}

	names := make([]string, 0, t.composites.Size())

	t.composites.Range(func(name string, _ *compiled) bool {
		names = append(names, name)

		return true
	})

	return names
}

// IsComposite reports whether ref names a registered composite or is an
// inline sequence list.
func (t *Table) IsComposite(ref string) bool {
	return t.lookup(ref) != nil
}

// Project maps a logical location to the physical reference holding its
// start. Non-composite locations are returned unchanged.
//
// A start before 0 or at or past the composite's length is translated with
// the first or last segment's offset and lands outside that segment. Such
// locations are still queried by plain offset arithmetic, but [Table.Unproject]
// returns them unchanged, so they do not round-trip.
func (t *Table) Project(loc Location) Location {
	comp := t.lookup(loc.Ref)
	if comp == nil {
		return loc
	}

	return comp.project(loc)
}

// Unproject maps a physical location back onto the first registered
// composite that has a segment containing loc.Start. Locations outside every
// registered segment are returned unchanged. Inline sequence lists are not
// registered and never match.
func (t *Table) Unproject(loc Location) Location {
	if t == nil {
		return loc
	}

	placements, ok := t.reverse.Load(loc.Ref)
	if !ok {
		return loc
	}

	for _, p := range placements {
		seg := p.composite.segs[p.index]
		if loc.Start < seg.Start || loc.Start >= seg.End {
			continue
		}

		delta := seg.Start - p.composite.offsets[p.index]

		return Location{Ref: p.composite.name, Start: loc.Start - delta, End: loc.End - delta}
	}

	return loc
}

func (t *Table) lookup(ref string) *compiled {
	if t != nil {
		if comp, ok := t.composites.Load(ref); ok {
			return comp
		}
	}

	comp, ok := parseSequenceList(ref)
	if !ok {
		return nil
	}

	return comp
}

type sequenceList struct {
	SequenceList []struct {
		Name  string `json:"name"`
		Start int64  `json:"start"`
		End   int64  `json:"end"`
	} `json:"sequenceList"` //nolint:tagliatelle // wire name used by genome browsers
}

// ParseSequenceList decodes an inline JSON sequence list. ok is false when
// ref is not a well-formed, non-empty sequence list.
func ParseSequenceList(ref string) (Composite, bool) {
	comp, ok := parseSequenceList(ref)
	if !ok {
		return Composite{}, false
	}

	return Composite{Name: comp.name, Segments: append([]Segment(nil), comp.segs...)}, true
}

func parseSequenceList(ref string) (*compiled, bool) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}

	var list sequenceList
	if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
		return nil, false
	}

	c := Composite{Name: ref, Segments: make([]Segment, 0, len(list.SequenceList))}
	for _, s := range list.SequenceList {
		c.Segments = append(c.Segments, Segment{Ref: s.Name, Start: s.Start, End: s.End})
	}

	comp, err := compile(c)
	if err != nil {
		return nil, false
	}

	return comp, true
}
