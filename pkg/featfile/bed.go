package featfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/calvinalkan/featstore/pkg/feature"
)

// ErrParse is wrapped by every [ParseError].
var ErrParse = errors.New("featfile: parse error")

// Record is one input feature before reference ids are assigned.
type Record struct {
	Ref    string
	Start  int64
	End    int64
	Name   string
	Score  float32
	Strand feature.Strand
}

// ParseError reports the line of a malformed input record.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) true.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ParseBED reads BED-like records: tab-separated chrom, start, end and the
// optional name, score and strand columns. Blank lines, comments and
// track/browser lines are skipped. Coordinates are kept as written.
func ParseBED(r io.Reader) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimRight(scanner.Text(), "\r")
		if skipBEDLine(text) {
			continue
		}

		rec, err := parseBEDLine(text)
		if err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	return records, nil
}

func skipBEDLine(text string) bool {
	trimmed := strings.TrimSpace(text)

	return trimmed == "" ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "track") ||
		strings.HasPrefix(trimmed, "browser")
}

func parseBEDLine(text string) (Record, error) {
	fields := strings.Split(text, "\t")
	if len(fields) < 3 {
		fields = strings.Fields(text)
	}

	if len(fields) < 3 {
		return Record{}, fmt.Errorf("want at least 3 columns, got %d", len(fields))
	}

	rec := Record{Ref: fields[0]}

	if rec.Ref == "" {
		return Record{}, errors.New("empty reference name")
	}

	var err error

	rec.Start, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("start: %w", err)
	}

	rec.End, err = strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("end: %w", err)
	}

	if rec.Start < 0 || rec.End < rec.Start {
		return Record{}, fmt.Errorf("invalid interval [%d, %d]", rec.Start, rec.End)
	}

	if len(fields) > 3 && fields[3] != "." {
		rec.Name = fields[3]
	}

	if len(fields) > 4 && fields[4] != "." {
		score, err := strconv.ParseFloat(fields[4], 32)
		if err != nil {
			return Record{}, fmt.Errorf("score: %w", err)
		}

		rec.Score = float32(score)
	}

	if len(fields) > 5 {
		rec.Strand = feature.ParseStrand(fields[5])
	}

	return rec, nil
}
