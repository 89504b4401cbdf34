package feature

// Overlaps reports whether f lies on refID and overlaps the closed window
// [minPos, maxPos]. Projected features are compared by their original
// coordinates.
func Overlaps(f *Feature, refID int, minPos, maxPos int64) bool {
	if f.RefID != refID {
		return false
	}

	start, end := f.Span()

	return start <= maxPos && end >= minPos
}

// Scan walks a decoded chunk in stored order and calls yield for every
// feature on refID that overlaps [minPos, maxPos]. It returns the number of
// features yielded.
//
// The chunk must be sorted by non-decreasing start within each reference:
// the scan stops at the first feature on refID that starts after maxPos.
// Features on other references are skipped and never end the scan. A yield
// returning false also ends the scan.
func Scan(features []Feature, refID int, minPos, maxPos int64, yield func(Feature) bool) int {
	delivered := 0

	for i := range features {
		f := &features[i]
		if f.RefID != refID {
			continue
		}

		start, end := f.Span()
		if start > maxPos {
			break
		}

		if end < minPos {
			continue
		}

		delivered++

		if !yield(*f) {
			break
		}
	}

	return delivered
}
