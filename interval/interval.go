// Package interval provides genomic query intervals and the normalization
// step that turns an arbitrary list of them into a minimal sorted,
// non-overlapping set suitable for index lookups.
package interval

import (
	"fmt"
	"sort"
)

// A QueryInterval restricts record iteration to a region of one reference
// sequence. Start and End are 1-based and inclusive. End == 0 means the
// interval extends to the end of the reference.
type QueryInterval struct {
	// RefID is the position of the reference sequence in the header's
	// sequence dictionary.
	RefID int
	// Start is the first position of the interval.
	Start int
	// End is the last position of the interval, or 0 for "to end of
	// reference".
	End int
}

func (q QueryInterval) String() string {
	return fmt.Sprintf("%d:%d-%d", q.RefID, q.Start, q.End)
}

// InvalidIntervalError is returned when a query interval has a negative
// reference index.
type InvalidIntervalError struct {
	Interval QueryInterval
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("interval: invalid reference index in %v", e.Interval)
}

// boundedEnd resolves the End==0 sentinel to a concrete upper bound for
// range arithmetic.
func (q QueryInterval) boundedEnd() int {
	if q.End == 0 {
		return int(^uint(0) >> 1)
	}
	return q.End
}

// Compare orders intervals by (RefID, Start, End), where an unbounded end
// sorts after any bounded end at the same start.
func (q QueryInterval) Compare(other QueryInterval) int {
	if c := q.RefID - other.RefID; c != 0 {
		return c
	}
	if c := q.Start - other.Start; c != 0 {
		return c
	}
	switch {
	case q.End == other.End:
		return 0
	case q.End == 0:
		return 1
	case other.End == 0:
		return -1
	default:
		return q.End - other.End
	}
}

// Abuts reports whether other starts at the position immediately after
// q's last position, on the same reference.
func (q QueryInterval) Abuts(other QueryInterval) bool {
	return q.RefID == other.RefID && q.End != 0 && q.End+1 == other.Start
}

// Overlaps reports whether q and other share at least one position.
func (q QueryInterval) Overlaps(other QueryInterval) bool {
	if q.RefID != other.RefID {
		return false
	}
	return q.Start <= other.boundedEnd() && other.Start <= q.boundedEnd()
}

// OverlapsRange reports whether q shares at least one position with the
// 1-based closed range [start, end].
func (q QueryInterval) OverlapsRange(start, end int) bool {
	return q.Start <= end && start <= q.boundedEnd()
}

// ContainsRange reports whether the 1-based closed range [start, end] lies
// entirely within q.
func (q QueryInterval) ContainsRange(start, end int) bool {
	return start >= q.Start && end <= q.boundedEnd()
}

// Optimize sorts intervals and merges the ones that overlap or abut, so
// that the result covers exactly the positions covered by the input using
// the minimum number of disjoint intervals. The input is not modified.
// Optimize of an already optimized list returns it unchanged.
func Optimize(intervals []QueryInterval) ([]QueryInterval, error) {
	if len(intervals) == 0 {
		return nil, nil
	}
	sorted := make([]QueryInterval, len(intervals))
	copy(sorted, intervals)
	for _, q := range sorted {
		if q.RefID < 0 {
			return nil, &InvalidIntervalError{q}
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Compare(sorted[j]) < 0
	})

	merged := make([]QueryInterval, 0, len(sorted))
	prev := sorted[0]
	for _, next := range sorted[1:] {
		if prev.Abuts(next) || prev.Overlaps(next) {
			end := 0
			if prev.End != 0 && next.End != 0 {
				end = prev.End
				if next.End > end {
					end = next.End
				}
			}
			prev = QueryInterval{RefID: prev.RefID, Start: prev.Start, End: end}
			continue
		}
		merged = append(merged, prev)
		prev = next
	}
	return append(merged, prev), nil
}
