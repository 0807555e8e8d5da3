package generic

import (
	"fmt"
	"sort"
)

// =============================================================================
// DATE RANGE - Closed interval of calendar days
// =============================================================================

// DateRange is the closed interval [Start, End].
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

func NewRange(start, end Date) DateRange {
	return DateRange{Start: start, End: end}
}

// SingleDay returns the range covering just d.
func SingleDay(d Date) DateRange {
	return DateRange{Start: d, End: d}
}

// Valid reports whether the range is well formed (Start <= End).
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && r.Start.BeforeOrEqual(r.End)
}

// Len is the number of calendar days in the range.
func (r DateRange) Len() int {
	if !r.Valid() {
		return 0
	}
	return DaysBetween(r.Start, r.End) + 1
}

// Contains returns true if d is within [Start, End].
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Overlaps reports whether the two ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.BeforeOrEqual(o.End) && o.Start.BeforeOrEqual(r.End)
}

// Days returns all days in the range.
func (r DateRange) Days() []Date {
	if !r.Valid() {
		return nil
	}
	days := make([]Date, 0, r.Len())
	for d := r.Start; d.BeforeOrEqual(r.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}

// =============================================================================
// RANGE SETS
// =============================================================================

// ValidateRanges rejects empty input and malformed ranges.
func ValidateRanges(ranges []DateRange) error {
	if len(ranges) == 0 {
		return fmt.Errorf("%w: at least one date range is required", ErrInvalidRange)
	}
	for _, r := range ranges {
		if !r.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidRange, r)
		}
	}
	return nil
}

// NormalizeRanges sorts ranges by start and merges overlapping or adjacent
// ones. The input is not modified.
func NormalizeRanges(ranges []DateRange) []DateRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]DateRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Valid() {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var merged []DateRange
	for _, r := range sorted {
		n := len(merged)
		if n > 0 && r.Start.BeforeOrEqual(merged[n-1].End.AddDays(1)) {
			if r.End.After(merged[n-1].End) {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// UnionLen is the number of distinct calendar days covered by the ranges.
func UnionLen(ranges []DateRange) int {
	total := 0
	for _, r := range NormalizeRanges(ranges) {
		total += r.Len()
	}
	return total
}

// Envelope returns the smallest single range covering all ranges.
func Envelope(ranges []DateRange) (DateRange, bool) {
	var env DateRange
	found := false
	for _, r := range ranges {
		if !r.Valid() {
			continue
		}
		if !found {
			env = r
			found = true
			continue
		}
		env.Start = MinDate(env.Start, r.Start)
		env.End = MaxDate(env.End, r.End)
	}
	return env, found
}

// SortRanges orders ranges by start date in place.
func SortRanges(ranges []DateRange) {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start.Before(ranges[j].Start) })
}

// DateSet is a set of calendar days.
type DateSet map[Date]struct{}

func (s DateSet) Add(d Date)      { s[d] = struct{}{} }
func (s DateSet) Has(d Date) bool { _, ok := s[d]; return ok }
func (s DateSet) AddRange(r DateRange) {
	for _, d := range r.Days() {
		s.Add(d)
	}
}

// Sorted returns the members in ascending order.
func (s DateSet) Sorted() []Date {
	out := make([]Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// AnyIn reports whether any day of r is in the set.
func (s DateSet) AnyIn(r DateRange) bool {
	for d := r.Start; d.BeforeOrEqual(r.End); d = d.AddDays(1) {
		if s.Has(d) {
			return true
		}
	}
	return false
}
