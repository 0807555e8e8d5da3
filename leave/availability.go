/*
Package leave answers "which days can this person take off?"

PURPOSE:
  AvailabilityIndex derives booked intervals from documents and attendance.
  Validator checks a proposed set of ranges against balance, contract and
  filing rules. Allocator searches for ranges that satisfy a day count.

  Everything here is a pure read over a Source. The workflow binds the
  same components to a transaction-scoped repository with Bind so that
  checks and writes see the same data.

WHAT IS BOOKED:
  - Leave documents (paid, unpaid) in any status after draft
  - Attendance marks with any code other than present

  Term extensions and employment documents describe contract terms, not
  absences, and never occupy calendar days. A document superseded by a
  non-draft correction gives its days to the correction.

SEE ALSO:
  - validator.go: uses Conflicts
  - allocator.go: uses BookedDates
*/
package leave

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/staffdocs/generic"
)

// Source is the read side of the repository this package needs.
type Source interface {
	GetStaff(ctx context.Context, id generic.StaffID) (generic.StaffRecord, error)
	DocumentsByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.DocumentRecord, error)
	AttendanceByStaff(ctx context.Context, staffID generic.StaffID) ([]generic.AttendanceRecord, error)
}

// =============================================================================
// AVAILABILITY INDEX
// =============================================================================

type AvailabilityIndex struct {
	src Source
}

func NewAvailabilityIndex(src Source) *AvailabilityIndex {
	return &AvailabilityIndex{src: src}
}

// Bind returns an index reading from src.
func (ix *AvailabilityIndex) Bind(src Source) *AvailabilityIndex {
	return &AvailabilityIndex{src: src}
}

// Intervals returns every booked interval of the staff member, sorted by
// start. Documents listed in exclude are skipped.
func (ix *AvailabilityIndex) Intervals(ctx context.Context, staffID generic.StaffID, exclude ...generic.DocumentID) ([]generic.BookedInterval, error) {
	docs, err := ix.src.DocumentsByStaff(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("load documents of %s: %w", staffID, err)
	}
	marks, err := ix.src.AttendanceByStaff(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("load attendance of %s: %w", staffID, err)
	}

	skip := make(map[generic.DocumentID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	superseded := supersededDocuments(docs)

	var out []generic.BookedInterval
	for _, d := range docs {
		if skip[d.ID] || superseded[d.ID] || !occupiesCalendar(d) {
			continue
		}
		for _, r := range d.BookedRanges() {
			out = append(out, generic.BookedInterval{
				Range:      r,
				OriginKind: generic.OriginDocument,
				OriginID:   string(d.ID),
				Label:      string(d.Status),
			})
		}
	}
	for _, a := range marks {
		if !a.ConsumesAvailability() || !a.Range().Valid() {
			continue
		}
		out = append(out, generic.BookedInterval{
			Range:      a.Range(),
			OriginKind: generic.OriginAttendance,
			OriginID:   string(a.ID),
			Label:      a.Code,
		})
	}

	sortIntervals(out)
	return out, nil
}

// BookedDates is the set of days already consumed.
func (ix *AvailabilityIndex) BookedDates(ctx context.Context, staffID generic.StaffID, exclude ...generic.DocumentID) (generic.DateSet, error) {
	intervals, err := ix.Intervals(ctx, staffID, exclude...)
	if err != nil {
		return nil, err
	}
	set := make(generic.DateSet)
	for _, iv := range intervals {
		set.AddRange(iv.Range)
	}
	return set, nil
}

// Conflicts returns the booked intervals that overlap any of ranges.
func (ix *AvailabilityIndex) Conflicts(ctx context.Context, staffID generic.StaffID, ranges []generic.DateRange, exclude ...generic.DocumentID) ([]generic.BookedInterval, error) {
	intervals, err := ix.Intervals(ctx, staffID, exclude...)
	if err != nil {
		return nil, err
	}
	var out []generic.BookedInterval
	for _, iv := range intervals {
		for _, r := range ranges {
			if iv.Range.Overlaps(r) {
				out = append(out, iv)
				break
			}
		}
	}
	return out, nil
}

func occupiesCalendar(d generic.DocumentRecord) bool {
	return d.Type.IsLeave() && d.Status != generic.StatusDraft
}

// supersededDocuments returns the ids of documents that a non-draft
// correction replaces.
func supersededDocuments(docs []generic.DocumentRecord) map[generic.DocumentID]bool {
	out := make(map[generic.DocumentID]bool)
	for _, d := range docs {
		if d.IsCorrection && d.CorrectsID != "" && d.Status != generic.StatusDraft {
			out[d.CorrectsID] = true
		}
	}
	return out
}

func sortIntervals(ivs []generic.BookedInterval) {
	sort.SliceStable(ivs, func(i, j int) bool {
		if !ivs[i].Range.Start.Equal(ivs[j].Range.Start) {
			return ivs[i].Range.Start.Before(ivs[j].Range.Start)
		}
		if ivs[i].OriginKind != ivs[j].OriginKind {
			return ivs[i].OriginKind < ivs[j].OriginKind
		}
		return ivs[i].OriginID < ivs[j].OriginID
	})
}
