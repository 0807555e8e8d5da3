package leave

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/staffdocs/generic"
	"github.com/warp/staffdocs/metrics"
)

// =============================================================================
// MODES
// =============================================================================

type Mode string

const (
	// ModeSingleRange places all days in one contiguous range.
	ModeSingleRange Mode = "single_range"
	// ModeMultipleRanges splits the days into short runs of at least MinRunLength.
	ModeMultipleRanges Mode = "multiple_ranges"
	// ModeIsolatedSingles picks separate, non-adjacent weekdays.
	ModeIsolatedSingles Mode = "isolated_singles"
	// ModeMixed combines isolated singles with bounded runs.
	ModeMixed Mode = "mixed"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeSingleRange, ModeMultipleRanges, ModeIsolatedSingles, ModeMixed:
		return true
	}
	return false
}

// Options tune one Allocate call.
type Options struct {
	// SingleDays is the number of isolated days in mixed mode.
	SingleDays int
	// MaxRangeLength bounds each run in mixed mode. Zero uses the allocator
	// default.
	MaxRangeLength int
	// HorizonMonths overrides the initial search horizon.
	HorizonMonths int
	// ExcludeDocuments are treated as not booked (e.g. the document being
	// re-allocated).
	ExcludeDocuments []generic.DocumentID
}

// AllocatorConfig holds the allocator defaults.
type AllocatorConfig struct {
	HorizonMonths  int // initial search window
	MaxExpansions  int // extra months tried before giving up; NoExpansions disables
	MaxRangeLength int // default run bound in mixed mode
	MinRunLength   int // shortest run in multiple_ranges mode

	Calendar generic.HolidayCalendar
	Clock    generic.Clock
	Rand     *rand.Rand // nil seeds from the clock
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// NoExpansions keeps the search to the initial horizon. Zero MaxExpansions
// means the default.
const NoExpansions = -1

func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		HorizonMonths:  1,
		MaxExpansions:  3,
		MaxRangeLength: 14,
		MinRunLength:   3,
	}
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator searches for date ranges that cover a requested day count.
//
// Every result satisfies:
//   - range boundaries and single days are workdays (weekends and holidays
//     may only be spanned)
//   - no day is booked
//   - no day is outside the contract term
//   - ranges are sorted by start
type Allocator struct {
	src   Source
	index *AvailabilityIndex
	cfg   AllocatorConfig

	mu  sync.Mutex // guards rnd
	rnd *rand.Rand
}

func NewAllocator(src Source, cfg AllocatorConfig) *Allocator {
	def := DefaultAllocatorConfig()
	if cfg.HorizonMonths <= 0 {
		cfg.HorizonMonths = def.HorizonMonths
	}
	switch {
	case cfg.MaxExpansions == 0:
		cfg.MaxExpansions = def.MaxExpansions
	case cfg.MaxExpansions < 0:
		cfg.MaxExpansions = 0
	}
	if cfg.MaxRangeLength <= 0 {
		cfg.MaxRangeLength = def.MaxRangeLength
	}
	if cfg.MinRunLength <= 0 {
		cfg.MinRunLength = def.MinRunLength
	}
	if cfg.Calendar == nil {
		cfg.Calendar = generic.NoHolidays{}
	}
	if cfg.Clock == nil {
		cfg.Clock = generic.SystemClock
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(cfg.Clock().UnixNano()))
	}
	return &Allocator{
		src:   src,
		index: NewAvailabilityIndex(src),
		cfg:   cfg,
		rnd:   rnd,
	}
}

// Allocate places days for the staff member starting no earlier than
// earliestStart (zero means today).
func (a *Allocator) Allocate(ctx context.Context, staffID generic.StaffID, days int, mode Mode, earliestStart generic.Date, opts Options) ([]generic.DateRange, error) {
	began := time.Now()
	ranges, err := a.allocate(ctx, staffID, days, mode, earliestStart, opts)

	result := "ok"
	switch {
	case generic.IsClientError(err):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	a.cfg.Metrics.Allocation(string(mode), result, time.Since(began))

	a.cfg.Log.WithFields(logrus.Fields{
		"staff_id": staffID,
		"days":     days,
		"mode":     mode,
		"ranges":   len(ranges),
		"result":   result,
	}).Debug("allocation finished")
	return ranges, err
}

func (a *Allocator) allocate(ctx context.Context, staffID generic.StaffID, days int, mode Mode, earliestStart generic.Date, opts Options) ([]generic.DateRange, error) {
	if days <= 0 {
		return nil, generic.NewValidationError(generic.IssueInvalidRange, "days must be positive, got %d", days)
	}
	if !mode.Valid() {
		return nil, generic.NewValidationError(generic.IssueInvalidRange, "unknown allocation mode %q", mode)
	}
	if mode == ModeMixed && (opts.SingleDays < 0 || opts.SingleDays > days) {
		return nil, generic.NewValidationError(generic.IssueInvalidRange,
			"single days must be between 0 and %d, got %d", days, opts.SingleDays)
	}

	staff, err := a.src.GetStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	booked, err := a.index.BookedDates(ctx, staffID, opts.ExcludeDocuments...)
	if err != nil {
		return nil, err
	}

	start := earliestStart
	if start.IsZero() {
		start = a.cfg.Clock.Today()
	}
	if !staff.TermStart.IsZero() {
		start = generic.MaxDate(start, staff.TermStart)
	}

	horizon := a.cfg.HorizonMonths
	if opts.HorizonMonths > 0 {
		horizon = opts.HorizonMonths
	}
	maxLen := a.cfg.MaxRangeLength
	if opts.MaxRangeLength > 0 {
		maxLen = opts.MaxRangeLength
	}

	tried := horizon
	for exp := 0; exp <= a.cfg.MaxExpansions; exp++ {
		tried = horizon + exp
		end := start.AddMonths(tried).AddDays(-1)
		capped := false
		if !staff.TermEnd.IsZero() && !end.Before(staff.TermEnd) {
			end = staff.TermEnd
			capped = true
		}
		if end.Before(start) {
			break
		}

		w := a.window(start, end, booked)
		var found []generic.DateRange
		switch mode {
		case ModeSingleRange:
			found = w.singleRange(days)
		case ModeMultipleRanges:
			found = w.runs(days, 0, false)
		case ModeIsolatedSingles:
			found = w.singles(days, nil)
		case ModeMixed:
			found = w.mixed(days, opts.SingleDays, maxLen)
		}
		if found != nil {
			generic.SortRanges(found)
			return found, nil
		}
		// Widening past the contract end cannot help.
		if capped {
			break
		}
	}

	return nil, &generic.UnsatisfiableAllocation{Days: days, Mode: string(mode), HorizonMonths: tried}
}

// =============================================================================
// SEARCH WINDOW
// =============================================================================

// window is one search attempt over [start, end].
type window struct {
	start, end generic.Date
	booked     generic.DateSet
	cal        generic.HolidayCalendar
	minRun     int
	a          *Allocator
}

func (a *Allocator) window(start, end generic.Date, booked generic.DateSet) *window {
	return &window{start: start, end: end, booked: booked, cal: a.cfg.Calendar, minRun: a.cfg.MinRunLength, a: a}
}

// free: inside the window and not booked.
func (w *window) free(d generic.Date) bool {
	return !d.Before(w.start) && !d.After(w.end) && !w.booked.Has(d)
}

// boundary: free and a workday, so a range may start or end here.
func (w *window) boundary(d generic.Date) bool {
	return w.free(d) && d.IsWorkday(w.cal)
}

func (w *window) allFree(r generic.DateRange) bool {
	for d := r.Start; !d.After(r.End); d = d.AddDays(1) {
		if !w.free(d) {
			return false
		}
	}
	return true
}

// --- single_range ---

// singleRange collects every placement and picks one at random. Placements
// of exactly days are preferred; a placement whose end was pushed past a
// weekend or holiday is only used when no exact one exists.
func (w *window) singleRange(days int) []generic.DateRange {
	var exact, pushed []generic.DateRange
	for s := w.start; !s.After(w.end); s = s.AddDays(1) {
		if !w.boundary(s) {
			continue
		}
		e := s.AddDays(days - 1)
		if e.After(w.end) {
			break
		}
		if !w.allFree(generic.DateRange{Start: s, End: e}) {
			continue
		}
		if e.IsWorkday(w.cal) {
			exact = append(exact, generic.DateRange{Start: s, End: e})
			continue
		}
		e = e.AddDays(1)
		for w.free(e) && !e.IsWorkday(w.cal) {
			e = e.AddDays(1)
		}
		if w.boundary(e) {
			pushed = append(pushed, generic.DateRange{Start: s, End: e})
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = pushed
	}
	if len(candidates) == 0 {
		return nil
	}
	return []generic.DateRange{candidates[w.a.intn(len(candidates))]}
}

// --- multiple_ranges ---

// runs consumes the budget with the shortest valid runs, earliest first.
// maxLen of zero means unbounded. With greedy set, a start that has no
// valid run falls back to the longest free chunk available.
func (w *window) runs(days, maxLen int, greedy bool) []generic.DateRange {
	var out []generic.DateRange
	remaining := days
	cursor := w.start

	for remaining > 0 {
		r, ok := w.nextRun(cursor, remaining, maxLen)
		if !ok && greedy {
			r, ok = w.longestChunk(cursor, remaining, maxLen)
		}
		if !ok {
			return nil
		}
		out = append(out, r)
		remaining -= r.Len()
		// Leave a gap so consecutive runs stay separate ranges.
		cursor = r.End.AddDays(2)
	}
	return out
}

// nextRun scans forward from cursor for the earliest start with a valid run.
// Runs that would leave a remainder shorter than minRun are avoided unless
// nothing else fits.
func (w *window) nextRun(cursor generic.Date, remaining, maxLen int) (generic.DateRange, bool) {
	upper := remaining
	if maxLen > 0 && maxLen < upper {
		upper = maxLen
	}
	lower := min(w.minRun, upper)

	for _, strict := range []bool{true, false} {
		for s := cursor; !s.After(w.end); s = s.AddDays(1) {
			if !w.boundary(s) {
				continue
			}
			for l := lower; l <= upper; l++ {
				e := s.AddDays(l - 1)
				if !w.free(e) {
					break // every longer run contains e too
				}
				if !e.IsWorkday(w.cal) || !w.allFree(generic.DateRange{Start: s, End: e}) {
					continue
				}
				if rest := remaining - l; strict && rest > 0 && rest < w.minRun {
					continue
				}
				return generic.DateRange{Start: s, End: e}, true
			}
		}
	}
	return generic.DateRange{}, false
}

// longestChunk returns the longest contiguous free run with workday
// boundaries, capped at remaining and maxLen. Earliest wins ties.
func (w *window) longestChunk(cursor generic.Date, remaining, maxLen int) (generic.DateRange, bool) {
	upper := remaining
	if maxLen > 0 && maxLen < upper {
		upper = maxLen
	}
	var best generic.DateRange
	found := false
	for s := cursor; !s.After(w.end); s = s.AddDays(1) {
		if !w.boundary(s) {
			continue
		}
		last := s
		for l := 1; l <= upper; l++ {
			e := s.AddDays(l - 1)
			if !w.free(e) {
				break
			}
			if e.IsWorkday(w.cal) {
				last = e
			}
		}
		r := generic.DateRange{Start: s, End: last}
		if !found || r.Len() > best.Len() {
			best, found = r, true
		}
	}
	return best, found
}

// --- isolated_singles ---

// singles picks count separate workdays that touch neither each other nor
// a booked day. Days in avoid (and their neighbours) are not used. Edge
// days, whose neighbour is not a free workday, are tried first.
func (w *window) singles(count int, avoid generic.DateSet) []generic.DateRange {
	var edges, others []generic.Date
	for d := w.start; !d.After(w.end); d = d.AddDays(1) {
		if !w.boundary(d) {
			continue
		}
		prev, next := d.AddDays(-1), d.AddDays(1)
		if w.booked.Has(prev) || w.booked.Has(next) {
			continue
		}
		if avoid != nil && (avoid.Has(prev) || avoid.Has(d) || avoid.Has(next)) {
			continue
		}
		if !w.boundary(prev) || !w.boundary(next) {
			edges = append(edges, d)
		} else {
			others = append(others, d)
		}
	}
	if len(edges)+len(others) < count {
		return nil
	}

	chronological := make([]generic.Date, 0, len(edges)+len(others))
	chronological = append(append(chronological, edges...), others...)
	sortDates(chronological)

	w.a.shuffle(edges)
	w.a.shuffle(others)

	picked := pickApart(count, edges, others)
	if picked == nil {
		// Earliest first is never beaten on a line, so a miss here means no
		// spacing fits the window.
		picked = pickApart(count, chronological)
	}
	if picked == nil {
		return nil
	}

	out := make([]generic.DateRange, 0, count)
	for _, d := range picked.Sorted() {
		out = append(out, generic.SingleDay(d))
	}
	return out
}

// pickApart takes days from the pools in order, skipping any day next to
// one already taken. It returns nil when fewer than count fit.
func pickApart(count int, pools ...[]generic.Date) generic.DateSet {
	picked := make(generic.DateSet, count)
	for _, pool := range pools {
		for _, d := range pool {
			if len(picked) == count {
				return picked
			}
			if picked.Has(d.AddDays(-1)) || picked.Has(d.AddDays(1)) {
				continue
			}
			picked.Add(d)
		}
	}
	if len(picked) < count {
		return nil
	}
	return picked
}

func sortDates(days []generic.Date) {
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
}

// --- mixed ---

func (w *window) mixed(days, singleDays, maxLen int) []generic.DateRange {
	var out []generic.DateRange
	taken := make(generic.DateSet)

	if rangeDays := days - singleDays; rangeDays > 0 {
		out = w.runs(rangeDays, maxLen, true)
		if out == nil {
			return nil
		}
		for _, r := range out {
			taken.AddRange(r)
		}
	}
	if singleDays > 0 {
		singles := w.singles(singleDays, taken)
		if singles == nil {
			return nil
		}
		out = append(out, singles...)
	}
	return out
}

// =============================================================================
// RANDOM SOURCE
// =============================================================================

func (a *Allocator) intn(n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rnd.Intn(n)
}

func (a *Allocator) shuffle(days []generic.Date) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rnd.Shuffle(len(days), func(i, j int) { days[i], days[j] = days[j], days[i] })
}

