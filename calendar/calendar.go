/*
Package calendar loads the production calendar: the non-working days of a
year as published by the labour ministry.

FILE FORMAT:
  {
    "year": 2025,
    "months": [
      {"month": 1, "days": "1,2,3,4,5,6,7,8,11,12,18,19,25,26"},
      {"month": 3, "days": "1,2,7*,8,9,15,16,22,23,29,30"},
      ...
    ],
    "transitions": [{"from": "01.04", "to": "05.02"}]
  }

  Each month lists its non-working days, weekends included. A "+" suffix
  marks a day off moved from another date; a "*" suffix marks a shortened
  working day, which is therefore skipped. Transitions are informational:
  their effect is already reflected in the day lists.

  Weekend days that are absent from a loaded year are working days, so the
  resulting Calendar overrides the plain weekend rule for the years it
  covers (see generic.CoveringCalendar).
*/
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/staffdocs/generic"
)

// Names given to parsed days.
const (
	NameDayOff         = "day off"
	NameTransferredOff = "transferred day off"
)

type yearFile struct {
	Year        int          `json:"year"`
	Months      []monthDays  `json:"months"`
	Transitions []transition `json:"transitions"`
}

type monthDays struct {
	Month int    `json:"month"`
	Days  string `json:"days"`
}

type transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Parse reads one year file.
func Parse(r io.Reader) ([]generic.Holiday, error) {
	var f yearFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("calendar: decode: %w", err)
	}
	if f.Year < 1900 || f.Year > 2200 {
		return nil, fmt.Errorf("calendar: implausible year %d", f.Year)
	}

	var out []generic.Holiday
	for _, m := range f.Months {
		if m.Month < 1 || m.Month > 12 {
			return nil, fmt.Errorf("calendar: %d: month %d out of range", f.Year, m.Month)
		}
		for _, raw := range strings.Split(m.Days, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" || strings.HasSuffix(raw, "*") {
				continue
			}
			name := NameDayOff
			if strings.HasSuffix(raw, "+") {
				raw = strings.TrimSuffix(raw, "+")
				name = NameTransferredOff
			}

			day, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("calendar: %d-%02d: day %q: %w", f.Year, m.Month, raw, err)
			}
			date := generic.NewDate(f.Year, time.Month(m.Month), day)
			if date.Day() != day || int(date.Month()) != m.Month {
				return nil, fmt.Errorf("calendar: %d-%02d: day %d does not exist", f.Year, m.Month, day)
			}
			out = append(out, generic.Holiday{Date: date, Name: name})
		}
	}
	return out, nil
}

// ParseFile reads a year file from disk.
func ParseFile(path string) ([]generic.Holiday, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// =============================================================================
// CALENDAR
// =============================================================================

// Calendar answers workday questions for the years it was loaded with.
type Calendar struct {
	days  generic.HolidaySet
	years map[int]bool
}

// New builds a calendar; every year that has at least one entry counts as
// fully described.
func New(days []generic.Holiday) *Calendar {
	c := &Calendar{days: generic.NewHolidaySet(), years: make(map[int]bool)}
	for _, h := range days {
		c.days[h.Date] = struct{}{}
		c.years[h.Date.Year()] = true
	}
	return c
}

func (c *Calendar) IsHoliday(d generic.Date) bool { return c.days.IsHoliday(d) }

func (c *Calendar) Covers(d generic.Date) bool { return c.years[d.Year()] }

// Len is the number of non-working days known.
func (c *Calendar) Len() int { return len(c.days) }

// Load builds a calendar from the stored days between from and to.
func Load(ctx context.Context, store generic.HolidayStore, from, to generic.Date) (*Calendar, error) {
	days, err := store.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("calendar: load: %w", err)
	}
	return New(days), nil
}

var _ generic.CoveringCalendar = (*Calendar)(nil)
