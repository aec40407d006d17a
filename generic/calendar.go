/*
calendar.go - Date expansion and segment coalescing

PURPOSE:
  Turns a date selection into the concrete days an estimate applies to and
  compresses those days into the fewest contiguous segments, so one stored
  rule covers a whole run instead of one row per day.

CALENDAR POLICY:
  A day is eligible unless the policy excludes it:
  - weekends are excluded when IncludeWeekends is false
  - holidays are excluded when IncludeHolidays is false

BRIDGING:
  Two consecutive resolved days belong to the same segment when every day
  strictly between them is excluded by the policy. With weekends excluded,
  Friday and the following Monday form one segment [Fri, Mon].

  Re-expanding a segment under the same calendar yields exactly the days it
  was built from, because every non-excluded day inside it was selected.

SEE ALSO:
  - estimate/materialize.go: turns segments into rules
*/
package generic

import (
	"sort"
)

// CalendarPolicy holds the weekend/holiday inclusion flags of a rule.
type CalendarPolicy struct {
	IncludeWeekends bool
	IncludeHolidays bool
}

// Calendar evaluates a policy against a holiday source for one scope.
type Calendar struct {
	Policy   CalendarPolicy
	Holidays HolidayCalendar
	Scope    string
}

// NewCalendar builds a Calendar; a nil holiday source means no holidays.
func NewCalendar(policy CalendarPolicy, holidays HolidayCalendar, scope string) Calendar {
	if holidays == nil {
		holidays = &DefaultHolidayCalendar{}
	}
	return Calendar{Policy: policy, Holidays: holidays, Scope: scope}
}

// Excludes reports whether the policy deliberately skips the day.
func (c Calendar) Excludes(day TimePoint) bool {
	if !c.Policy.IncludeWeekends && day.IsWeekend() {
		return true
	}
	if !c.Policy.IncludeHolidays && c.Holidays != nil && c.Holidays.IsHoliday(c.Scope, day) {
		return true
	}
	return false
}

// Eligible is the complement of Excludes.
func (c Calendar) Eligible(day TimePoint) bool {
	return !c.Excludes(day)
}

// =============================================================================
// DATE SELECTION
// =============================================================================

// DateSelection is a period, an explicit list of days, or both. When both are
// present the explicit days narrow the period.
type DateSelection struct {
	Period *Period
	Dates  []TimePoint
}

// Validate checks that the selection is non-empty and its period well formed.
func (sel DateSelection) Validate() error {
	if sel.Period == nil && len(sel.Dates) == 0 {
		return ErrNoDateSelection
	}
	if sel.Period != nil {
		return sel.Period.Validate()
	}
	return nil
}

// Years lists, ascending, the calendar years whose days Expand may return.
// When both are set only explicit dates inside the period count.
func (sel DateSelection) Years() []int {
	seen := make(map[int]bool)
	switch {
	case sel.Period != nil && len(sel.Dates) > 0:
		for _, d := range sel.Dates {
			if sel.Period.Contains(d) {
				seen[d.Year()] = true
			}
		}
	case sel.Period != nil:
		for y := sel.Period.Start.Year(); y <= sel.Period.End.Year(); y++ {
			seen[y] = true
		}
	default:
		for _, d := range sel.Dates {
			seen[d.Year()] = true
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Expand resolves a selection into sorted, deduplicated eligible days.
func (c Calendar) Expand(sel DateSelection) ([]TimePoint, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var whitelist map[string]TimePoint
	if len(sel.Dates) > 0 {
		whitelist = make(map[string]TimePoint, len(sel.Dates))
		for _, d := range sel.Dates {
			whitelist[d.String()] = d
		}
	}

	var out []TimePoint
	if sel.Period != nil {
		for _, day := range sel.Period.Days() {
			if _, ok := whitelist[day.String()]; whitelist != nil && !ok {
				continue
			}
			if c.Eligible(day) {
				out = append(out, day)
			}
		}
		return out, nil
	}

	for _, day := range whitelist {
		if c.Eligible(day) {
			out = append(out, day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// =============================================================================
// SEGMENTS
// =============================================================================

// Segment is a maximal run of resolved days. Days counts the resolved days
// inside it, which is smaller than the calendar length when days were bridged.
type Segment struct {
	Start TimePoint
	End   TimePoint
	Days  int
}

func (s Segment) Period() Period { return Period{Start: s.Start, End: s.End} }

func (s Segment) String() string { return s.Period().String() }

// Coalesce collapses sorted, deduplicated days into maximal segments.
// An empty input yields no segments.
func (c Calendar) Coalesce(days []TimePoint) []Segment {
	var segments []Segment
	for _, day := range days {
		if n := len(segments); n > 0 && c.bridges(segments[n-1].End, day) {
			segments[n-1].End = day
			segments[n-1].Days++
			continue
		}
		segments = append(segments, Segment{Start: day, End: day, Days: 1})
	}
	return segments
}

// bridges reports whether every day strictly between from and to is excluded.
func (c Calendar) bridges(from, to TimePoint) bool {
	if !to.After(from) {
		return false
	}
	for day := from.AddDays(1); day.Before(to); day = day.AddDays(1) {
		if !c.Excludes(day) {
			return false
		}
	}
	return true
}

// Reexpand lists the eligible days covered by the segments, in order.
func (c Calendar) Reexpand(segments []Segment) []TimePoint {
	var out []TimePoint
	for _, seg := range segments {
		for _, day := range seg.Period().Days() {
			if c.Eligible(day) {
				out = append(out, day)
			}
		}
	}
	return out
}
