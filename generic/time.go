package generic

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIME POINT - A calendar day (estimates are planned per day, never per hour)
// =============================================================================

// DateLayout is the ISO 8601 calendar date layout used on the wire and in storage.
const DateLayout = "2006-01-02"

type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func FromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses an ISO date. A trailing time part ("2024-01-05T00:00:00")
// is accepted and discarded, matching what older clients send.
func ParseDate(s string) (TimePoint, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return TimePoint{Time: t}, nil
}

// MustDate is ParseDate for literals in tests and fixtures.
func MustDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsWeekend() bool       { wd := tp.Weekday(); return wd == time.Saturday || wd == time.Sunday }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.Time.Format(DateLayout)
}

// =============================================================================
// HOLIDAY CALENDAR - Client-specific and national holidays
// =============================================================================

// Holiday is a day the office does not plan work on unless a rule opts in.
type Holiday struct {
	ID        string
	Scope     string    // client id; empty string = global/national
	Date      TimePoint // The holiday date
	Name      string    // e.g., "Tiradentes", "Natal"
	Recurring bool      // true = same month/day every year
}

// HolidayCalendar provides holiday lookup functionality.
type HolidayCalendar interface {
	// IsHoliday checks if a date is a holiday for the given scope.
	// Checks scope-specific holidays first, then global holidays.
	IsHoliday(scope string, date TimePoint) bool

	// GetHolidays returns all holidays for a scope in a given year.
	GetHolidays(scope string, year int) []Holiday
}

// HolidayLoader is implemented by calendars whose source can fail. LoadHolidays
// makes the years answerable by IsHoliday or reports why they are not, so a
// caller can fail instead of silently planning holidays as workdays.
type HolidayLoader interface {
	LoadHolidays(ctx context.Context, scope string, years ...int) error
}

// DefaultHolidayCalendar is a no-op calendar for when holidays are disabled.
type DefaultHolidayCalendar struct{}

func (d *DefaultHolidayCalendar) IsHoliday(scope string, date TimePoint) bool { return false }
func (d *DefaultHolidayCalendar) GetHolidays(scope string, year int) []Holiday { return nil }

// HolidaySet is a fixed set of dates, handy for fixtures and the CLI.
type HolidaySet map[string]string

func NewHolidaySet(holidays ...Holiday) HolidaySet {
	set := make(HolidaySet, len(holidays))
	for _, h := range holidays {
		set[h.Date.String()] = h.Name
	}
	return set
}

func (s HolidaySet) IsHoliday(_ string, date TimePoint) bool {
	_, ok := s[date.String()]
	return ok
}

func (s HolidaySet) GetHolidays(_ string, year int) []Holiday {
	var out []Holiday
	for d, name := range s {
		tp, err := ParseDate(d)
		if err != nil || tp.Year() != year {
			continue
		}
		out = append(out, Holiday{ID: d, Date: tp, Name: name})
	}
	return out
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween counts calendar days from from to to.
func DaysBetween(from, to TimePoint) int { return int(to.Time.Sub(from.Time).Hours() / 24) }
