package generic

// =============================================================================
// PERIOD - A closed range of calendar days
// =============================================================================

// MaxPeriodDays bounds the calendar length of a selectable period (five years).
const MaxPeriodDays = 5 * 366

// Period is the inclusive range [Start, End] a rule or selection covers.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Validate rejects periods whose end precedes their start or that span more
// than MaxPeriodDays.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	if p.End.After(p.Start.AddDays(MaxPeriodDays - 1)) {
		return ErrPeriodTooLong
	}
	return nil
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	if p.End.Before(p.Start) {
		return nil
	}
	days := make([]TimePoint, 0, DaysBetween(p.Start, p.End)+1)
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Len is the number of calendar days in the period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// Span returns the smallest period covering both p and other.
func (p Period) Span(other Period) Period {
	out := p
	if other.Start.Before(out.Start) {
		out.Start = other.Start
	}
	if other.End.After(out.End) {
		out.End = other.End
	}
	return out
}
