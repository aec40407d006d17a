/*
Package generic provides the calendar and persistence primitives of the
estimate engine.

PURPOSE:
  This package holds the domain-neutral pieces: calendar days, holiday
  calendars, date expansion and segment coalescing, the persisted Rule
  record and the store interfaces. Package estimate builds the estimate
  workflow (groups, assignments, replace) on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity of effort with a unit (milliseconds, hours)
  - Rule: One persisted (segment x task x responsible) estimate row
  - Typed identifiers so grouping and client ids cannot be swapped

DESIGN PRINCIPLES:
  1. Rules are never updated: a grouping is deleted and recreated as a whole
  2. Precision: effort arithmetic uses decimal.Decimal
  3. Type Safety: Strong typing for IDs

SEE ALSO:
  - calendar.go: Expansion and coalescing
  - store.go: Persistence interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Effort with a unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitMilliseconds Unit = "ms"
	UnitHours        Unit = "hours"
)

var millisPerHour = decimal.NewFromInt(int64(time.Hour / time.Millisecond))

func NewAmountFromInt(value int64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: unit}
}

// Hours converts a millisecond amount to hours; other units pass through.
func (a Amount) Hours() Amount {
	if a.Unit != UnitMilliseconds {
		return a
	}
	return Amount{Value: a.Value.Div(millisPerHour), Unit: UnitHours}
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) String() string               { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupingID string
type ClientID string
type RuleID string

// =============================================================================
// RULE - Materialized estimate for one segment, task and responsible party
// =============================================================================

// Rule is created only by the materializer and never mutated.
type Rule struct {
	ID              RuleID
	GroupingID      GroupingID
	ClientID        ClientID
	ProductID       string
	TaskID          int64
	TaskTypeID      *int64
	ResponsibleID   string
	SegmentStart    TimePoint
	SegmentEnd      TimePoint
	DailyEffort     int64 // milliseconds per day
	IncludeWeekends bool
	IncludeHolidays bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r Rule) Policy() CalendarPolicy {
	return CalendarPolicy{IncludeWeekends: r.IncludeWeekends, IncludeHolidays: r.IncludeHolidays}
}

func (r Rule) Period() Period {
	return Period{Start: r.SegmentStart, End: r.SegmentEnd}
}

// Effort returns the daily effort as an Amount in milliseconds.
func (r Rule) Effort() Amount {
	return NewAmountFromInt(r.DailyEffort, UnitMilliseconds)
}

// =============================================================================
// GROUPING SUMMARY - Overall period covered by a grouping
// =============================================================================

type GroupingSummary struct {
	GroupingID GroupingID
	ClientID   ClientID
	Period     *Period // nil when the grouping has no rules
	RuleCount  int
	UpdatedAt  time.Time
}

// SummarizeRules computes the summary of a rule set in memory.
func SummarizeRules(groupingID GroupingID, rules []Rule) GroupingSummary {
	summary := GroupingSummary{GroupingID: groupingID, RuleCount: len(rules)}
	for _, r := range rules {
		summary.ClientID = r.ClientID
		if summary.Period == nil {
			p := r.Period()
			summary.Period = &p
			continue
		}
		span := summary.Period.Span(r.Period())
		summary.Period = &span
	}
	return summary
}
