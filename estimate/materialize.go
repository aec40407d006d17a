package estimate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/estimate-engine/generic"
)

// =============================================================================
// TASK TYPE CACHE - One lookup per distinct task per replace call
// =============================================================================

// TaskTypeCache memoizes task type lookups for the lifetime of one call.
// It is not safe for concurrent use and must not outlive the call.
type TaskTypeCache struct {
	lookup  generic.TaskTypeLookup
	entries map[int64]*int64
}

func NewTaskTypeCache(lookup generic.TaskTypeLookup) *TaskTypeCache {
	if lookup == nil {
		lookup = generic.NoTaskTypes{}
	}
	return &TaskTypeCache{lookup: lookup, entries: make(map[int64]*int64)}
}

// Resolve returns the task type of taskID, or nil when it has none.
func (c *TaskTypeCache) Resolve(ctx context.Context, taskID int64) (*int64, error) {
	if tt, ok := c.entries[taskID]; ok {
		return tt, nil
	}
	id, found, err := c.lookup.TaskTypeOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var tt *int64
	if found {
		tt = &id
	}
	c.entries[taskID] = tt
	return tt, nil
}

// =============================================================================
// MATERIALIZER - Segments x assignments -> rules
// =============================================================================

// Target identifies the grouping and client rules are materialized for.
type Target struct {
	GroupingID generic.GroupingID
	ClientID   generic.ClientID
}

type Materializer struct {
	Now   func() time.Time
	NewID func() generic.RuleID
}

func (m *Materializer) now() time.Time {
	if m != nil && m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Materializer) newID() generic.RuleID {
	if m != nil && m.NewID != nil {
		return m.NewID()
	}
	return generic.RuleID(uuid.NewString())
}

// Materialize emits one rule per (segment, assignment) for every assignment
// that resolves a responsible party and a non-zero daily effort. Other
// assignments are skipped. A malformed task id or effort fails the group.
func (m *Materializer) Materialize(ctx context.Context, target Target, group GroupSpec, segments []generic.Segment, types *TaskTypeCache) ([]generic.Rule, error) {
	if len(group.ProductsWithTasks) == 0 {
		return nil, &generic.ValidationError{
			Group:   -1,
			Field:   "produtos_com_tarefas",
			Message: generic.ErrEmptyAssignments.Error(),
			Err:     generic.ErrEmptyAssignments,
		}
	}

	productIDs := make([]string, 0, len(group.ProductsWithTasks))
	for pid := range group.ProductsWithTasks {
		productIDs = append(productIDs, pid)
	}
	sort.Strings(productIDs)

	type emit struct {
		productID   string
		taskID      int64
		responsible string
		effort      int64
	}

	// Parse everything first so a malformed value fails before any lookup.
	var emits []emit
	for _, pid := range productIDs {
		for _, a := range group.ProductsWithTasks[pid] {
			taskID, err := parseInteger("tarefa_id", a.TaskID)
			if err != nil {
				return nil, err
			}

			responsible := strings.TrimSpace(a.ResponsibleID)
			if responsible == "" {
				responsible = strings.TrimSpace(group.DefaultResponsibleID)
			}

			var effort int64
			if strings.TrimSpace(a.DailyEffort) != "" {
				if effort, err = parseInteger("tempo_estimado_dia", a.DailyEffort); err != nil {
					return nil, err
				}
				if effort < 0 {
					return nil, malformed("tempo_estimado_dia", a.DailyEffort)
				}
			}

			if responsible == "" || effort == 0 {
				continue
			}
			emits = append(emits, emit{
				productID:   strings.TrimSpace(pid),
				taskID:      taskID,
				responsible: responsible,
				effort:      effort,
			})
		}
	}

	if len(emits) == 0 || len(segments) == 0 {
		return nil, nil
	}

	if types == nil {
		types = NewTaskTypeCache(nil)
	}
	now := m.now()
	policy := group.Policy()

	rules := make([]generic.Rule, 0, len(emits)*len(segments))
	for _, e := range emits {
		taskType, err := types.Resolve(ctx, e.taskID)
		if err != nil {
			return nil, &generic.PersistenceError{Op: generic.OpLookup, GroupingID: target.GroupingID, Err: err}
		}
		for _, seg := range segments {
			rules = append(rules, generic.Rule{
				ID:              m.newID(),
				GroupingID:      target.GroupingID,
				ClientID:        target.ClientID,
				ProductID:       e.productID,
				TaskID:          e.taskID,
				TaskTypeID:      taskType,
				ResponsibleID:   e.responsible,
				SegmentStart:    seg.Start,
				SegmentEnd:      seg.End,
				DailyEffort:     e.effort,
				IncludeWeekends: policy.IncludeWeekends,
				IncludeHolidays: policy.IncludeHolidays,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
	}
	return rules, nil
}

var (
	minInt64 = decimal.NewFromInt(math.MinInt64)
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
)

// parseInteger accepts integers and decimal strings, truncating the latter.
// Values outside int64 are malformed.
func parseInteger(field, raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, malformed(field, raw)
	}
	d = d.Truncate(0)
	if d.LessThan(minInt64) || d.GreaterThan(maxInt64) {
		return 0, malformed(field, raw)
	}
	return d.IntPart(), nil
}

func malformed(field, raw string) error {
	return &generic.ValidationError{
		Group:   -1,
		Field:   field,
		Message: fmt.Sprintf("%s: %s %q", generic.ErrMalformedValue, field, raw),
		Err:     generic.ErrMalformedValue,
	}
}
