/*
group.go - Estimate group specifications and input normalization

PURPOSE:
  A group is one self-contained estimate: which products and tasks, who is
  responsible, how many milliseconds per day, and on which days. A replace
  call carries one or more groups.

INPUT SHAPES:
  Callers send either the current shape (a list of groups) or the older
  flat shape with the fields of a single group at the top level. Older
  clients may also omit products_with_tasks and send product_ids plus
  task_ids (or tasks) instead. Normalize turns every shape into []GroupSpec
  so nothing downstream branches on the input shape.

SEE ALSO:
  - materialize.go: GroupSpec -> rules
  - api/dto.go: JSON decoding into these types
*/
package estimate

import (
	"errors"
	"strings"

	"github.com/warp/estimate-engine/generic"
)

// ErrNoGroups is returned when the current input shape carries no groups.
var ErrNoGroups = errors.New("at least one group is required")

// Assignment is a task a responsible party works on for a product.
// Values are kept as sent; the materializer parses them.
type Assignment struct {
	TaskID        string
	ResponsibleID string
	DailyEffort   string
}

// GroupSpec is the canonical form of one estimate group.
type GroupSpec struct {
	ProductsWithTasks    map[string][]Assignment
	PeriodStart          string
	PeriodEnd            string
	DefaultResponsibleID string
	IncludeWeekends      bool
	IncludeHolidays      bool
	IndividualDates      []string
}

// Policy returns the group's calendar flags.
func (g GroupSpec) Policy() generic.CalendarPolicy {
	return generic.CalendarPolicy{IncludeWeekends: g.IncludeWeekends, IncludeHolidays: g.IncludeHolidays}
}

// Selection parses the group's period and individual dates. A period with
// only one bound is treated as absent.
func (g GroupSpec) Selection() (generic.DateSelection, error) {
	var sel generic.DateSelection

	start, end := strings.TrimSpace(g.PeriodStart), strings.TrimSpace(g.PeriodEnd)
	if start != "" && end != "" {
		s, err := generic.ParseDate(start)
		if err != nil {
			return sel, &generic.ValidationError{Group: -1, Field: "data_inicio", Message: err.Error(), Err: err}
		}
		e, err := generic.ParseDate(end)
		if err != nil {
			return sel, &generic.ValidationError{Group: -1, Field: "data_fim", Message: err.Error(), Err: err}
		}
		sel.Period = &generic.Period{Start: s, End: e}
	}

	for _, raw := range g.IndividualDates {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := generic.ParseDate(raw)
		if err != nil {
			return sel, &generic.ValidationError{Group: -1, Field: "datas_individuais", Message: err.Error(), Err: err}
		}
		sel.Dates = append(sel.Dates, d)
	}

	if sel.Period == nil && len(sel.Dates) == 0 {
		return sel, &generic.ValidationError{
			Group:   -1,
			Field:   "data_inicio",
			Message: "data_inicio and data_fim or datas_individuais are required",
			Err:     generic.ErrNoDateSelection,
		}
	}
	return sel, nil
}

// =============================================================================
// PAYLOAD - Tagged union of accepted input shapes
// =============================================================================

// Payload is implemented only by ModernPayload and LegacyPayload.
type Payload interface {
	groups() ([]GroupSpec, error)
}

// ModernPayload is the list-of-groups shape.
type ModernPayload struct {
	Groups []GroupSpec
}

func (p ModernPayload) groups() ([]GroupSpec, error) {
	if len(p.Groups) == 0 {
		return nil, &generic.ValidationError{Group: -1, Field: "grupos", Message: ErrNoGroups.Error(), Err: ErrNoGroups}
	}
	return p.Groups, nil
}

// LegacyPayload is the flat single-group shape.
type LegacyPayload struct {
	GroupSpec

	ProductIDs  []string
	TaskIDs     []string
	Tasks       []Assignment
	DailyEffort string
}

func (p LegacyPayload) groups() ([]GroupSpec, error) {
	g := p.GroupSpec
	if len(g.ProductsWithTasks) == 0 && (len(p.ProductIDs) > 0 || len(p.TaskIDs) > 0) {
		var tasks []Assignment
		if len(p.TaskIDs) > 0 {
			for _, id := range p.TaskIDs {
				tasks = append(tasks, Assignment{
					TaskID:        id,
					DailyEffort:   p.DailyEffort,
					ResponsibleID: g.DefaultResponsibleID,
				})
			}
		} else {
			tasks = append(tasks, p.Tasks...)
		}

		g.ProductsWithTasks = make(map[string][]Assignment, len(p.ProductIDs))
		for _, pid := range p.ProductIDs {
			g.ProductsWithTasks[pid] = tasks
		}
	}
	return []GroupSpec{g}, nil
}

// Normalize returns the canonical groups of any accepted payload.
func Normalize(p Payload) ([]GroupSpec, error) {
	if p == nil {
		return nil, &generic.ValidationError{Group: -1, Field: "grupos", Message: ErrNoGroups.Error(), Err: ErrNoGroups}
	}
	return p.groups()
}
