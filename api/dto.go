/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Field names
  are the Portuguese keys existing clients already send.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Replace:
    ReplaceRequest, GroupDTO, AssignmentDTO, ReplaceResponse

  Rules:
    RuleDTO, RulesResponse, SummaryDTO

  Preview:
    PreviewResponse, GroupPreviewDTO, SegmentDTO

  Holidays:
    HolidayDTO, CreateHolidayRequest, ImportHolidaysRequest

LOOSE NUMBERS:
  Clients send ids and efforts both as numbers and as strings. FlexString
  accepts either (and null) and keeps the text; the materializer parses it.

VALIDATION:
  Validation is done in the estimate package, not in DTOs. DTOs are pure
  data carriers. The same types decode the CLI's YAML request files.

SEE ALSO:
  - handlers.go: Uses these types
  - estimate/group.go: Domain types these map to
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/estimate-engine/estimate"
	"github.com/warp/estimate-engine/generic"
)

// =============================================================================
// FLEX STRING
// =============================================================================

// FlexString is a JSON or YAML scalar (string, number or null) kept as text.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

func (f *FlexString) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar", value.Line)
	}
	if value.Tag == "!!null" {
		*f = ""
		return nil
	}
	*f = FlexString(strings.TrimSpace(value.Value))
	return nil
}

func (f FlexString) String() string { return string(f) }

func flexStrings(in []FlexString) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// =============================================================================
// REPLACE REQUEST
// =============================================================================

// AssignmentDTO is one task of a product.
type AssignmentDTO struct {
	TaskID        FlexString `json:"tarefa_id" yaml:"tarefa_id"`
	ResponsibleID FlexString `json:"responsavel_id" yaml:"responsavel_id"`
	DailyEffort   FlexString `json:"tempo_estimado_dia" yaml:"tempo_estimado_dia"`
}

// GroupDTO is one group of the list-of-groups body.
type GroupDTO struct {
	ProductsWithTasks    map[string][]AssignmentDTO `json:"produtos_com_tarefas" yaml:"produtos_com_tarefas"`
	PeriodStart          string                     `json:"data_inicio" yaml:"data_inicio"`
	PeriodEnd            string                     `json:"data_fim" yaml:"data_fim"`
	DefaultResponsibleID FlexString                 `json:"responsavel_id" yaml:"responsavel_id"`
	IncludeWeekends      *bool                      `json:"incluir_finais_semana" yaml:"incluir_finais_semana"`
	IncludeHolidays      *bool                      `json:"incluir_feriados" yaml:"incluir_feriados"`
	IndividualDates      []string                   `json:"datas_individuais" yaml:"datas_individuais"`
}

// ReplaceRequest is the body of replace, create and preview calls. When
// grupos is present the flat fields are ignored.
type ReplaceRequest struct {
	GroupingID FlexString `json:"agrupador_id,omitempty" yaml:"agrupador_id"`
	ClientID   FlexString `json:"cliente_id" yaml:"cliente_id"`
	Groups     []GroupDTO `json:"grupos" yaml:"grupos"`

	// Flat single-group shape
	GroupDTO    `yaml:",inline"`
	ProductIDs  []FlexString    `json:"produto_ids" yaml:"produto_ids"`
	TaskIDs     []FlexString    `json:"tarefa_ids" yaml:"tarefa_ids"`
	Tasks       []AssignmentDTO `json:"tarefas" yaml:"tarefas"`
	DailyEffort FlexString      `json:"tempo_estimado_dia" yaml:"tempo_estimado_dia"`
}

func boolOr(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}

func toAssignments(in []AssignmentDTO) []estimate.Assignment {
	if in == nil {
		return nil
	}
	out := make([]estimate.Assignment, len(in))
	for i, a := range in {
		out[i] = estimate.Assignment{
			TaskID:        a.TaskID.String(),
			ResponsibleID: a.ResponsibleID.String(),
			DailyEffort:   a.DailyEffort.String(),
		}
	}
	return out
}

// ToSpec converts a group; omitted weekend/holiday flags default to true.
func (g GroupDTO) ToSpec() estimate.GroupSpec {
	spec := estimate.GroupSpec{
		PeriodStart:          g.PeriodStart,
		PeriodEnd:            g.PeriodEnd,
		DefaultResponsibleID: g.DefaultResponsibleID.String(),
		IncludeWeekends:      boolOr(g.IncludeWeekends, true),
		IncludeHolidays:      boolOr(g.IncludeHolidays, true),
		IndividualDates:      g.IndividualDates,
	}
	if len(g.ProductsWithTasks) > 0 {
		spec.ProductsWithTasks = make(map[string][]estimate.Assignment, len(g.ProductsWithTasks))
		for pid, tasks := range g.ProductsWithTasks {
			spec.ProductsWithTasks[pid] = toAssignments(tasks)
		}
	}
	return spec
}

// ToDomain builds the estimate request for a grouping. groupingID overrides
// the body's agrupador_id when non-empty.
func (req ReplaceRequest) ToDomain(groupingID string) estimate.ReplaceRequest {
	if groupingID == "" {
		groupingID = req.GroupingID.String()
	}
	out := estimate.ReplaceRequest{
		GroupingID: generic.GroupingID(groupingID),
		ClientID:   generic.ClientID(req.ClientID.String()),
	}

	// An empty grupos list falls back to the flat fields.
	if len(req.Groups) > 0 {
		groups := make([]estimate.GroupSpec, len(req.Groups))
		for i, g := range req.Groups {
			groups[i] = g.ToSpec()
		}
		out.Payload = estimate.ModernPayload{Groups: groups}
		return out
	}

	out.Payload = estimate.LegacyPayload{
		GroupSpec:   req.GroupDTO.ToSpec(),
		ProductIDs:  flexStrings(req.ProductIDs),
		TaskIDs:     flexStrings(req.TaskIDs),
		Tasks:       toAssignments(req.Tasks),
		DailyEffort: req.DailyEffort.String(),
	}
	return out
}

// =============================================================================
// RESPONSES
// =============================================================================

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ReplaceResponse struct {
	Success      bool   `json:"success"`
	GroupingID   string `json:"agrupador_id"`
	Count        int    `json:"count"`
	Segments     int    `json:"segmentos"`
	PlannedHours string `json:"horas_planejadas"`
	Message      string `json:"message"`
}

// RuleDTO represents a stored rule in API responses.
type RuleDTO struct {
	ID              string    `json:"id"`
	GroupingID      string    `json:"agrupador_id"`
	ClientID        string    `json:"cliente_id"`
	ProductID       string    `json:"produto_id"`
	TaskID          int64     `json:"tarefa_id"`
	TaskTypeID      *int64    `json:"tipo_tarefa_id"`
	ResponsibleID   string    `json:"responsavel_id"`
	SegmentStart    string    `json:"data_inicio"`
	SegmentEnd      string    `json:"data_fim"`
	DailyEffort     int64     `json:"tempo_estimado_dia"`
	IncludeWeekends bool      `json:"incluir_finais_semana"`
	IncludeHolidays bool      `json:"incluir_feriados"`
	CreatedAt       time.Time `json:"created_at"`
}

func toRuleDTOs(rules []generic.Rule) []RuleDTO {
	dtos := make([]RuleDTO, len(rules))
	for i, r := range rules {
		dtos[i] = RuleDTO{
			ID:              string(r.ID),
			GroupingID:      string(r.GroupingID),
			ClientID:        string(r.ClientID),
			ProductID:       r.ProductID,
			TaskID:          r.TaskID,
			TaskTypeID:      r.TaskTypeID,
			ResponsibleID:   r.ResponsibleID,
			SegmentStart:    r.SegmentStart.String(),
			SegmentEnd:      r.SegmentEnd.String(),
			DailyEffort:     r.DailyEffort,
			IncludeWeekends: r.IncludeWeekends,
			IncludeHolidays: r.IncludeHolidays,
			CreatedAt:       r.CreatedAt,
		}
	}
	return dtos
}

type RulesResponse struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Data    []RuleDTO `json:"data"`
}

// SummaryDTO is a grouping's overall period.
type SummaryDTO struct {
	GroupingID  string    `json:"agrupador_id"`
	ClientID    string    `json:"cliente_id"`
	PeriodStart *string   `json:"data_inicio"`
	PeriodEnd   *string   `json:"data_fim"`
	RuleCount   int       `json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toSummaryDTO(s *generic.GroupingSummary) SummaryDTO {
	dto := SummaryDTO{
		GroupingID: string(s.GroupingID),
		ClientID:   string(s.ClientID),
		RuleCount:  s.RuleCount,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Period != nil {
		start, end := s.Period.Start.String(), s.Period.End.String()
		dto.PeriodStart, dto.PeriodEnd = &start, &end
	}
	return dto
}

type SegmentDTO struct {
	Start string `json:"data_inicio"`
	End   string `json:"data_fim"`
	Days  int    `json:"dias"`
}

type GroupPreviewDTO struct {
	Index    int          `json:"indice"`
	Days     []string     `json:"dias"`
	Segments []SegmentDTO `json:"segmentos"`
	Rules    int          `json:"regras"`
}

type PreviewResponse struct {
	Success      bool              `json:"success"`
	Count        int               `json:"count"`
	Segments     int               `json:"segmentos"`
	PlannedHours string            `json:"horas_planejadas"`
	Groups       []GroupPreviewDTO `json:"grupos"`
	Rules        []RuleDTO         `json:"regras"`
}

func toPreviewResponse(plan *estimate.Plan) PreviewResponse {
	resp := PreviewResponse{
		Success:      true,
		Count:        len(plan.Rules),
		Segments:     plan.Segments(),
		PlannedHours: plan.PlannedEffort.Value.StringFixed(2),
		Groups:       make([]GroupPreviewDTO, len(plan.Groups)),
		Rules:        toRuleDTOs(plan.Rules),
	}
	for i, g := range plan.Groups {
		gp := GroupPreviewDTO{Index: g.Index, Rules: g.Rules, Days: make([]string, len(g.Days)), Segments: make([]SegmentDTO, len(g.Segments))}
		for j, d := range g.Days {
			gp.Days[j] = d.String()
		}
		for j, s := range g.Segments {
			gp.Segments[j] = SegmentDTO{Start: s.Start.String(), End: s.End.String(), Days: s.Days}
		}
		resp.Groups[i] = gp
	}
	return resp
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type HolidayDTO struct {
	ID        string `json:"id"`
	Scope     string `json:"cliente_id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

type CreateHolidayRequest struct {
	Scope     string `json:"cliente_id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

type ImportHolidaysRequest struct {
	Years []int `json:"years"`
}

type TaskTypeRequest struct {
	TaskTypeID int64 `json:"tipo_tarefa_id"`
}
