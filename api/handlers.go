/*
handlers.go - HTTP API handlers for the estimate engine

PURPOSE:
  Exposes estimate replacement, grouping reads and the holiday calendar via
  REST API. Handles HTTP request/response, JSON serialization, and delegates
  to the estimate service.

ENDPOINTS:
  Groupings:
    POST   /api/groupings                        Create grouping (server id)
    GET    /api/groupings/{groupingID}           Grouping summary
    PUT    /api/groupings/{groupingID}/rules     Replace all rules
    GET    /api/groupings/{groupingID}/rules     List rules
    GET    /api/groupings/{groupingID}/rules.xlsx Export rules
    DELETE /api/groupings/{groupingID}/rules     Delete all rules

  Estimates:
    POST   /api/estimates/preview                Expand without writing

  Holidays:
    GET    /api/holidays                         List stored holidays
    POST   /api/holidays                         Create holiday
    POST   /api/holidays/import                  Import national holidays
    DELETE /api/holidays/{id}                    Delete holiday

  Task types:
    PUT    /api/task-types/{taskID}              Set a task's type

RESPONSE ENVELOPE:
  Every JSON body carries "success". Failures add "error" and, for store
  failures, "details":
  - 400: Validation errors, invalid input
  - 404: Grouping not found
  - 409: Grouping locked by a concurrent replace
  - 500: Store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - estimate/replace.go: Service
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/estimate-engine/estimate"
	"github.com/warp/estimate-engine/export"
	"github.com/warp/estimate-engine/generic"
	"github.com/warp/estimate-engine/holidays"
	"github.com/warp/estimate-engine/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HolidayStore is the holiday persistence the handlers need.
type HolidayStore interface {
	SaveHoliday(ctx context.Context, h generic.Holiday) error
	DeleteHoliday(ctx context.Context, id string) error
	GetAllHolidays(ctx context.Context, scope string) ([]generic.Holiday, error)
}

// TaskTypeStore records task types used to stamp new rules.
type TaskTypeStore interface {
	UpsertTaskType(ctx context.Context, taskID, taskTypeID int64) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *estimate.Service
	Holidays  HolidayStore
	TaskTypes TaskTypeStore
	Fetcher   holidays.Fetcher // nil disables /holidays/import
	Logger    *zap.Logger

	NewGroupingID func() string
}

// NewHandler creates a new handler.
func NewHandler(service *estimate.Service, holidayStore HolidayStore, taskTypes TaskTypeStore, fetcher holidays.Fetcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:       service,
		Holidays:      holidayStore,
		TaskTypes:     taskTypes,
		Fetcher:       fetcher,
		Logger:        logger,
		NewGroupingID: uuid.NewString,
	}
}

// =============================================================================
// GROUPING HANDLERS
// =============================================================================

// ReplaceRules swaps a grouping's rules for the ones in the body.
// PUT /api/groupings/{groupingID}/rules
func (h *Handler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	h.replace(w, r, chi.URLParam(r, "groupingID"), http.StatusOK, "Regras atualizadas com sucesso")
}

// CreateGrouping creates a grouping with a server-generated id.
// POST /api/groupings
func (h *Handler) CreateGrouping(w http.ResponseWriter, r *http.Request) {
	h.replace(w, r, h.NewGroupingID(), http.StatusCreated, "Agrupamento criado com sucesso")
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request, groupingID string, status int, message string) {
	var req ReplaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Service.Replace(r.Context(), req.ToDomain(groupingID))
	if err != nil {
		h.writeServiceError(w, r, "Erro ao atualizar agrupamento", err)
		return
	}

	writeJSON(w, status, ReplaceResponse{
		Success:      true,
		GroupingID:   string(result.GroupingID),
		Count:        result.Count,
		Segments:     result.Segments,
		PlannedHours: result.PlannedEffort.Value.StringFixed(2),
		Message:      message,
	})
}

// GetGrouping returns a grouping's overall period.
// GET /api/groupings/{groupingID}
func (h *Handler) GetGrouping(w http.ResponseWriter, r *http.Request) {
	groupingID := generic.GroupingID(chi.URLParam(r, "groupingID"))

	summary, err := h.Service.Summary(r.Context(), groupingID)
	if err != nil {
		h.writeServiceError(w, r, "Erro ao buscar agrupamento", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": toSummaryDTO(summary)})
}

// ListRules returns a grouping's stored rules.
// GET /api/groupings/{groupingID}/rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Service.Rules(r.Context(), generic.GroupingID(chi.URLParam(r, "groupingID")))
	if err != nil {
		h.writeServiceError(w, r, "Erro ao buscar regras", err)
		return
	}

	writeJSON(w, http.StatusOK, RulesResponse{Success: true, Count: len(rules), Data: toRuleDTOs(rules)})
}

// ExportRules renders a grouping's rules as a spreadsheet.
// GET /api/groupings/{groupingID}/rules.xlsx
func (h *Handler) ExportRules(w http.ResponseWriter, r *http.Request) {
	groupingID := generic.GroupingID(chi.URLParam(r, "groupingID"))

	rules, err := h.Service.Rules(r.Context(), groupingID)
	if err != nil {
		h.writeServiceError(w, r, "Erro ao buscar regras", err)
		return
	}

	data, err := export.RulesWorkbook(groupingID, rules, h.Service.Holidays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Erro ao gerar planilha", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="agrupador-%s.xlsx"`, groupingID))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DeleteRules removes every rule of a grouping.
// DELETE /api/groupings/{groupingID}/rules
func (h *Handler) DeleteRules(w http.ResponseWriter, r *http.Request) {
	removed, err := h.Service.DeleteGrouping(r.Context(), generic.GroupingID(chi.URLParam(r, "groupingID")))
	if err != nil {
		h.writeServiceError(w, r, "Erro ao deletar agrupamento", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   removed,
		"message": "Agrupamento deletado com sucesso",
	})
}

// PreviewEstimate expands, coalesces and materializes without writing.
// POST /api/estimates/preview
func (h *Handler) PreviewEstimate(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Previews of a grouping that does not exist yet still need an id for
	// the rules they show.
	groupingID := req.GroupingID.String()
	if groupingID == "" {
		groupingID = "preview"
	}

	plan, err := h.Service.Preview(r.Context(), req.ToDomain(groupingID))
	if err != nil {
		h.writeServiceError(w, r, "Erro ao calcular estimativa", err)
		return
	}

	writeJSON(w, http.StatusOK, toPreviewResponse(plan))
}

// =============================================================================
// TASK TYPES
// =============================================================================

// SetTaskType records the type of a task.
// PUT /api/task-types/{taskID}
func (h *Handler) SetTaskType(w http.ResponseWriter, r *http.Request) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "tarefa_id inválido", err)
		return
	}

	var req TaskTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TaskTypeID <= 0 {
		writeError(w, http.StatusBadRequest, "tipo_tarefa_id é obrigatório", nil)
		return
	}

	if err := h.TaskTypes.UpsertTaskType(r.Context(), taskID, req.TaskTypeID); err != nil {
		writeError(w, http.StatusInternalServerError, "Erro ao salvar tipo de tarefa", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tarefa_id": taskID, "tipo_tarefa_id": req.TaskTypeID})
}

// =============================================================================
// HOLIDAY ENDPOINTS
// =============================================================================

// ListHolidays returns stored holidays. Without cliente_id only national
// holidays are listed.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Holidays.GetAllHolidays(r.Context(), r.URL.Query().Get("cliente_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, HolidayDTO{
			ID:        hol.ID,
			Scope:     hol.Scope,
			Date:      hol.Date.String(),
			Name:      hol.Name,
			Recurring: hol.Recurring,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "holidays": dtos})
}

// CreateHoliday creates a new holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Date == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}

	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	holiday := generic.Holiday{
		ID:        fmt.Sprintf("holiday-%d", time.Now().UnixNano()),
		Scope:     strings.TrimSpace(req.Scope),
		Date:      date,
		Name:      strings.TrimSpace(req.Name),
		Recurring: req.Recurring,
	}

	if err := h.Holidays.SaveHoliday(r.Context(), holiday); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create holiday", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "holiday": holiday.ID})
}

// DeleteHoliday deletes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Holidays.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete holiday", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "deleted"})
}

// ImportHolidays copies national holidays from the holiday API. An empty
// body imports the current and next year.
// POST /api/holidays/import
func (h *Handler) ImportHolidays(w http.ResponseWriter, r *http.Request) {
	if h.Fetcher == nil {
		writeError(w, http.StatusNotImplemented, "Holiday import is not configured", nil)
		return
	}

	var req ImportHolidaysRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if len(req.Years) == 0 {
		year := time.Now().Year()
		req.Years = []int{year, year + 1}
	}

	n, err := holidays.Import(r.Context(), h.Fetcher, h.Holidays, req.Years...)
	if err != nil {
		logging.FromContext(r.Context(), h.Logger).Error("holiday import failed", zap.Ints("years", req.Years), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to import holidays", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "imported": n, "years": req.Years})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps estimate service errors to statuses. Validation
// messages are returned as the error itself; store failures carry the cause
// in details and anything else is reported without internals.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, generic.ErrGroupingNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Agrupamento não encontrado"})
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, "Agrupamento em atualização, tente novamente", err)
	default:
		logging.FromContext(r.Context(), h.Logger).Error(message, zap.Error(err))

		var pe *generic.PersistenceError
		if !errors.As(err, &pe) {
			writeError(w, http.StatusInternalServerError, message, nil)
			return
		}
		switch pe.Op {
		case generic.OpDelete:
			message = "Erro ao deletar regras antigas"
		case generic.OpInsert:
			message = "Erro ao inserir novas regras"
		case generic.OpLookup:
			message = "Erro ao consultar feriados ou tipos de tarefa"
		}
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
