/*
handlers_test.go - Tests for API handlers

Tests for:
- Replace, create, read and delete of grouping rules (both body shapes)
- Error envelope and status mapping
- Preview and spreadsheet export
- Holiday and task type endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/estimate-engine/estimate"
	"github.com/warp/estimate-engine/generic"
	"github.com/warp/estimate-engine/store/sqlite"
)

type testEnv struct {
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
}

func newTestEnv(t *testing.T, fetcher *fakeFetcher) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	service := estimate.NewService(store, store, store, zap.NewNop())
	h := NewHandler(service, store, store, nil, zap.NewNop())
	if fetcher != nil {
		h.Fetcher = fetcher
	}
	h.NewGroupingID = func() string { return "new-grouping" }

	return &testEnv{store: store, handler: h, router: NewRouter(h, nil)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// januaryBody is one group, two tasks, weekdays of January 2024 (23 days).
const januaryBody = `{
	"cliente_id": "c1",
	"grupos": [{
		"produtos_com_tarefas": {
			"10": [
				{"tarefa_id": 100, "responsavel_id": 5, "tempo_estimado_dia": 3600000},
				{"tarefa_id": "101", "responsavel_id": "5", "tempo_estimado_dia": "1800000"}
			]
		},
		"data_inicio": "2024-01-01",
		"data_fim": "2024-01-31",
		"incluir_finais_semana": false
	}]
}`

// =============================================================================
// REPLACE
// =============================================================================

func TestReplaceRules_ModernBody(t *testing.T) {
	// GIVEN: A weekday-only January group with two tasks
	env := newTestEnv(t, nil)

	// WHEN: Replacing the grouping's rules
	rec := env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody)

	// THEN: One bridged segment, one rule per task
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ReplaceResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "g1", resp.GroupingID)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 1, resp.Segments)
	assert.Equal(t, "34.50", resp.PlannedHours)

	rec = env.do(t, http.MethodGet, "/api/groupings/g1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[RulesResponse](t, rec)
	require.Equal(t, 2, rules.Count)
	assert.Equal(t, "2024-01-01", rules.Data[0].SegmentStart)
	assert.Equal(t, "2024-01-31", rules.Data[0].SegmentEnd)
	assert.Equal(t, int64(100), rules.Data[0].TaskID)
	assert.Equal(t, int64(3_600_000), rules.Data[0].DailyEffort)
	assert.False(t, rules.Data[0].IncludeWeekends)
	assert.True(t, rules.Data[0].IncludeHolidays, "omitted flag defaults to true")
}

func TestReplaceRules_LegacyBody(t *testing.T) {
	// GIVEN: The flat shape with product and task id lists
	env := newTestEnv(t, nil)
	body := `{
		"cliente_id": 7,
		"produto_ids": [1, 2],
		"tarefa_ids": [100],
		"responsavel_id": 5,
		"tempo_estimado_dia": 3600000,
		"data_inicio": "2024-01-05",
		"data_fim": "2024-01-09",
		"incluir_finais_semana": false
	}`

	// WHEN: Replacing
	rec := env.do(t, http.MethodPut, "/api/groupings/g2/rules", body)

	// THEN: One rule per product over the bridged Fri-Tue segment
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[ReplaceResponse](t, rec).Count)

	rules, err := env.store.ListByGrouping(context.Background(), "g2")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, generic.ClientID("7"), rules[0].ClientID)
	assert.Equal(t, "5", rules[0].ResponsibleID)
}

func TestReplaceRules_EmptyGroupsUseFlatFields(t *testing.T) {
	// GIVEN: An empty grupos list next to a valid flat group
	env := newTestEnv(t, nil)
	body := `{
		"cliente_id": "c1",
		"grupos": [],
		"produtos_com_tarefas": {"10": [{"tarefa_id": 100, "responsavel_id": 5, "tempo_estimado_dia": 3600000}]},
		"data_inicio": "2024-01-01",
		"data_fim": "2024-01-05"
	}`

	// WHEN: Replacing
	rec := env.do(t, http.MethodPut, "/api/groupings/g3/rules", body)

	// THEN: The flat fields are used
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[ReplaceResponse](t, rec).Count)
}

func TestReplaceRules_ReplacesPreviousSet(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody).Code)

	// WHEN: Replacing with a single-task single-day group
	body := `{"cliente_id":"c1","grupos":[{"produtos_com_tarefas":{"10":[{"tarefa_id":100,"responsavel_id":5,"tempo_estimado_dia":3600000}]},"datas_individuais":["2024-02-01"]}]}`
	rec := env.do(t, http.MethodPut, "/api/groupings/g1/rules", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Only the new rule remains
	rules, err := env.store.ListByGrouping(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "2024-02-01", rules[0].SegmentStart.String())
}

func TestReplaceRules_ValidationError(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody).Code)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"malformed json", `{`, "Invalid request body"},
		{"missing client", `{"grupos":[{}]}`, "client id is required"},
		{"empty groups without flat fields", `{"cliente_id":"c1","grupos":[]}`, "invalid group 0"},
		{"no dates", `{"cliente_id":"c1","grupos":[{"produtos_com_tarefas":{"1":[{"tarefa_id":1}]}}]}`, "invalid group 0"},
		{"bad effort", `{"cliente_id":"c1","grupos":[{"produtos_com_tarefas":{"1":[{"tarefa_id":1,"responsavel_id":2,"tempo_estimado_dia":"abc"}]},"datas_individuais":["2024-01-02"]}]}`, "invalid group 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/groupings/g1/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.wantMsg)
		})
	}

	// THEN: The grouping still has its original rules
	rules, err := env.store.ListByGrouping(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestReplaceRules_HolidaysExcluded(t *testing.T) {
	// GIVEN: A client holiday on Wednesday 2024-01-03
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Scope: "c1", Date: "2024-01-03", Name: "Aniversário"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: A Mon-Fri group excludes holidays
	body := `{"cliente_id":"c1","grupos":[{"produtos_com_tarefas":{"1":[{"tarefa_id":1,"responsavel_id":2,"tempo_estimado_dia":3600000}]},"data_inicio":"2024-01-01","data_fim":"2024-01-05","incluir_feriados":false}]}`
	rec = env.do(t, http.MethodPut, "/api/groupings/g1/rules", body)

	// THEN: The holiday is bridged, one segment of four days
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ReplaceResponse](t, rec)
	assert.Equal(t, 1, resp.Segments)
	assert.Equal(t, "4.00", resp.PlannedHours)
}

func TestCreateGrouping(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/groupings", januaryBody)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "new-grouping", decode[ReplaceResponse](t, rec).GroupingID)
}

// =============================================================================
// READS AND DELETES
// =============================================================================

func TestGetGrouping(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/groupings/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decode[ErrorResponse](t, rec).Success)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody).Code)

	rec = env.do(t, http.MethodGet, "/api/groupings/g1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Success bool       `json:"success"`
		Data    SummaryDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.Data.ClientID)
	require.NotNil(t, resp.Data.PeriodStart)
	assert.Equal(t, "2024-01-01", *resp.Data.PeriodStart)
	assert.Equal(t, "2024-01-31", *resp.Data.PeriodEnd)
	assert.Equal(t, 2, resp.Data.RuleCount)
}

func TestDeleteRules(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody).Code)

	rec := env.do(t, http.MethodDelete, "/api/groupings/g1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	rec = env.do(t, http.MethodGet, "/api/groupings/g1/rules", nil)
	assert.Equal(t, 0, decode[RulesResponse](t, rec).Count)
}

func TestPreviewEstimate_DoesNotPersist(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"agrupador_id":"g9","cliente_id":"c1","grupos":[{"produtos_com_tarefas":{"1":[{"tarefa_id":1,"responsavel_id":2,"tempo_estimado_dia":3600000}]},"datas_individuais":["2024-01-05","2024-01-08","2024-01-10"],"incluir_finais_semana":false}]}`

	rec := env.do(t, http.MethodPost, "/api/estimates/preview", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[PreviewResponse](t, rec)
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, []string{"2024-01-05", "2024-01-08", "2024-01-10"}, resp.Groups[0].Days)
	assert.Equal(t, []SegmentDTO{
		{Start: "2024-01-05", End: "2024-01-08", Days: 2},
		{Start: "2024-01-10", End: "2024-01-10", Days: 1},
	}, resp.Groups[0].Segments)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "3.00", resp.PlannedHours)

	rules, err := env.store.ListByGrouping(context.Background(), "g9")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestExportRules(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody).Code)

	rec := env.do(t, http.MethodGet, "/api/groupings/g1/rules.xlsx", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "agrupador-g1.xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

type failingRules struct {
	*sqlite.Store
	err error
}

func (f failingRules) WithTx(ctx context.Context, fn func(generic.RuleStore) error) error {
	return f.err
}

func TestWriteServiceError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", generic.NewValidationError("cliente_id", generic.ErrMissingClient), http.StatusBadRequest, "client id is required"},
		{"not found", generic.ErrGroupingNotFound, http.StatusNotFound, "Agrupamento não encontrado"},
		{"conflict", generic.ErrLockUnavailable, http.StatusConflict, "Agrupamento em atualização, tente novamente"},
		{"delete", &generic.PersistenceError{Op: generic.OpDelete, GroupingID: "g1", Err: errors.New("locked")}, http.StatusInternalServerError, "Erro ao deletar regras antigas"},
		{"insert", &generic.PersistenceError{Op: generic.OpInsert, GroupingID: "g1", Err: errors.New("constraint")}, http.StatusInternalServerError, "Erro ao inserir novas regras"},
		{"lookup", &generic.PersistenceError{Op: generic.OpLookup, GroupingID: "g1", Err: errors.New("holiday api down")}, http.StatusInternalServerError, "Erro ao consultar feriados ou tipos de tarefa"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "fallback"},
	}

	h := &Handler{Logger: zap.New(core)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), "fallback", tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decode[ErrorResponse](t, rec).Error)
		})
	}
	assert.Equal(t, 4, logs.Len(), "only server errors are logged")
}

func TestReplaceRules_StoreFailure(t *testing.T) {
	// GIVEN: A store whose transactions fail
	env := newTestEnv(t, nil)
	env.handler.Service.Store = failingRules{Store: env.store, err: errors.New("disk full")}

	rec := env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody)

	// THEN: 500 with the cause in details
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Erro ao deletar regras antigas", resp.Error)
	assert.Contains(t, resp.Details, "disk full")
}

// =============================================================================
// HOLIDAYS AND TASK TYPES
// =============================================================================

type fakeFetcher struct {
	years []int
	err   error
}

func (f *fakeFetcher) FetchYear(_ context.Context, year int) ([]generic.Holiday, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.years = append(f.years, year)
	date := generic.NewTimePoint(year, time.December, 25)
	return []generic.Holiday{{ID: "br-" + date.String(), Date: date, Name: "Natal"}}, nil
}

func TestHolidays_CreateListDelete(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "2024-11-20", Name: "Consciência Negra"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Holiday string `json:"holiday"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodGet, "/api/holidays", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Holidays []HolidayDTO `json:"holidays"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Holidays, 1)
	assert.Equal(t, "2024-11-20", list.Holidays[0].Date)

	rec = env.do(t, http.MethodDelete, "/api/holidays/"+created.Holiday, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	all, err := env.store.GetAllHolidays(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHolidays_CreateValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "2024-11-20"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/holidays", CreateHolidayRequest{Date: "20/11/2024", Name: "x"}).Code)
}

func TestHolidays_Import(t *testing.T) {
	fetcher := &fakeFetcher{}
	env := newTestEnv(t, fetcher)

	rec := env.do(t, http.MethodPost, "/api/holidays/import", ImportHolidaysRequest{Years: []int{2024, 2025}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int{2024, 2025}, fetcher.years)
	assert.True(t, env.store.IsHoliday("any-client", generic.MustDate("2025-12-25")))
}

func TestHolidays_ImportUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusNotImplemented, env.do(t, http.MethodPost, "/api/holidays/import", nil).Code)

	env = newTestEnv(t, &fakeFetcher{err: errors.New("timeout")})
	assert.Equal(t, http.StatusBadGateway, env.do(t, http.MethodPost, "/api/holidays/import", nil).Code)
}

func TestSetTaskType_StampsNewRules(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/task-types/100", TaskTypeRequest{TaskTypeID: 9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/task-types/abc", TaskTypeRequest{TaskTypeID: 9}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/task-types/100", TaskTypeRequest{}).Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/groupings/g1/rules", januaryBody).Code)

	rules := decode[RulesResponse](t, env.do(t, http.MethodGet, "/api/groupings/g1/rules", nil)).Data
	require.Len(t, rules, 2)
	require.NotNil(t, rules[0].TaskTypeID)
	assert.Equal(t, int64(9), *rules[0].TaskTypeID)
	assert.Nil(t, rules[1].TaskTypeID)
}

func TestHolidaySyncScheduler_RunNow(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	fetcher := &fakeFetcher{}
	s := NewHolidaySyncScheduler(fetcher, store, nil)
	s.Now = func() time.Time { return time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC) }

	assert.Equal(t, 2, s.RunNow())
	assert.Equal(t, []int{2024, 2025}, fetcher.years)

	fetcher.err = errors.New("down")
	assert.Equal(t, 0, s.RunNow())
}

func TestHolidaySyncScheduler_StartStop(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	s := NewHolidaySyncScheduler(&fakeFetcher{}, store, nil)
	s.CheckInterval = time.Hour
	s.Start()
	s.Stop()
	s.Stop()

	all, err := store.GetAllHolidays(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "runs once on start")
}
