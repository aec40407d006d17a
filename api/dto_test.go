package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/warp/estimate-engine/estimate"
)

func TestFlexString_JSON(t *testing.T) {
	tests := []struct {
		raw  string
		want FlexString
	}{
		{`"abc"`, "abc"},
		{`" 42 "`, "42"},
		{`42`, "42"},
		{`3600000.5`, "3600000.5"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f FlexString
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &f), tt.raw)
		assert.Equal(t, tt.want, f, tt.raw)
	}

	var f FlexString
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &f))
	assert.Error(t, json.Unmarshal([]byte(`true`), &f))
}

func TestReplaceRequest_ToDomain_Modern(t *testing.T) {
	var req ReplaceRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"agrupador_id": "body-id",
		"cliente_id": 12,
		"grupos": [{
			"produtos_com_tarefas": {"1": [{"tarefa_id": 7, "responsavel_id": 3, "tempo_estimado_dia": 60000}]},
			"datas_individuais": ["2024-01-02"],
			"incluir_feriados": false
		}]
	}`), &req))

	got := req.ToDomain("url-id")

	assert.Equal(t, "url-id", string(got.GroupingID))
	assert.Equal(t, "12", string(got.ClientID))
	modern, ok := got.Payload.(estimate.ModernPayload)
	require.True(t, ok)
	require.Len(t, modern.Groups, 1)
	g := modern.Groups[0]
	assert.True(t, g.IncludeWeekends, "omitted flag defaults to true")
	assert.False(t, g.IncludeHolidays)
	assert.Equal(t, []estimate.Assignment{{TaskID: "7", ResponsibleID: "3", DailyEffort: "60000"}}, g.ProductsWithTasks["1"])

	assert.Equal(t, "body-id", string(req.ToDomain("").GroupingID))
}

func TestReplaceRequest_ToDomain_Legacy(t *testing.T) {
	var req ReplaceRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"cliente_id": "c1",
		"produto_ids": [1, "2"],
		"tarefa_ids": [10],
		"responsavel_id": 4,
		"tempo_estimado_dia": "3600000",
		"data_inicio": "2024-01-01",
		"data_fim": "2024-01-05",
		"incluir_finais_semana": false
	}`), &req))

	legacy, ok := req.ToDomain("g1").Payload.(estimate.LegacyPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, legacy.ProductIDs)
	assert.Equal(t, []string{"10"}, legacy.TaskIDs)
	assert.Equal(t, "3600000", legacy.DailyEffort)
	assert.Equal(t, "4", legacy.DefaultResponsibleID)
	assert.False(t, legacy.IncludeWeekends)
	assert.True(t, legacy.IncludeHolidays)

	groups, err := estimate.Normalize(legacy)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].ProductsWithTasks, 2)
}

func TestReplaceRequest_ToDomain_EmptyGroupsFallBackToLegacy(t *testing.T) {
	// GIVEN: An older client sending an empty grupos list next to flat fields
	var req ReplaceRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"cliente_id": "c1",
		"grupos": [],
		"produtos_com_tarefas": {"1": [{"tarefa_id": 10, "responsavel_id": 4, "tempo_estimado_dia": 3600000}]},
		"data_inicio": "2024-01-01",
		"data_fim": "2024-01-05"
	}`), &req))

	// WHEN: Converting to the domain request
	legacy, ok := req.ToDomain("g1").Payload.(estimate.LegacyPayload)

	// THEN: The flat fields form the single group
	require.True(t, ok, "empty grupos must select the legacy shape")
	groups, err := estimate.Normalize(legacy)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "2024-01-01", groups[0].PeriodStart)
	assert.Len(t, groups[0].ProductsWithTasks["1"], 1)
}

func TestReplaceRequest_YAML(t *testing.T) {
	var req ReplaceRequest
	require.NoError(t, yaml.Unmarshal([]byte(`
agrupador_id: g1
cliente_id: 12
grupos:
  - produtos_com_tarefas:
      "1":
        - tarefa_id: 7
          responsavel_id: 3
          tempo_estimado_dia: 3600000
    data_inicio: "2024-01-01"
    data_fim: "2024-01-31"
    incluir_finais_semana: false
`), &req))

	got := req.ToDomain("")
	assert.Equal(t, "g1", string(got.GroupingID))
	assert.Equal(t, "12", string(got.ClientID))
	modern, ok := got.Payload.(estimate.ModernPayload)
	require.True(t, ok)
	require.Len(t, modern.Groups, 1)
	assert.Equal(t, "2024-01-01", modern.Groups[0].PeriodStart)
	assert.False(t, modern.Groups[0].IncludeWeekends)
	assert.Equal(t, "3600000", modern.Groups[0].ProductsWithTasks["1"][0].DailyEffort)
}
