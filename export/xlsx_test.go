package export_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estimate-engine/export"
	"github.com/warp/estimate-engine/generic"
)

func TestRulesWorkbook(t *testing.T) {
	// GIVEN: A rule over a week bridged across the weekend (5 working days)
	// AND: A holiday-agnostic rule over a single day
	typeID := int64(7)
	rules := []generic.Rule{
		{
			ID: "r1", GroupingID: "g1", ClientID: "c1", ProductID: "10", TaskID: 100, TaskTypeID: &typeID,
			ResponsibleID: "5", SegmentStart: generic.MustDate("2024-01-04"), SegmentEnd: generic.MustDate("2024-01-10"),
			DailyEffort: 7_200_000,
		},
		{
			ID: "r2", GroupingID: "g1", ClientID: "c1", ProductID: "10", TaskID: 101,
			ResponsibleID: "5", SegmentStart: generic.MustDate("2024-01-13"), SegmentEnd: generic.MustDate("2024-01-13"),
			DailyEffort: 1_800_000, IncludeWeekends: true, IncludeHolidays: true,
		},
	}

	// WHEN: Rendering the workbook
	data, err := export.RulesWorkbook("g1", rules, nil)
	require.NoError(t, err)

	// THEN: One header row, one row per rule and a totals row
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Estimativas")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, export.RulesHeader, rows[0])
	assert.Equal(t, []string{"10", "100", "7", "5", "2024-01-04", "2024-01-10", "5", "2", "10", "Não", "Não"}, rows[1])
	assert.Equal(t, "", rows[2][2])
	assert.Equal(t, "1", rows[2][6])
	assert.Equal(t, "0.5", rows[2][7])
	assert.Equal(t, "Total", rows[3][0])
	assert.Equal(t, "10.5", rows[3][8])
}

func TestRulesWorkbook_Empty(t *testing.T) {
	data, err := export.RulesWorkbook("g1", nil, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Estimativas")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Total", rows[1][0])
	assert.Equal(t, "0", rows[1][8])
}
