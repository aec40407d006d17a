// Package export renders a grouping's rules as an XLSX workbook for planners
// who review estimates in a spreadsheet.
package export

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estimate-engine/generic"
)

const sheetName = "Estimativas"

// RulesHeader is the column order of the rules sheet.
var RulesHeader = []string{
	"Produto",
	"Tarefa",
	"Tipo de Tarefa",
	"Responsável",
	"Início",
	"Fim",
	"Dias",
	"Horas/Dia",
	"Horas Totais",
	"Finais de Semana",
	"Feriados",
}

var columnWidths = []float64{12, 10, 14, 14, 12, 12, 8, 10, 12, 16, 10}

// RulesWorkbook writes one row per rule plus a totals row. Days are the
// eligible days of each segment under the rule's own policy.
func RulesWorkbook(groupingID generic.GroupingID, rules []generic.Rule, holidays generic.HolidayCalendar) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range RulesHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheetName, name, name, columnWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	total := decimal.Zero
	for i, r := range rules {
		cal := generic.NewCalendar(r.Policy(), holidays, string(r.ClientID))
		days := len(cal.Reexpand([]generic.Segment{{Start: r.SegmentStart, End: r.SegmentEnd}}))
		perDay := r.Effort().Hours().Value
		hours := perDay.Mul(decimal.NewFromInt(int64(days)))
		total = total.Add(hours)

		var taskType any
		if r.TaskTypeID != nil {
			taskType = *r.TaskTypeID
		}

		row := []any{
			r.ProductID,
			r.TaskID,
			taskType,
			r.ResponsibleID,
			r.SegmentStart.String(),
			r.SegmentEnd.String(),
			days,
			perDay.Round(2).InexactFloat64(),
			hours.Round(2).InexactFloat64(),
			yesNo(r.IncludeWeekends),
			yesNo(r.IncludeHolidays),
		}
		if err := setRow(f, i+2, row); err != nil {
			return nil, err
		}
	}

	totalRow := len(rules) + 2
	if err := setRow(f, totalRow, []any{"Total", nil, nil, nil, nil, nil, nil, nil, total.Round(2).InexactFloat64()}); err != nil {
		return nil, err
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Title: "Agrupador " + string(groupingID)}); err != nil {
		return nil, fmt.Errorf("failed to set properties: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Sim"
	}
	return "Não"
}
