package httpapi

import (
	"bytes"
	"fmt"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/models"

	"github.com/xuri/excelize/v2"
)

// EventsExportHeader 事件导出表头
var EventsExportHeader = []string{
	"Event Time",
	"Baseline HR",
	"Peak HR",
	"HR Increase",
	"Standing Duration (s)",
	"Sustained Duration (s)",
	"Recovery Time (s)",
	"Recovered",
	"Severity",
	"Summary",
}

// GenerateEventsExport 生成直立性事件导出 Excel 文件
// events: 事件列表，为空则只生成表头
func GenerateEventsExport(events []*models.OrthostaticEvent) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Orthostatic Events"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close() // Close on error
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")

	// 设置默认活动工作表
	f.SetActiveSheet(index)

	// 设置表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 写入表头
	for col, header := range EventsExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	// 设置列宽
	columnWidths := []float64{
		22, // Event Time
		12, // Baseline HR
		12, // Peak HR
		12, // HR Increase
		20, // Standing Duration (s)
		20, // Sustained Duration (s)
		18, // Recovery Time (s)
		12, // Recovered
		12, // Severity
		60, // Summary
	}
	for i := 0; i < len(EventsExportHeader); i++ {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(columnWidths) && columnWidths[i] > 0 {
			if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	// 写入数据
	for rowIdx, event := range events {
		row := rowIdx + 2 // 从第2行开始（第1行是表头）

		recovered := "No"
		if event.IsRecovered {
			recovered = "Yes"
		}
		recoveryTime := ""
		if event.RecoveryTimeSec != nil {
			recoveryTime = fmt.Sprintf("%d", *event.RecoveryTimeSec)
		}

		values := []interface{}{
			event.EventTime.Format("2006-01-02 15:04:05"),
			event.BaselineHR,
			event.PeakHR,
			event.Increase,
			event.StandingDurationSec,
			event.SustainedDurationSec,
			recoveryTime,
			recovered,
			string(event.Severity()),
			event.Summary(),
		}

		for col, value := range values {
			if value == nil || value == "" {
				continue
			}
			if err := setCellValue(f, sheetName, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	// Write to bytes buffer
	// Note: File must remain open during Write operation
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	// Close file after writing
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

// setCellValue 设置单元格值
func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
