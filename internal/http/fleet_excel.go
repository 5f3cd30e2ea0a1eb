package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-iotcore/internal/service"

	"github.com/xuri/excelize/v2"
)

const (
	devicesSheet    = "Devices"
	componentsSheet = "Components"
)

var fleetDeviceHeader = []string{
	"Device UID",
	"Name",
	"Description",
	"Status",
	"Online",
	"Last Seen",
	"Claimed At",
	"Created At",
}

var fleetComponentHeader = []string{
	"Device UID",
	"Component Key",
	"Name",
	"Kind",
	"Online",
	"Hidden",
	"Hidden Reason",
	"Last Seen",
	"Capabilities",
}

var (
	fleetDeviceWidths    = []float64{24, 24, 32, 12, 10, 20, 20, 20}
	fleetComponentWidths = []float64{24, 24, 24, 12, 10, 10, 15, 20, 40}
)

// GenerateFleetExport builds a workbook with a Devices and a Components sheet
func GenerateFleetExport(fleet *service.Fleet) ([]byte, error) {
	f := excelize.NewFile()

	deviceRows := make([][]any, 0, len(fleet.Devices))
	for _, d := range fleet.Devices {
		deviceRows = append(deviceRows, []any{
			d.DeviceUID,
			derefString(d.Name),
			derefString(d.Description),
			d.Status,
			yesNo(d.IsOnline),
			formatTime(d.LastSeenAt),
			formatTime(d.ClaimedAt),
			formatTime(&d.CreatedAt),
		})
	}
	componentRows := make([][]any, 0, len(fleet.Components))
	for _, c := range fleet.Components {
		componentRows = append(componentRows, []any{
			c.DeviceUID,
			c.ComponentKey,
			c.Label(),
			c.Kind,
			yesNo(c.IsOnline),
			yesNo(c.Meta.Hidden()),
			c.Meta.HiddenReason(),
			formatTime(c.LastSeenAt),
			compactJSON(c.Capabilities),
		})
	}

	index, err := writeFleetSheet(f, devicesSheet, fleetDeviceHeader, fleetDeviceWidths, deviceRows)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := writeFleetSheet(f, componentsSheet, fleetComponentHeader, fleetComponentWidths, componentRows); err != nil {
		f.Close()
		return nil, err
	}

	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFleetSheet(f *excelize.File, sheet string, headers []string, widths []float64, rows [][]any) (int, error) {
	index, err := f.NewSheet(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
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
		return 0, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return 0, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return 0, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return 0, fmt.Errorf("failed to set header style: %w", err)
		}
		if col < len(widths) {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return 0, fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return 0, fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	for rowIdx, values := range rows {
		for colIdx, value := range values {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return 0, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return 0, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return 0, fmt.Errorf("failed to freeze panes: %w", err)
	}
	return index, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
