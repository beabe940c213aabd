package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "beacon-guard/internal/alerts/domain"
)

const sheetName = "alerts"

// Summary counts events per kind.
func Summary(events []alerts.Event) map[alerts.Kind]int {
	counts := make(map[alerts.Kind]int)
	for _, e := range events {
		counts[e.Kind]++
	}
	return counts
}

// BuildAlertsPDF renders the alert log as a table, newest first as given.
func BuildAlertsPDF(events []alerts.Event, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Beacon Alert Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Events: %d", len(events)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "MAC", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Kind", "1", 0, "C", false, 0, "")
	pdf.CellFormat(155, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, e := range events {
		pdf.CellFormat(45, 6, e.CreatedAt.UTC().Format(time.RFC3339), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, strings.ToUpper(e.MAC), "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, string(e.Kind), "1", 0, "L", false, 0, "")
		pdf.CellFormat(155, 6, truncate(e.Message, 95), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders the alert log and a per-kind summary sheet.
func BuildAlertsXLSX(events []alerts.Event, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Beacon Alert Report")
	_ = f.SetCellValue(summarySheet, "A2", "Generated")
	_ = f.SetCellValue(summarySheet, "B2", generatedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A3", "Events")
	_ = f.SetCellValue(summarySheet, "B3", len(events))
	_ = f.SetCellValue(summarySheet, "A5", "Kind")
	_ = f.SetCellValue(summarySheet, "B5", "Count")
	counts := Summary(events)
	row := 6
	for _, kind := range kindOrder {
		if counts[kind] == 0 {
			continue
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(kind))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), counts[kind])
		row++
	}

	_ = f.SetCellValue(sheetName, "A1", "Time")
	_ = f.SetCellValue(sheetName, "B1", "Device ID")
	_ = f.SetCellValue(sheetName, "C1", "MAC")
	_ = f.SetCellValue(sheetName, "D1", "Kind")
	_ = f.SetCellValue(sheetName, "E1", "Message")
	for i, e := range events {
		r := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", r), e.CreatedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", r), e.DeviceID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", r), strings.ToUpper(e.MAC))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", r), string(e.Kind))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", r), e.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var kindOrder = []alerts.Kind{
	alerts.KindMovement,
	alerts.KindRecovery,
	alerts.KindOffline,
	alerts.KindOnline,
	alerts.KindNotLocked,
	alerts.KindLocked,
	alerts.KindTrainingProgress,
	alerts.KindTrainingInitiated,
	alerts.KindDevicesRefreshed,
	alerts.KindBridgeError,
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
