// Package report renders a day's tokens for download.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"govqueue/internal/models"
)

const (
	summarySheet = "Summary"
	tokensSheet  = "Tokens"
	timeLayout   = "2006-01-02 15:04:05"
)

var TokenHeader = []string{
	"Token Number",
	"Token ID",
	"Citizen Name",
	"Citizen Phone",
	"Service Type",
	"Status",
	"Priority",
	"Counter",
	"Time Slot",
	"Created At",
	"Served At",
	"Completed At",
}

var tokenColumnWidths = []float64{14, 38, 24, 16, 22, 12, 10, 10, 20, 20, 20, 20}

type Daily struct {
	Date   time.Time
	Stats  models.QueueStats
	Tokens []models.Token
}

func (d Daily) Filename(ext string) string {
	return fmt.Sprintf("tokens-%s.%s", d.Date.Format("2006-01-02"), ext)
}

// WriteCSV writes one header row and one row per token.
func WriteCSV(w io.Writer, daily Daily) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(TokenHeader); err != nil {
		return err
	}
	for _, token := range daily.Tokens {
		if err := writer.Write(tokenRow(token)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// XLSX builds a workbook with a summary sheet and a tokens sheet.
func XLSX(daily Daily) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(tokensSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
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
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummary(f, daily, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeTokens(f, daily.Tokens, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

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

func writeSummary(f *excelize.File, daily Daily, headerStyle int) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Date", daily.Date.Format("2006-01-02")},
		{"Total Tokens", daily.Stats.TotalTokens},
		{"Waiting", daily.Stats.Waiting},
		{"Currently Serving", daily.Stats.CurrentlyServing},
		{"Completed", daily.Stats.CompletedToday},
		{"No Show", daily.Stats.NoShow},
		{"Cancelled", daily.Stats.Cancelled},
		{"Average Wait (min)", daily.Stats.AverageWaitTime},
		{"Average Service (min)", daily.Stats.AverageServiceTime},
	}
	for r, row := range rows {
		for c, value := range row {
			if err := setCellValue(f, summarySheet, c+1, r+1, value); err != nil {
				return fmt.Errorf("failed to set summary cell: %w", err)
			}
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "B", 24)
}

func writeTokens(f *excelize.File, tokens []models.Token, headerStyle int) error {
	for col, header := range TokenHeader {
		if err := setCellValue(f, tokensSheet, col+1, 1, header); err != nil {
			return fmt.Errorf("failed to set header cell: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(tokensSheet, name, name, tokenColumnWidths[col]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(TokenHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(tokensSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, token := range tokens {
		row := i + 2
		for col, value := range tokenRow(token) {
			var cell interface{} = value
			if col == 0 {
				cell = token.Number
			}
			if value == "" {
				continue
			}
			if err := setCellValue(f, tokensSheet, col+1, row, cell); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	return f.SetPanes(tokensSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func tokenRow(token models.Token) []string {
	counter := ""
	if token.CounterID != nil {
		counter = strconv.FormatInt(*token.CounterID, 10)
	}
	priority := "No"
	if token.Priority {
		priority = "Yes"
	}
	return []string{
		strconv.FormatInt(token.Number, 10),
		token.ID,
		token.CitizenName,
		token.CitizenPhone,
		token.ServiceType,
		token.Status,
		priority,
		counter,
		formatTime(&token.TimeSlot),
		formatTime(&token.CreatedAt),
		formatTime(token.ServedAt),
		formatTime(token.CompletedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
