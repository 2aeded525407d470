package main

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// chartSpec plots one column (0-based) against the first column.
type chartSpec struct {
	Column int
	YTitle string
}

type sheet struct {
	Name    string
	Title   string
	Headers []string
	Rows    [][]any
	Charts  []chartSpec
	XTitle  string
}

// write saves s as the only sheet of a new workbook at path, with one line
// chart per chartSpec stacked to the right of the table.
func (s sheet) write(path string) error {
	if len(s.Rows) == 0 {
		return errors.New("no data to write")
	}
	f := excelize.NewFile()
	defer f.Close()

	if def := f.GetSheetName(0); def != s.Name {
		if _, err := f.NewSheet(s.Name); err != nil {
			return err
		}
		if err := f.DeleteSheet(def); err != nil {
			return err
		}
	}

	header := make([]any, len(s.Headers))
	for i, h := range s.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
		return err
	}
	for i, r := range s.Rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := r
		if err := f.SetSheetRow(s.Name, cell, &row); err != nil {
			return err
		}
	}

	end := len(s.Rows) + 1
	anchorCol, _ := excelize.ColumnNumberToName(len(s.Headers) + 2)
	for i, c := range s.Charts {
		col, err := excelize.ColumnNumberToName(c.Column + 1)
		if err != nil {
			return err
		}
		chart := &excelize.Chart{
			Type: excelize.Line,
			Series: []excelize.ChartSeries{{
				Name:       fmt.Sprintf("%s!$%s$1", s.Name, col),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", s.Name, end),
				Values:     fmt.Sprintf("%s!$%s$2:$%s$%d", s.Name, col, col, end),
			}},
			Title:  []excelize.RichTextRun{{Text: s.Title}},
			Legend: excelize.ChartLegend{Position: "none"},
			XAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: s.XTitle}}},
			YAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: c.YTitle}}, MajorGridLines: true},
		}
		if err := f.AddChart(s.Name, fmt.Sprintf("%s%d", anchorCol, 2+i*20), chart); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
