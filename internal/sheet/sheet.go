// Package sheet reads essay batches from spreadsheets and writes graded results back.
package sheet

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/grading"
)

const (
	ColumnID       = "ID"
	ColumnResponse = "Response"
	ColumnTotal    = "Total_Score"
	ScoreSuffix    = "_score"

	gradedSheet = "Graded"
)

// Essay is one row of an input sheet.
type Essay struct {
	ID       string
	Response string
}

// Responses returns the essay texts in row order.
func Responses(essays []Essay) []string {
	out := make([]string, len(essays))
	for i, e := range essays {
		out[i] = e.Response
	}
	return out
}

// ReadEssaysFile reads essays from the workbook at path.
func ReadEssaysFile(path string) ([]Essay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return ReadEssays(bytes.NewReader(data))
}

// ReadEssays reads the first sheet of a workbook. The header row must contain ID and
// Response columns (matched case-insensitively); rows with both cells blank are skipped.
func ReadEssays(r io.Reader) ([]Essay, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errs.InvalidInput("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errs.InvalidInput("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, errs.InvalidInput("sheet %q is empty", sheets[0])
	}

	idCol, respCol := -1, -1
	for i, name := range rows[0] {
		switch {
		case strings.EqualFold(strings.TrimSpace(name), ColumnID):
			idCol = i
		case strings.EqualFold(strings.TrimSpace(name), ColumnResponse):
			respCol = i
		}
	}
	if idCol < 0 || respCol < 0 {
		return nil, errs.InvalidInput("sheet must have %q and %q columns", ColumnID, ColumnResponse)
	}

	var essays []Essay
	for _, row := range rows[1:] {
		e := Essay{ID: cell(row, idCol), Response: cell(row, respCol)}
		if e.ID == "" && e.Response == "" {
			continue
		}
		essays = append(essays, e)
	}
	if len(essays) == 0 {
		return nil, errs.InvalidInput("sheet %q has no essays", sheets[0])
	}
	return essays, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Header returns the output columns: ID, Response, then feedback and score per criterion,
// then Total_Score.
func Header(criteria []string) []string {
	header := []string{ColumnID, ColumnResponse}
	for _, c := range criteria {
		header = append(header, c, c+ScoreSuffix)
	}
	return append(header, ColumnTotal)
}

// WriteGradedFile writes the graded workbook to path.
func WriteGradedFile(path string, essays []Essay, criteria []string, res *grading.BatchResult) error {
	f, err := buildGraded(essays, criteria, res)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// WriteGraded writes the graded workbook to w. Rows follow the input order; an essay with
// no outcome keeps its ID and Response and leaves the score columns empty.
func WriteGraded(w io.Writer, essays []Essay, criteria []string, res *grading.BatchResult) error {
	f, err := buildGraded(essays, criteria, res)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func buildGraded(essays []Essay, criteria []string, res *grading.BatchResult) (*excelize.File, error) {
	byIndex := make(map[int]grading.EssayOutcome)
	if res != nil {
		for _, out := range res.Outcomes {
			byIndex[out.Index] = out
		}
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), gradedSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := Header(criteria)
	if err := setRow(f, 1, toAny(header)); err != nil {
		f.Close()
		return nil, err
	}
	for i, e := range essays {
		row := []any{e.ID, e.Response}
		if out, ok := byIndex[i]; ok {
			for _, c := range criteria {
				r := out.Results[c]
				row = append(row, r.Feedback, r.Score)
			}
			row = append(row, out.Total)
		}
		if err := setRow(f, i+2, row); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cellName, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(gradedSheet, cellName, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
