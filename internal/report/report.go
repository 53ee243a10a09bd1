// Package report renders extraction run records as an XLSX workbook with
// one sheet each for runs, extracted images and decode failures.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/soochol/deinline/internal/deinline"
)

const (
	SheetRuns     = "Runs"
	SheetImages   = "Images"
	SheetFailures = "Failures"
)

// ContentType is the media type of the rendered workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	runsHeader     = []any{"Run", "Job", "Input", "Output", "Policy", "Status", "Matches", "Images", "Failures", "Kept", "Asset refs", "Inline left", "Missing files", "Error", "Created", "Completed"}
	imagesHeader   = []any{"Run", "Job", "Index", "File", "Subtype", "Size", "Reference"}
	failuresHeader = []any{"Run", "Job", "Index", "Error"}
)

// Write renders records to w.
func Write(w io.Writer, records []*deinline.RunRecord) error {
	f, err := build(records)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// WriteFile renders records to a workbook at path.
func WriteFile(path string, records []*deinline.RunRecord) error {
	f, err := build(records)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}

func build(records []*deinline.RunRecord) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetRuns); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetImages, SheetFailures} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("add sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}

	w := &sheetWriter{f: f}
	w.header(SheetRuns, runsHeader, bold)
	w.header(SheetImages, imagesHeader, bold)
	w.header(SheetFailures, failuresHeader, bold)

	for _, rec := range records {
		if rec == nil {
			continue
		}
		label := rec.Job.Label()
		w.row(SheetRuns, runRow(rec))
		for _, img := range rec.Images {
			w.row(SheetImages, []any{rec.ID, label, img.Index, img.Filename, img.Subtype, img.Size, img.Ref})
		}
		for _, fail := range rec.Failures {
			w.row(SheetFailures, []any{rec.ID, label, fail.Index, fail.Error})
		}
	}
	if w.err != nil {
		f.Close()
		return nil, w.err
	}
	return f, nil
}

func runRow(rec *deinline.RunRecord) []any {
	var refs, inline int
	var missing string
	if a := rec.Audit; a != nil {
		refs, inline = a.AssetRefs, a.InlineLeft
		missing = strings.Join(a.MissingFiles, ", ")
	}
	var errMsg, completed string
	if rec.Error != nil {
		errMsg = *rec.Error
	}
	if rec.CompletedAt != nil {
		completed = rec.CompletedAt.Format(time.RFC3339)
	}
	return []any{
		rec.ID, rec.Job.Label(), rec.Job.Input, rec.Job.Output,
		string(rec.Policy), string(rec.Status),
		rec.Matches, len(rec.Images), len(rec.Failures), len(rec.Kept),
		refs, inline, missing, errMsg,
		rec.CreatedAt.Format(time.RFC3339), completed,
	}
}

// sheetWriter appends rows per sheet and keeps the first error.
type sheetWriter struct {
	f    *excelize.File
	next map[string]int
	err  error
}

func (w *sheetWriter) header(sheet string, cells []any, style int) {
	w.row(sheet, cells)
	if w.err == nil {
		w.err = w.f.SetRowStyle(sheet, 1, 1, style)
	}
}

func (w *sheetWriter) row(sheet string, cells []any) {
	if w.err != nil {
		return
	}
	if w.next == nil {
		w.next = make(map[string]int)
	}
	w.next[sheet]++
	cell, err := excelize.CoordinatesToCellName(1, w.next[sheet])
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &cells); err != nil {
		w.err = fmt.Errorf("write %s row %d: %w", sheet, w.next[sheet], err)
	}
}
