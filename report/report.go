// Package report writes a run report workbook for reviewing a migration:
// what was loaded, the schema it was loaded into, and every warning.
package report

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/schema"
)

// Sheet names.
const (
	SummarySheet  = "Summary"
	SchemaSheet   = "Schema"
	WarningsSheet = "Warnings"
)

// Write saves the report for run to path as an xlsx workbook.
func Write(path string, run *catalog.Run, s *schema.Schema) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	// The default sheet becomes the summary.
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeRows(f, SummarySheet, bold, []any{"Item", "Value"}, summaryRows(run)); err != nil {
		return err
	}
	if _, err := f.NewSheet(SchemaSheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", SchemaSheet, err)
	}
	if err := writeRows(f, SchemaSheet, bold, []any{"Table", "Column", "Type", "Nullable", "Source field"}, schemaRows(s)); err != nil {
		return err
	}
	if _, err := f.NewSheet(WarningsSheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", WarningsSheet, err)
	}
	if err := writeRows(f, WarningsSheet, bold, []any{"Position", "Item id", "Field", "Kind", "Message"}, warningRows(run.Summary)); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, headerStyle int, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return fmt.Errorf("failed to size %s columns: %w", sheet, err)
	}
	return nil
}

func summaryRows(run *catalog.Run) [][]any {
	sum := run.Summary
	embedded, external := sum.Assets()
	rows := [][]any{
		{"Run", run.ID.String()},
		{"Started", run.Started.Format("2006-01-02 15:04:05")},
		{"Source", run.Source},
		{"Records", sum.Records()},
	}
	junctions := sum.JunctionRows()
	tables := make([]string, 0, len(junctions))
	for t := range junctions {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		rows = append(rows, []any{"Rows in " + t, junctions[t]})
	}
	rows = append(rows,
		[]any{"Assets embedded", embedded},
		[]any{"Assets external", external},
		[]any{"Coercion warnings", sum.Count(catalog.CoercionWarning)},
		[]any{"Asset warnings", sum.Count(catalog.AssetWarning)},
	)
	return rows
}

func schemaRows(s *schema.Schema) [][]any {
	if s == nil {
		return nil
	}
	rows := [][]any{{s.Table, s.Identity, "integer identity", false, ""}}
	for _, c := range s.Columns {
		rows = append(rows, []any{s.Table, c.Name, c.Type.String(), c.Nullable, c.Source})
	}
	switch s.AssetMode {
	case schema.AssetEmbed:
		rows = append(rows, []any{s.Table, s.AssetColumn, "blob", true, ""})
	case schema.AssetExternal:
		rows = append(rows, []any{s.Table, s.AssetColumn, "text", true, ""})
	}
	if s.HashColumn != "" {
		rows = append(rows, []any{s.Table, s.HashColumn, "text", false, ""})
	}
	if s.ProvenanceColumn != "" {
		rows = append(rows, []any{s.Table, s.ProvenanceColumn, "text", true, ""})
	}
	for _, j := range s.Junctions {
		rows = append(rows,
			[]any{j.Table, schema.JunctionFK, "integer", false, ""},
			[]any{j.Table, schema.JunctionSeq, "integer", false, ""},
			[]any{j.Table, schema.JunctionValue, "text", false, j.Source},
		)
	}
	return rows
}

func warningRows(sum *catalog.Summary) [][]any {
	warnings := sum.Warnings()
	rows := make([][]any, len(warnings))
	for i, w := range warnings {
		rows[i] = []any{w.Position, w.ItemID, w.Field, string(w.Kind), w.Msg}
	}
	return rows
}
