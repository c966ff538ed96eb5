package docgen

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const overviewSheet = "Overview"

var sheetNameReplacer = strings.NewReplacer(
	"[", "(", "]", ")", ":", "-", "*", "-", "?", "", "/", "-", "\\", "-",
)

type xlsxRenderer struct{}

func (xlsxRenderer) Format() Format { return FormatXLSX }

// Render writes an overview sheet followed by one sheet per section.
func (xlsxRenderer) Render(c *Content) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", overviewSheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	rows := [][]interface{}{
		{c.title()},
		{"Period", c.periodLabel()},
	}
	if !c.GeneratedAt.IsZero() {
		rows = append(rows, []interface{}{"Generated", c.GeneratedAt.Format(dateTimeLayout)})
	}
	if c.Summary != "" {
		rows = append(rows, []interface{}{"Summary", strings.TrimSpace(c.Summary)})
	}
	rows = append(rows, []interface{}{}, []interface{}{"Team", "Entries"})
	headerRow := len(rows)
	for _, s := range c.Sections {
		rows = append(rows, []interface{}{s.Heading, len(s.Entries)})
	}
	if err := writeRows(f, overviewSheet, rows); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(overviewSheet, "A1", "A1", bold); err != nil {
		return nil, err
	}
	headerStart, _ := excelize.CoordinatesToCellName(1, headerRow)
	headerEnd, _ := excelize.CoordinatesToCellName(2, headerRow)
	if err := f.SetCellStyle(overviewSheet, headerStart, headerEnd, bold); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(overviewSheet, "A", "A", 28)
	_ = f.SetColWidth(overviewSheet, "B", "B", 60)

	used := map[string]bool{overviewSheet: true, strings.ToLower(overviewSheet): true}
	for i, s := range c.Sections {
		name := sheetName(s.Heading, i, used)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to add sheet %q: %w", name, err)
		}
		sectionRows := [][]interface{}{{"Date", "Task", "Author", "Title", "Details"}}
		for _, e := range s.Entries {
			date := ""
			if !e.CreatedAt.IsZero() {
				date = e.CreatedAt.Format(dateTimeLayout)
			}
			sectionRows = append(sectionRows, []interface{}{date, e.Task, e.Author, e.Title, strings.TrimSpace(e.Body)})
		}
		if err := writeRows(f, name, sectionRows); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(name, "A1", "E1", bold); err != nil {
			return nil, err
		}
		_ = f.SetColWidth(name, "A", "C", 18)
		_ = f.SetColWidth(name, "D", "D", 36)
		_ = f.SetColWidth(name, "E", "E", 80)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	return nil
}

// sheetName derives a valid, unique sheet name (max 31 characters).
func sheetName(heading string, index int, used map[string]bool) string {
	name := strings.TrimSpace(sheetNameReplacer.Replace(heading))
	if name == "" {
		name = fmt.Sprintf("Team %d", index+1)
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	base := name
	for n := 2; used[strings.ToLower(name)] || used[name]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		r := []rune(base)
		if len(r)+len(suffix) > 31 {
			r = r[:31-len(suffix)]
		}
		name = string(r) + suffix
	}
	used[name] = true
	used[strings.ToLower(name)] = true
	return name
}
