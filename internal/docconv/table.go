package docconv

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoTable is returned when the input has no markdown table.
var ErrNoTable = errors.New("no markdown table found")

const sheetName = "Sheet1"

var brTag = regexp.MustCompile(`(?i)<br\s*/?>`)

// Table is a parsed markdown table.
type Table struct {
	Header []string
	Rows   [][]string
}

func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	return len(t) >= 2 && strings.HasPrefix(t, "|") && strings.HasSuffix(t, "|")
}

func isSeparatorRow(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" || strings.Trim(c, "-:") != "" || !strings.Contains(c, "-") {
			return false
		}
	}
	return true
}

// splitRow splits "| a | b |" into trimmed cells with <br> replaced by newlines.
func splitRow(line string) []string {
	t := strings.TrimSpace(line)
	t = strings.TrimPrefix(t, "|")
	t = strings.TrimSuffix(t, "|")
	parts := strings.Split(t, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = brTag.ReplaceAllString(strings.TrimSpace(p), "\n")
	}
	return cells
}

// ParseMarkdownTable returns the first block of consecutive table rows in md.
// The first row is the header and a separator row after it is skipped.
func ParseMarkdownTable(md string) (Table, error) {
	var block []string
	for _, line := range strings.Split(md, "\n") {
		if isTableRow(line) {
			block = append(block, line)
			continue
		}
		if len(block) > 0 {
			break
		}
	}
	if len(block) == 0 {
		return Table{}, ErrNoTable
	}
	return parseTableBlock(block), nil
}

func parseTableBlock(lines []string) Table {
	t := Table{Header: splitRow(lines[0])}
	rest := lines[1:]
	if len(rest) > 0 && isSeparatorRow(splitRow(rest[0])) {
		rest = rest[1:]
	}
	for _, l := range rest {
		t.Rows = append(t.Rows, splitRow(l))
	}
	return t
}

// HasTable reports whether md contains at least one table row.
func HasTable(md string) bool {
	for _, line := range strings.Split(md, "\n") {
		if isTableRow(line) {
			return true
		}
	}
	return false
}

// MarkdownTableToXLSX converts the first markdown table in md into a
// single-sheet workbook with a bold header row.
func MarkdownTableToXLSX(md string) ([]byte, error) {
	t, err := ParseMarkdownTable(md)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeRow(f, 1, t.Header); err != nil {
		return nil, err
	}
	for i, row := range t.Rows {
		if err := writeRow(f, i+2, row); err != nil {
			return nil, err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}
	if len(t.Header) > 0 {
		last, err := excelize.CoordinatesToCellName(len(t.Header), 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, "A1", last, bold); err != nil {
			return nil, fmt.Errorf("styling header: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, row int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}
