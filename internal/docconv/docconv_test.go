package docconv

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/agentflow/internal/agent"
)

func TestParseMarkdownTable(t *testing.T) {
	tbl, err := ParseMarkdownTable("| a | b |\n|---|---|\n| 1 | 2 |")
	if err != nil {
		t.Fatalf("ParseMarkdownTable: %v", err)
	}
	if !reflect.DeepEqual(tbl.Header, []string{"a", "b"}) {
		t.Errorf("Header = %q", tbl.Header)
	}
	if !reflect.DeepEqual(tbl.Rows, [][]string{{"1", "2"}}) {
		t.Errorf("Rows = %q", tbl.Rows)
	}
}

func TestParseMarkdownTable_LineBreaks(t *testing.T) {
	md := "intro\n\n| step | note |\n|:--|--:|\n| 1<br>2<br/>3<br />4 | x |\n\ntrailing | text"
	tbl, err := ParseMarkdownTable(md)
	if err != nil {
		t.Fatalf("ParseMarkdownTable: %v", err)
	}
	if len(tbl.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(tbl.Rows))
	}
	if tbl.Rows[0][0] != "1\n2\n3\n4" {
		t.Errorf("cell = %q, want line breaks", tbl.Rows[0][0])
	}
}

func TestParseMarkdownTable_None(t *testing.T) {
	if _, err := ParseMarkdownTable("# just a heading"); !errors.Is(err, ErrNoTable) {
		t.Errorf("error = %v, want ErrNoTable", err)
	}
}

func TestMarkdownTableToXLSX(t *testing.T) {
	data, err := MarkdownTableToXLSX("| a | b |\n|---|---|\n| 1 | 2 |")
	if err != nil {
		t.Fatalf("MarkdownTableToXLSX: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 {
		t.Errorf("sheets = %v, want exactly one", sheets)
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	want := [][]string{{"a", "b"}, {"1", "2"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %q, want %q", rows, want)
	}

	styleID, err := f.GetCellStyle(sheetName, "B1")
	if err != nil {
		t.Fatalf("GetCellStyle: %v", err)
	}
	style, err := f.GetStyle(styleID)
	if err != nil {
		t.Fatalf("GetStyle: %v", err)
	}
	if style.Font == nil || !style.Font.Bold {
		t.Error("header cell is not bold")
	}
}

func documentXML(t *testing.T, docx []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(docx), int64(len(docx)))
	if err != nil {
		t.Fatalf("opening docx: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("opening document.xml: %v", err)
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		return string(b)
	}
	t.Fatal("word/document.xml missing")
	return ""
}

func TestParseMarkdown_CodeBlock(t *testing.T) {
	blocks := parseMarkdown("Intro\n```go\nfunc main() {\n\tfmt.Println(\"*not italic*\")\n}\n```\nAfter")

	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	code := blocks[1].Para
	if code == nil || code.Style != styleCode {
		t.Fatalf("second block = %+v, want code paragraph", blocks[1])
	}
	if len(code.Runs) != 1 || !code.Runs[0].Code {
		t.Fatalf("code runs = %+v, want one monospace run", code.Runs)
	}
	want := "func main() {\n\tfmt.Println(\"*not italic*\")\n}"
	if code.Runs[0].Text != want {
		t.Errorf("code text = %q, want %q", code.Runs[0].Text, want)
	}
}

func TestParseMarkdown_CodeBlockTrailingBlankLine(t *testing.T) {
	blocks := parseMarkdown("```\nline1\n\n```\n")
	if len(blocks) != 1 || blocks[0].Para == nil {
		t.Fatalf("blocks = %+v, want one code paragraph", blocks)
	}
	if got := blocks[0].Para.Runs[0].Text; got != "line1" {
		t.Errorf("code text = %q, want %q", got, "line1")
	}
}

func TestMarkdownToDOCX_CodeBlockIsOneParagraph(t *testing.T) {
	data, err := MarkdownToDOCX("```\nline one\nline two\n```")
	if err != nil {
		t.Fatalf("MarkdownToDOCX: %v", err)
	}
	doc := documentXML(t, data)
	first, second := strings.Index(doc, "line one"), strings.Index(doc, "line two")
	if first < 0 || second < first {
		t.Fatalf("code text not preserved:\n%s", doc)
	}
	between := doc[first:second]
	if strings.Contains(between, "</w:p>") {
		t.Error("code lines split across paragraphs")
	}
	if !strings.Contains(between, "<w:br") {
		t.Error("code lines not separated by a line break")
	}
	if !strings.Contains(doc, monoFont) {
		t.Error("code paragraph is not monospace")
	}
}

func TestMarkdownToDOCX_HeadingsAndTable(t *testing.T) {
	data, err := MarkdownToDOCX("# Release\n\n| id | **step** |\n|---|---|\n| TC-1 | open app |")
	if err != nil {
		t.Fatalf("MarkdownToDOCX: %v", err)
	}
	doc := documentXML(t, data)
	for _, want := range []string{"Release", "<w:tbl", "TC-1", "open app"} {
		if !strings.Contains(doc, want) {
			t.Errorf("document.xml missing %q", want)
		}
	}
}

func TestParseMarkdown_Structure(t *testing.T) {
	md := strings.Join([]string{
		"# Title",
		"## Section",
		"### Sub",
		"- bullet one",
		"* bullet two",
		"2. numbered",
		"| h1 | h2 |",
		"|----|----|",
		"| c1 | c2 |",
		"Plain **bold** and *italic* with `code`.",
		"---",
	}, "\n")

	blocks := parseMarkdown(md)
	var styles []string
	for _, b := range blocks {
		if b.Table != nil {
			styles = append(styles, "table")
			continue
		}
		styles = append(styles, b.Para.Style)
	}
	want := []string{styleHeading1, styleHeading2, styleHeading3, styleBullet, styleBullet, styleNumber, "table", styleNormal, styleRule}
	if !reflect.DeepEqual(styles, want) {
		t.Fatalf("styles = %q, want %q", styles, want)
	}

	tbl := blocks[6].Table
	if !reflect.DeepEqual(tbl.Header, []string{"h1", "h2"}) || len(tbl.Rows) != 1 {
		t.Errorf("table = %+v", tbl)
	}
	if blocks[5].Para.Runs[0].Text != "2. " {
		t.Errorf("numbered prefix = %q", blocks[5].Para.Runs[0].Text)
	}
}

func TestParseMarkdown_TableFlushedAtEOF(t *testing.T) {
	blocks := parseMarkdown("| a | b |\n|---|---|\n| 1 | 2 |")
	if len(blocks) != 1 || blocks[0].Table == nil {
		t.Fatalf("blocks = %+v, want one table", blocks)
	}
}

func TestInlineRuns(t *testing.T) {
	tests := []struct {
		in   string
		want []run
	}{
		{"plain", []run{{Text: "plain"}}},
		{"a **b** c", []run{{Text: "a "}, {Text: "b", Bold: true}, {Text: " c"}}},
		{"*i* and `x*y`", []run{{Text: "i", Italic: true}, {Text: " and "}, {Text: "x*y", Code: true}}},
		{"**unclosed", []run{{Text: "**unclosed"}}},
		{"**a** **b**", []run{{Text: "a", Bold: true}, {Text: " "}, {Text: "b", Bold: true}}},
	}
	for _, tc := range tests {
		got := inlineRuns(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("inlineRuns(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestMarkdownToDOCX_EscapesText(t *testing.T) {
	data, err := MarkdownToDOCX("a < b & c")
	if err != nil {
		t.Fatalf("MarkdownToDOCX: %v", err)
	}
	if doc := documentXML(t, data); !strings.Contains(doc, "a &lt; b &amp; c") {
		t.Errorf("text not escaped:\n%s", doc)
	}
}

func fixedExporter() *Exporter {
	e := NewExporter(nil)
	e.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return e
}

func TestExport_TabularAgentGetsSpreadsheet(t *testing.T) {
	e := fixedExporter()
	out := e.Export(agent.Agent{ID: "test-cases", Tabular: true}, "# Cases\n\n| a | b |\n|---|---|\n| 1 | 2 |")
	if out.Format != FormatXLSX || out.Tier != TierTable {
		t.Errorf("format/tier = %s/%s, want xlsx/table", out.Format, out.Tier)
	}
	if out.FileName != "test-cases-20250301-100000.xlsx" {
		t.Errorf("FileName = %q", out.FileName)
	}
}

func TestExport_NonTabularGetsDocument(t *testing.T) {
	e := fixedExporter()
	out := e.Export(agent.Agent{ID: "user-stories"}, "| a | b |\n|---|---|\n| 1 | 2 |")
	if out.Format != FormatDOCX || out.Tier != TierRich {
		t.Errorf("format/tier = %s/%s, want docx/rich", out.Format, out.Tier)
	}

	out = e.Export(agent.Agent{ID: "test-cases", Tabular: true}, "no table here")
	if out.Format != FormatDOCX {
		t.Errorf("tabular agent without table: format = %s, want docx", out.Format)
	}
}

func TestExport_FallbackTiers(t *testing.T) {
	fail := func(string) ([]byte, error) { return nil, errors.New("boom") }
	explode := func(string) ([]byte, error) { panic("bad input") }

	e := fixedExporter()
	e.docx[0].fn = explode
	if out := e.Export(agent.Agent{ID: "bug-report"}, "x"); out.Tier != TierPlain {
		t.Errorf("tier = %s, want plain", out.Tier)
	}

	e.docx[1].fn = fail
	if out := e.Export(agent.Agent{ID: "bug-report"}, "x"); out.Tier != TierRaw {
		t.Errorf("tier = %s, want raw", out.Tier)
	}

	e.docx[2].fn = fail
	out := e.Export(agent.Agent{ID: "bug-report"}, "x")
	if out.Format != FormatTXT || out.Tier != TierText || string(out.Data) != "x" {
		t.Errorf("last resort = %+v", out)
	}

	e.table = fail
	out = e.Export(agent.Agent{ID: "test-cases", Tabular: true}, "| a |\n|---|\n| 1 |")
	if out.Format != FormatTXT {
		t.Errorf("failed spreadsheet should fall through the document tiers, got %s", out.Format)
	}
}
