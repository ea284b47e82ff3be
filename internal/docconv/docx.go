package docconv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	monoFont   = "Courier New"
	tableStyle = "TableGrid"
)

// MarkdownToDOCX renders md as a styled Word document.
func MarkdownToDOCX(md string) ([]byte, error) {
	return renderDOCX(parseMarkdown(md))
}

// plainDOCX renders each line of md as an unstyled paragraph.
func plainDOCX(md string) ([]byte, error) {
	var blocks []block
	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		blocks = append(blocks, block{Para: &paragraph{Runs: []run{{Text: line}}}})
	}
	return renderDOCX(blocks)
}

// rawDOCX renders md as a single paragraph.
func rawDOCX(md string) ([]byte, error) {
	return renderDOCX([]block{{Para: &paragraph{Runs: []run{{Text: md}}}}})
}

func renderDOCX(blocks []block) ([]byte, error) {
	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}
	for _, b := range blocks {
		switch {
		case b.Table != nil:
			addTable(doc, *b.Table)
		case b.Para != nil:
			if err := addParagraph(doc, *b.Para); err != nil {
				return nil, err
			}
		}
	}
	return saveDOCX(doc)
}

func addParagraph(doc *docx.RootDoc, p paragraph) error {
	var level uint
	switch p.Style {
	case styleHeading1:
		level = 1
	case styleHeading2:
		level = 2
	case styleHeading3:
		level = 3
	case styleRule:
		doc.AddParagraph(strings.Repeat("─", 40))
		return nil
	}
	if level > 0 {
		var text strings.Builder
		for _, r := range p.Runs {
			text.WriteString(r.Text)
		}
		if _, err := doc.AddHeading(text.String(), level); err != nil {
			return fmt.Errorf("adding heading: %w", err)
		}
		return nil
	}

	para := doc.AddParagraph("")
	for _, r := range p.Runs {
		addRun(para, r)
	}
	return nil
}

// addRun appends r to p. Newlines in r become line breaks inside the
// paragraph, so a code block stays a single paragraph.
func addRun(p *docx.Paragraph, r run) {
	for i, line := range strings.Split(r.Text, "\n") {
		if i > 0 {
			p.AddText("").AddBreak(nil)
		}
		out := p.AddText(line)
		if r.Code {
			out.Font(monoFont)
		}
		if r.Bold {
			out.Bold(true)
		}
		if r.Italic {
			out.Italic(true)
		}
	}
}

func addTable(doc *docx.RootDoc, t Table) {
	cols := len(t.Header)
	for _, r := range t.Rows {
		if len(r) > cols {
			cols = len(r)
		}
	}

	tbl := doc.AddTable()
	tbl.Style(tableStyle)
	addCells := func(cells []string, header bool) {
		row := tbl.AddRow()
		for i := 0; i < cols; i++ {
			var text string
			if i < len(cells) {
				text = cells[i]
			}
			para := row.AddCell().AddParagraph("")
			if header {
				addRun(para, run{Text: text, Bold: true})
				continue
			}
			for _, r := range inlineRuns(text) {
				addRun(para, r)
			}
		}
	}
	addCells(t.Header, true)
	for _, r := range t.Rows {
		addCells(r, false)
	}
}

// saveDOCX serializes doc through a scratch file, the only output the
// library offers.
func saveDOCX(doc *docx.RootDoc) ([]byte, error) {
	dir, err := os.MkdirTemp("", "agentflow-docx-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "export.docx")
	if err := doc.SaveTo(path); err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	return os.ReadFile(path)
}
