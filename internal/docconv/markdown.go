package docconv

import (
	"regexp"
	"strings"
)

type parseState int

const (
	stateNormal parseState = iota
	stateCodeBlock
	stateTable
)

// Paragraph kinds produced by parseMarkdown.
const (
	styleNormal   = ""
	styleHeading1 = "Heading1"
	styleHeading2 = "Heading2"
	styleHeading3 = "Heading3"
	styleBullet   = "ListBullet"
	styleNumber   = "ListNumber"
	styleCode     = "Code"
	styleRule     = "Rule"
)

type run struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

type paragraph struct {
	Style string
	Runs  []run
}

// block is either a paragraph or a table.
type block struct {
	Para  *paragraph
	Table *Table
}

var (
	bulletLine   = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
	numberedLine = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)
	ruleLine     = regexp.MustCompile(`^\s*(?:(?:-\s*){3,}|(?:\*\s*){3,}|(?:_\s*){3,})$`)
)

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// parseMarkdown is a single forward scan over md producing document blocks.
func parseMarkdown(md string) []block {
	var (
		blocks    []block
		state     = stateNormal
		codeLines []string
		rows      []string
	)
	para := func(style string, runs []run) {
		blocks = append(blocks, block{Para: &paragraph{Style: style, Runs: runs}})
	}
	flushTable := func() {
		t := parseTableBlock(rows)
		blocks = append(blocks, block{Table: &t})
		rows = nil
	}
	flushCode := func() {
		para(styleCode, []run{{Text: strings.TrimRight(strings.Join(codeLines, "\n"), "\n"), Code: true}})
		codeLines = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		switch state {
		case stateCodeBlock:
			if isFence(line) {
				flushCode()
				state = stateNormal
			} else {
				codeLines = append(codeLines, line)
			}
			continue
		case stateTable:
			if isTableRow(line) {
				rows = append(rows, line)
				continue
			}
			flushTable()
			state = stateNormal
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case isFence(line):
			state = stateCodeBlock
		case isTableRow(line):
			rows = append(rows, line)
			state = stateTable
		case trimmed == "":
		case strings.HasPrefix(trimmed, "### "):
			para(styleHeading3, inlineRuns(strings.TrimSpace(trimmed[4:])))
		case strings.HasPrefix(trimmed, "## "):
			para(styleHeading2, inlineRuns(strings.TrimSpace(trimmed[3:])))
		case strings.HasPrefix(trimmed, "# "):
			para(styleHeading1, inlineRuns(strings.TrimSpace(trimmed[2:])))
		case ruleLine.MatchString(line):
			para(styleRule, nil)
		case bulletLine.MatchString(line):
			m := bulletLine.FindStringSubmatch(line)
			para(styleBullet, append([]run{{Text: "• "}}, inlineRuns(m[1])...))
		case numberedLine.MatchString(line):
			m := numberedLine.FindStringSubmatch(line)
			para(styleNumber, append([]run{{Text: m[1] + ". "}}, inlineRuns(m[2])...))
		default:
			para(styleNormal, inlineRuns(trimmed))
		}
	}

	switch state {
	case stateCodeBlock:
		flushCode()
	case stateTable:
		flushTable()
	}
	return blocks
}

// inlineRuns splits s into styled runs for `code`, **bold** and *italic*.
// Spans do not nest; the leftmost opening marker wins and is closed by the
// next matching marker. An unclosed marker is literal text.
func inlineRuns(s string) []run {
	var runs []run
	var plain strings.Builder
	emit := func(r run) {
		if plain.Len() > 0 {
			runs = append(runs, run{Text: plain.String()})
			plain.Reset()
		}
		if r.Text != "" {
			runs = append(runs, r)
		}
	}

	for i := 0; i < len(s); {
		var marker string
		switch {
		case s[i] == '`':
			marker = "`"
		case strings.HasPrefix(s[i:], "**"):
			marker = "**"
		case s[i] == '*':
			marker = "*"
		}
		if marker != "" {
			start := i + len(marker)
			if end := strings.Index(s[start:], marker); end > 0 {
				text := s[start : start+end]
				switch marker {
				case "`":
					emit(run{Text: text, Code: true})
				case "**":
					emit(run{Text: text, Bold: true})
				default:
					emit(run{Text: text, Italic: true})
				}
				i = start + end + len(marker)
				continue
			}
		}
		plain.WriteByte(s[i])
		i++
	}
	emit(run{})
	return runs
}
