package jira

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

func parseIssue(v gjson.Result, names gjson.Result) Issue {
	fields := v.Get("fields")
	if !names.Exists() {
		names = v.Get("names")
	}
	is := Issue{
		Key:         v.Get("key").String(),
		Summary:     fields.Get("summary").String(),
		Status:      fields.Get("status.name").String(),
		IssueType:   fields.Get("issuetype.name").String(),
		Description: richText(fields.Get("description")),
	}
	fields.ForEach(func(k, val gjson.Result) bool {
		id := k.String()
		if !strings.HasPrefix(id, "customfield_") || !val.Exists() || val.Type == gjson.Null {
			return true
		}
		name := names.Get(id).String()
		if !strings.Contains(strings.ToLower(name), "acceptance") {
			return true
		}
		if text := strings.TrimSpace(richText(val)); text != "" {
			is.Acceptance = append(is.Acceptance, text)
		}
		return true
	})
	return is
}

// richText renders a field that is either a plain string or an Atlassian
// Document Format node as markdown-flavoured text.
func richText(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.Str
	case v.IsObject():
		var b strings.Builder
		writeADF(&b, v, 0)
		return strings.TrimSpace(b.String())
	default:
		return ""
	}
}

func writeADF(b *strings.Builder, node gjson.Result, depth int) {
	content := node.Get("content")
	children := func() {
		content.ForEach(func(_, child gjson.Result) bool {
			writeADF(b, child, depth)
			return true
		})
	}

	switch node.Get("type").String() {
	case "text":
		b.WriteString(node.Get("text").String())
	case "hardBreak":
		b.WriteString("\n")
	case "mention":
		b.WriteString(node.Get("attrs.text").String())
	case "emoji":
		b.WriteString(node.Get("attrs.shortName").String())
	case "inlineCard":
		b.WriteString(node.Get("attrs.url").String())
	case "paragraph":
		children()
		b.WriteString("\n\n")
	case "heading":
		level := int(node.Get("attrs.level").Int())
		if level < 1 {
			level = 1
		}
		b.WriteString(strings.Repeat("#", level) + " ")
		children()
		b.WriteString("\n\n")
	case "bulletList", "orderedList":
		ordered := node.Get("type").String() == "orderedList"
		n := 0
		content.ForEach(func(_, item gjson.Result) bool {
			n++
			b.WriteString(strings.Repeat("  ", depth))
			if ordered {
				fmt.Fprintf(b, "%d. ", n)
			} else {
				b.WriteString("- ")
			}
			var ib strings.Builder
			writeADF(&ib, item, depth+1)
			b.WriteString(strings.TrimSpace(ib.String()))
			b.WriteString("\n")
			return true
		})
		b.WriteString("\n")
	case "codeBlock":
		b.WriteString("```\n")
		children()
		b.WriteString("\n```\n\n")
	case "table":
		first := true
		content.ForEach(func(_, row gjson.Result) bool {
			var cells []string
			row.Get("content").ForEach(func(_, cell gjson.Result) bool {
				var cb strings.Builder
				writeADF(&cb, cell, depth)
				cells = append(cells, strings.ReplaceAll(strings.TrimSpace(cb.String()), "\n", "<br>"))
				return true
			})
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
			if first {
				b.WriteString("|" + strings.Repeat("---|", len(cells)) + "\n")
				first = false
			}
			return true
		})
		b.WriteString("\n")
	default:
		children()
	}
}

// IssueDocument flattens an issue into the text stored as a document.
func IssueDocument(is Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", is.Key, is.Summary)
	var meta []string
	if is.IssueType != "" {
		meta = append(meta, "Type: "+is.IssueType)
	}
	if is.Status != "" {
		meta = append(meta, "Status: "+is.Status)
	}
	if len(meta) > 0 {
		b.WriteString(strings.Join(meta, " | ") + "\n\n")
	}
	if is.Description != "" {
		b.WriteString("## Description\n\n" + is.Description + "\n\n")
	}
	if len(is.Acceptance) > 0 {
		b.WriteString("## Acceptance Criteria\n\n" + strings.Join(is.Acceptance, "\n\n") + "\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
