package docconv

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/agentflow/internal/agent"
	"github.com/kalambet/agentflow/internal/metrics"
)

// Formats.
const (
	FormatXLSX = "xlsx"
	FormatDOCX = "docx"
	FormatTXT  = "txt"
)

// Tiers name the converter that produced an export, from richest to plainest.
const (
	TierTable = "table"
	TierRich  = "rich"
	TierPlain = "plain"
	TierRaw   = "raw"
	TierText  = "text"
)

var contentTypes = map[string]string{
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatTXT:  "text/plain; charset=utf-8",
}

// Export is a converted file ready for download.
type Export struct {
	FileName    string
	Format      string
	Tier        string
	ContentType string
	Data        []byte
}

type converter struct {
	tier   string
	format string
	fn     func(string) ([]byte, error)
}

// Exporter converts agent output to a downloadable document, falling back
// through progressively simpler converters.
type Exporter struct {
	table   func(string) ([]byte, error)
	docx    []converter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewExporter creates an Exporter. m may be nil.
func NewExporter(m *metrics.Metrics) *Exporter {
	return &Exporter{
		table: MarkdownTableToXLSX,
		docx: []converter{
			{TierRich, FormatDOCX, MarkdownToDOCX},
			{TierPlain, FormatDOCX, plainDOCX},
			{TierRaw, FormatDOCX, rawDOCX},
		},
		metrics: m,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// Export converts content produced by a. Tabular agents whose output
// contains a table get a spreadsheet; everything else a document. A plain
// text file is returned when every converter fails, so Export never errors.
func (e *Exporter) Export(a agent.Agent, content string) Export {
	base := fileBase(a.ID, e.now())

	if a.Tabular && HasTable(content) {
		data, err := safeConvert(e.table, content)
		if err == nil {
			return e.done(base, FormatXLSX, TierTable, data)
		}
		e.logger.Warn("spreadsheet export failed, trying document", "agent", a.ID, "error", err)
	}

	for _, c := range e.docx {
		data, err := safeConvert(c.fn, content)
		if err == nil {
			return e.done(base, c.format, c.tier, data)
		}
		e.logger.Warn("document export failed, falling back", "agent", a.ID, "tier", c.tier, "error", err)
	}
	return e.done(base, FormatTXT, TierText, []byte(content))
}

func (e *Exporter) done(base, format, tier string, data []byte) Export {
	if e.metrics != nil {
		e.metrics.DocumentExports.WithLabelValues(format, tier).Inc()
	}
	return Export{
		FileName:    base + "." + format,
		Format:      format,
		Tier:        tier,
		ContentType: contentTypes[format],
		Data:        data,
	}
}

// safeConvert turns a converter panic into an error.
func safeConvert(fn func(string) ([]byte, error), content string) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("converter panic: %v", r)
		}
	}()
	return fn(content)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func fileBase(agentID string, t time.Time) string {
	name := strings.Trim(unsafeName.ReplaceAllString(agentID, "-"), "-")
	if name == "" {
		name = "output"
	}
	return name + "-" + t.UTC().Format("20060102-150405")
}
