package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"schemedesk/api/internal/logging"
	"schemedesk/api/internal/record"
	"schemedesk/api/internal/viewcache"
)

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Helvetica Neue", Arial, sans-serif; color: #1f2933; margin: 0; font-size: 11pt; }
h1 { font-size: 20pt; margin: 0 0 4pt; }
h2 { font-size: 14pt; margin: 18pt 0 6pt; border-bottom: 1px solid #cbd2d9; }
h3 { font-size: 12pt; margin: 12pt 0 4pt; }
.meta { color: #616e7c; font-size: 9pt; }
.stats { display: flex; gap: 12pt; margin: 12pt 0; }
.stat { border: 1px solid #cbd2d9; border-radius: 4pt; padding: 6pt 10pt; }
.stat b { display: block; font-size: 14pt; }
table { border-collapse: collapse; width: 100%; font-size: 9pt; }
th, td { border: 1px solid #e4e7eb; padding: 3pt 5pt; text-align: left; vertical-align: top; }
th { background: #f5f7fa; }
td.num { text-align: right; white-space: nowrap; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="meta">Generated {{.GeneratedAt}}{{with .GeneratedBy}} by {{.}}{{end}}</p>
<div class="stats">
<div class="stat"><b>{{.Stats.Total}}</b>Records</div>
<div class="stat"><b>{{money .Stats.PortfolioValue}}</b>Portfolio value</div>
<div class="stat"><b>{{money .Stats.AverageCost}}</b>Average cost</div>
<div class="stat"><b>{{.Stats.PendingApplications}}</b>Pending applications</div>
</div>
{{if .Statuses}}<table>
<tr><th>Status</th><th>Records</th></tr>
{{range .Statuses}}<tr><td>{{.Status}}</td><td class="num">{{.Count}}</td></tr>
{{end}}</table>{{end}}
{{if .Narrative}}<h2>Executive summary</h2>
{{range .Narrative}}{{if eq .Kind "heading"}}<h3>{{.Text}}</h3>
{{else if eq .Kind "list"}}<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>
{{else}}<p>{{.Text}}</p>
{{end}}{{end}}{{end}}
<h2>Schemes</h2>
{{if .Records}}<table>
<tr><th>Job No</th><th>Title</th><th>Contractor</th><th>Status</th><th>Priority</th><th>Total cost</th><th>Insight</th></tr>
{{range .Records}}<tr><td>{{.JobNo}}</td><td>{{.Title}}</td><td>{{.Contractor}}</td><td>{{.Status}}</td><td>{{.Priority}}</td><td class="num">{{money .TotalCost}}</td><td>{{.Insight}}</td></tr>
{{end}}</table>{{else}}<p>No schemes recorded.</p>{{end}}
</body>
</html>
`

var reportHTML = template.Must(template.New("report").Funcs(template.FuncMap{
	"money": func(v float64) string { return fmt.Sprintf("%.3f", v) },
}).Parse(reportTemplate))

type block struct {
	Kind  string
	Text  string
	Items []string
}

type statusCount struct {
	Status record.Status
	Count  int
}

type reportView struct {
	Title       string
	GeneratedAt string
	GeneratedBy string
	Stats       viewcache.Stats
	Statuses    []statusCount
	Narrative   []block
	Records     []record.Record
}

// narrativeBlocks splits model text into headings, bullet lists and
// paragraphs. Markdown emphasis markers are dropped.
func narrativeBlocks(text string) []block {
	var (
		blocks []block
		para   []string
		items  []string
	)
	flushPara := func() {
		if len(para) > 0 {
			blocks = append(blocks, block{Kind: "paragraph", Text: strings.Join(para, " ")})
			para = nil
		}
	}
	flushList := func() {
		if len(items) > 0 {
			blocks = append(blocks, block{Kind: "list", Items: items})
			items = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
		switch {
		case line == "":
			flushPara()
			flushList()
		case strings.HasPrefix(line, "#"):
			flushPara()
			flushList()
			blocks = append(blocks, block{Kind: "heading", Text: strings.TrimSpace(strings.TrimLeft(line, "#"))})
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			flushPara()
			items = append(items, strings.TrimSpace(line[2:]))
		default:
			flushList()
			para = append(para, line)
		}
	}
	flushPara()
	flushList()
	return blocks
}

// RenderHTML renders a standalone HTML page for the portfolio.
func RenderHTML(p Portfolio) (string, error) {
	generated := p.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	view := reportView{
		Title:       p.Title,
		GeneratedAt: generated.UTC().Format("02 Jan 2006 15:04 MST"),
		GeneratedBy: p.GeneratedBy,
		Stats:       p.Stats,
		Narrative:   narrativeBlocks(p.Narrative),
		Records:     p.Records,
	}
	if view.Title == "" {
		view.Title = "Portfolio report"
	}
	for status, count := range p.Stats.ByStatus {
		view.Statuses = append(view.Statuses, statusCount{Status: status, Count: count})
	}
	sort.Slice(view.Statuses, func(i, j int) bool {
		if view.Statuses[i].Count != view.Statuses[j].Count {
			return view.Statuses[i].Count > view.Statuses[j].Count
		}
		return view.Statuses[i].Status < view.Statuses[j].Status
	})

	var buf bytes.Buffer
	if err := reportHTML.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// Service converts portfolios into downloadable files.
type Service struct {
	logger *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logging.OrNop(logger)}
}

func (s *Service) Export(ctx context.Context, p Portfolio, format Format) (*Result, error) {
	html, err := RenderHTML(p)
	if err != nil {
		return nil, err
	}
	title := p.Title
	if title == "" {
		title = "portfolio-report"
	}

	started := time.Now()
	var result *Result
	switch format {
	case FormatHTML, "":
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		result, err = exportPDF(ctx, html, title)
	case FormatDOCX:
		result, err = exportDOCX(ctx, html, title)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		s.logger.Warn("report export failed", zap.String("format", string(format)), zap.Error(err))
		return nil, err
	}
	s.logger.Info("report exported",
		zap.String("format", string(format)),
		zap.Int("records", len(p.Records)),
		zap.Int("bytes", len(result.Data)),
		zap.Duration("took", time.Since(started)))
	return result, nil
}
