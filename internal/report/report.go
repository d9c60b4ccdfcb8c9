// Package report summarizes a finished (or in-progress) crawl session
// from its slim crawl results, the same way burr summarized a scrape
// session from its ScrapeResults.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/atra-crawler/atra/internal/crawlresult"
)

// Summary contains aggregated metrics about a crawl session.
type Summary struct {
	TotalFetched int
	TotalErrors  int
	StatusCodes  map[int]int
	ContentTypes map[string]int
	HintCounts   map[string]int
	TotalBytes   int64
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
}

// GenerateSummary processes a slice of slim crawl results to produce a
// session summary. errorCount is the count of fetches that ended in
// linkstate.InternalError, tracked separately since a SlimResult alone
// doesn't carry a network-failure flag.
func GenerateSummary(results []crawlresult.SlimResult, errorCount int) Summary {
	s := Summary{
		StatusCodes:  make(map[int]int),
		ContentTypes: make(map[string]int),
		HintCounts:   make(map[string]int),
		TotalErrors:  errorCount,
	}

	if len(results) == 0 {
		return s
	}

	s.StartTime = results[0].Timestamp
	s.EndTime = results[0].Timestamp

	for _, r := range results {
		s.TotalFetched++
		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}
		if r.ContentType != "" {
			s.ContentTypes[r.ContentType]++
		}
		s.HintCounts[r.Hint.Kind.String()]++
		s.TotalBytes += int64(len(r.Hint.InMemory))

		if r.Timestamp.Before(s.StartTime) {
			s.StartTime = r.Timestamp
		}
		if r.Timestamp.After(s.EndTime) {
			s.EndTime = r.Timestamp
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Atra Crawl Summary
------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Total Fetched: {{.TotalFetched}} urls
Total Bytes:   {{.TotalBytes}} bytes
Total Errors:  {{.TotalErrors}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Storage Hints:
{{- range $kind, $count := .HintCounts}}
  {{$kind}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: execute text template: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Atra Crawl Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Atra Crawl Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Total Fetched</div>
    <div class="stat-val">{{.TotalFetched}}</div>
  </div>
  <div class="stat-card">
    <div>Errors</div>
    <div class="stat-val">{{.TotalErrors}}</div>
  </div>
  <div class="stat-card">
    <div>Total Bytes</div>
    <div class="stat-val">{{.TotalBytes}}</div>
  </div>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Storage Hints</h3>
  <table>
    <tr><th>Kind</th><th>Count</th></tr>
    {{- range $kind, $count := .HintCounts}}
    <tr><td>{{$kind}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: execute html template: %w", err)
	}

	return nil
}
