// Package report renders a harvest run (the PageRecords from a scrape or
// crawl, plus however many attestations were created from them) into a
// Summary, and that Summary into JSON, text, or HTML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/fenwicklabs/harvest/internal/htmlextract"
)

// Summary contains aggregated metrics about one run's PageRecords.
type Summary struct {
	TotalPages          int
	TotalErrors         int
	StatusCodes         map[int]int
	TotalLinks          int
	AttestationsCreated int
	StartTime           time.Time
	EndTime             time.Time
	Duration            time.Duration
}

// GenerateSummary aggregates records into a Summary. start and end bound the
// run's wall-clock window; callers (engine/router) own timing since neither
// PageRecord nor the projector carries a timestamp.
func GenerateSummary(records []*htmlextract.PageRecord, attestationsCreated int, start, end time.Time) Summary {
	s := Summary{
		StatusCodes:         make(map[int]int),
		AttestationsCreated: attestationsCreated,
		StartTime:           start,
		EndTime:             end,
		Duration:            end.Sub(start),
	}

	for _, r := range records {
		s.TotalPages++
		if r.Error != "" {
			s.TotalErrors++
		}
		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}
		s.TotalLinks += len(r.Links)
	}

	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Harvest Run Summary
-------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Total Pages:   {{.TotalPages}}
Total Links:   {{.TotalLinks}}
Total Errors:  {{.TotalErrors}}
Attestations:  {{.AttestationsCreated}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Harvest Run Report</title>
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
  <h1>Harvest Run Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Total Pages</div>
    <div class="stat-val">{{.TotalPages}}</div>
  </div>
  <div class="stat-card">
    <div>Errors</div>
    <div class="stat-val">{{.TotalErrors}}</div>
  </div>
  <div class="stat-card">
    <div>Links</div>
    <div class="stat-val">{{.TotalLinks}}</div>
  </div>
  <div class="stat-card">
    <div>Attestations</div>
    <div class="stat-val">{{.AttestationsCreated}}</div>
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
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}
