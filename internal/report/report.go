// Package report renders the summary of a finished harvest job.
package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/FranksOps/harvest/internal/pipeline"
)

// Summary contains aggregated figures about one harvest job.
type Summary struct {
	JobID          string                 `json:"job_id"`
	Artifact       string                 `json:"artifact,omitempty"`
	Keywords       int                    `json:"keywords"`
	Pages          int                    `json:"pages"`
	RawFound       int                    `json:"raw_found"`
	Unique         int                    `json:"unique_domains"`
	RemovedOld     int                    `json:"removed_old"`
	Written        int                    `json:"written"`
	StopReasons    map[string]int         `json:"stop_reasons"`
	SkippedLinks   map[string]int         `json:"skipped_links"`
	Problems       []pipeline.KeywordStat `json:"problems,omitempty"`
	StartTime      time.Time              `json:"start_time"`
	EndTime        time.Time              `json:"end_time"`
	Duration       time.Duration          `json:"-"`
	DurationString string                 `json:"duration"`
}

// FromResult aggregates a pipeline result. Keywords that ended on a block,
// a timeout or an error are listed in Problems.
func FromResult(res *pipeline.Result) Summary {
	s := Summary{
		StopReasons:  make(map[string]int),
		SkippedLinks: make(map[string]int),
	}
	if res == nil {
		return s
	}

	s.JobID = res.JobID
	s.Artifact = res.Artifact
	s.Keywords = len(res.Keywords)
	s.RawFound = res.RawFound
	s.Unique = res.Unique
	s.RemovedOld = res.RemovedOld
	s.Written = len(res.Records)
	s.StartTime = res.Started
	s.EndTime = res.Finished
	s.Duration = res.Finished.Sub(res.Started).Round(time.Millisecond)
	s.DurationString = s.Duration.String()

	for _, k := range res.Keywords {
		s.Pages += k.Pages
		s.StopReasons[string(k.Stop)]++
		switch k.Stop {
		case pipeline.StopBlocked, pipeline.StopTimeout, pipeline.StopError:
			s.Problems = append(s.Problems, k)
		}
	}
	for reason, n := range res.Skipped {
		s.SkippedLinks[string(reason)] = n
	}
	return s
}

// Sorted returns the keys of m in ascending order.
func Sorted(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
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

const textTmpl = `Harvest Summary
---------------
Job:           {{.JobID}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Keywords:      {{.Keywords}}
Pages:         {{.Pages}}
Links found:   {{.RawFound}}
Unique:        {{.Unique}}
Already known: {{.RemovedOld}}
Written:       {{.Written}}{{if .Artifact}} ({{.Artifact}}){{end}}

Paging stopped by:
{{- range $r := sorted .StopReasons}}
  {{$r}}: {{index $.StopReasons $r}}
{{- else}}
  None
{{- end}}

Skipped links:
{{- range $r := sorted .SkippedLinks}}
  {{$r}}: {{index $.SkippedLinks $r}}
{{- else}}
  None
{{- end}}
{{- if .Problems}}

Problems:
{{- range .Problems}}
  {{.Keyword}} [{{.Stop}}]: {{.Err}}
{{- end}}
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Funcs(template.FuncMap{"sorted": Sorted}).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Harvest Report</title>
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
  <h1>Harvest Report</h1>
  <p><strong>Job:</strong> {{.JobID}}</p>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>
  {{- if .Artifact}}
  <p><strong>Artifact:</strong> {{.Artifact}}</p>
  {{- end}}

  <div class="stat-card">
    <div>Keywords</div>
    <div class="stat-val">{{.Keywords}}</div>
  </div>
  <div class="stat-card">
    <div>Links Found</div>
    <div class="stat-val">{{.RawFound}}</div>
  </div>
  <div class="stat-card">
    <div>Unique Domains</div>
    <div class="stat-val">{{.Unique}}</div>
  </div>
  <div class="stat-card">
    <div>Written</div>
    <div class="stat-val">{{.Written}}</div>
  </div>
  <div class="stat-card">
    <div>Problems</div>
    <div class="stat-val" style="color: {{if .Problems}}red{{else}}green{{end}};">{{len .Problems}}</div>
  </div>

  <h3>Paging Stopped By</h3>
  <table>
    <tr><th>Reason</th><th>Keywords</th></tr>
    {{- range $r := sorted .StopReasons}}
    <tr><td>{{$r}}</td><td>{{index $.StopReasons $r}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Skipped Links</h3>
  <table>
    <tr><th>Reason</th><th>Count</th></tr>
    {{- range $r := sorted .SkippedLinks}}
    <tr><td>{{$r}}</td><td>{{index $.SkippedLinks $r}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
  {{- if .Problems}}

  <h3>Problems</h3>
  <table>
    <tr><th>Keyword</th><th>Stop</th><th>Error</th></tr>
    {{- range .Problems}}
    <tr><td>{{.Keyword}}</td><td>{{.Stop}}</td><td>{{.Err}}</td></tr>
    {{- end}}
  </table>
  {{- end}}
</body>
</html>
`

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := htmltemplate.New("htmlReport").Funcs(htmltemplate.FuncMap{"sorted": Sorted}).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
