package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

//go:embed report.html.tmpl
var htmlTemplate string

// latencyBucket is one row of the distribution table
type latencyBucket struct {
	Label string
	Count int
}

type htmlData struct {
	Summary             Summary
	LatencyDistribution []latencyBucket
}

// WriteHTML renders the report through the embedded template
func (r *Report) WriteHTML(path string) error {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse report template: %w", err)
	}

	data := htmlData{
		Summary:             r.Summary,
		LatencyDistribution: r.latencyDistribution(),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return writeAtomic(path, buf.Bytes())
}

// latencyDistribution buckets per-request latencies for the HTML chart
func (r *Report) latencyDistribution() []latencyBucket {
	buckets := []latencyBucket{
		{Label: "0-50ms"},
		{Label: "50-100ms"},
		{Label: "100-200ms"},
		{Label: "200-500ms"},
		{Label: "500-1000ms"},
		{Label: "1000ms+"},
	}

	for _, o := range r.Results {
		ms := o.LatencyNs / 1e6
		switch {
		case ms < 50:
			buckets[0].Count++
		case ms < 100:
			buckets[1].Count++
		case ms < 200:
			buckets[2].Count++
		case ms < 500:
			buckets[3].Count++
		case ms < 1000:
			buckets[4].Count++
		default:
			buckets[5].Count++
		}
	}
	return buckets
}
