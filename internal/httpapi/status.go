package httpapi

import (
	"html/template"
	"net/http"
	"time"

	"github.com/arcrelay/arcrelay/internal/domain"
)

// statusPageData is what the §6 /status page template renders: uptime,
// per-Resource counters, and a dump of meter rows for rate-capped
// resources.
type statusPageData struct {
	Version   string
	Uptime    string
	Resources []resourceStatusRow
	MeterRows []meterStatusRow
}

type resourceStatusRow struct {
	URL             string
	TotalRequests   int64
	FirstRequest    string
	LastRequest     string
	HasRateCap      bool
	RateLimit       int
	RateLimitPeriod int
}

type meterStatusRow struct {
	ResourceURL string
	ReferrerKey string
	Total       int64
	Rejected    int64
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>arcrelay status</title></head>
<body>
<h1>arcrelay</h1>
<p>Version {{.Version}} — uptime {{.Uptime}}</p>

<h2>Resources</h2>
<table border="1" cellpadding="4">
<tr><th>URL</th><th>Total Requests</th><th>First Request</th><th>Last Request</th><th>Rate Cap</th></tr>
{{range .Resources}}
<tr>
<td>{{.URL}}</td>
<td>{{.TotalRequests}}</td>
<td>{{.FirstRequest}}</td>
<td>{{.LastRequest}}</td>
<td>{{if .HasRateCap}}{{.RateLimit}}/{{.RateLimitPeriod}}m{{else}}none{{end}}</td>
</tr>
{{end}}
</table>

<h2>Meter Rows</h2>
<table border="1" cellpadding="4">
<tr><th>Resource</th><th>Referrer</th><th>Total</th><th>Rejected</th></tr>
{{range .MeterRows}}
<tr>
<td>{{.ResourceURL}}</td>
<td>{{.ReferrerKey}}</td>
<td>{{.Total}}</td>
<td>{{.Rejected}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

// handleStatus implements §6's `GET <statusPath>` aggregated HTML status
// page.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resources := s.Store.Resources()

	data := statusPageData{
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}

	for _, res := range resources {
		c := res.Snapshot()
		data.Resources = append(data.Resources, resourceStatusRow{
			URL:             res.URL,
			TotalRequests:   c.TotalRequests,
			FirstRequest:    formatStatusTime(c.FirstRequest),
			LastRequest:     formatStatusTime(c.LastRequest),
			HasRateCap:      res.HasRateCap(),
			RateLimit:       res.RateLimit,
			RateLimitPeriod: res.RateLimitPeriod,
		})
	}

	if s.MeterCounters != nil {
		keys := referrerKeys(s.Store.Referrers())
		for _, res := range resources {
			if !res.HasRateCap() {
				continue
			}
			for _, key := range keys {
				total, rejected, ok, err := s.MeterCounters.Counters(r.Context(), res.URL, key)
				if err != nil || !ok {
					continue
				}
				data.MeterRows = append(data.MeterRows, meterStatusRow{
					ResourceURL: res.URL,
					ReferrerKey: key,
					Total:       total,
					Rejected:    rejected,
				})
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		LoggerFromContext(r.Context()).Error("status page render failed", "error", err)
	}
}

func formatStatusTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

// referrerKeys dedupes the configured ReferrerPatterns' Keys, skipping empty
// ones, mirroring meterstore.Refresher's own referrerKeys helper (the two
// aren't shared because one works over domain.ReferrerPattern for the
// Refresher's Cartesian sweep and this one feeds a status-page dump — same
// shape, different consumer).
func referrerKeys(patterns []domain.ReferrerPattern) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p.Key == "" || seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		keys = append(keys, p.Key)
	}
	return keys
}
