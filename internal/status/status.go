// Package status implements the read-only HTML snapshot endpoint:
// GET or HEAD only, one row per configured peer, reading
// SharedPeerState without locking since torn reads are acceptable here
// and no caller of this endpoint participates in scheduling.
package status

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/upcheck/upcheck/internal/config"
	"github.com/upcheck/upcheck/internal/metrics"
	"github.com/upcheck/upcheck/internal/sharedstate"
)

var pageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>Upstream status</title></head>
<body>
<h1>Upstream status</h1>
<table border="1" cellspacing="0" cellpadding="4">
<tr><th>Index</th><th>Name</th><th>Status</th><th>Business</th><th>Rise</th><th>Fall</th><th>Access count</th><th>Kind</th><th>p95 latency</th><th>Success rate</th></tr>
{{range .}}<tr{{if .Down}} bgcolor="#FF0000"{{end}}>
<td>{{.Index}}</td>
<td>{{.Name}}</td>
<td>{{if .Down}}down{{else}}up{{end}}</td>
<td>{{.Business}}</td>
<td>{{.Rise}}</td>
<td>{{.Fall}}</td>
<td>{{.AccessCount}}</td>
<td>{{.Kind}}</td>
<td>{{.P95Latency}}</td>
<td>{{.SuccessRate}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

type row struct {
	Index       int
	Name        string
	Down        bool
	Business    int64
	Rise        uint32
	Fall        uint32
	AccessCount uint64
	Kind        config.Kind
	P95Latency  float64
	SuccessRate float64
}

// Reporter serves the status snapshot for a fixed set of peers against
// one shared-state region.
type Reporter struct {
	region  *sharedstate.Region
	peers   []config.UpstreamConfig
	metrics *metrics.Metrics
	reader  *metrics.MetricsReader
}

func New(region *sharedstate.Region, peers []config.UpstreamConfig, m *metrics.Metrics) *Reporter {
	return &Reporter{region: region, peers: peers, metrics: m, reader: metrics.NewMetricsReader(m)}
}

func (s *Reporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
	default:
		s.reply(w, http.StatusMethodNotAllowed)
		return
	}

	if s.region == nil {
		s.reply(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	s.metrics.StatusRequestsTotal.WithLabelValues(fmt.Sprintf("%d", http.StatusOK)).Inc()

	if req.Method == http.MethodHead {
		return
	}

	rows := make([]row, 0, len(s.peers))
	for _, p := range s.peers {
		snap, err := s.region.Snapshot(p.Index)
		if err != nil {
			continue
		}
		var p95 float64
		if stats, err := s.reader.GetPeerLatencyStats(p.Name, string(p.Check.Kind)); err == nil {
			p95 = stats.P95
		}

		rows = append(rows, row{
			Index:       p.Index,
			Name:        p.Name,
			Down:        snap.Down,
			Business:    snap.Business,
			Rise:        snap.RiseCount,
			Fall:        snap.FallCount,
			AccessCount: snap.AccessCount,
			Kind:        p.Check.Kind,
			P95Latency:  p95,
			SuccessRate: s.reader.GetSuccessRate(p.Name, string(p.Check.Kind)),
		})
	}

	pageTemplate.Execute(w, rows)
}

func (s *Reporter) reply(w http.ResponseWriter, code int) {
	w.WriteHeader(code)
	s.metrics.StatusRequestsTotal.WithLabelValues(fmt.Sprintf("%d", code)).Inc()
}
