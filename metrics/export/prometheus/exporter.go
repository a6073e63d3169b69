package prometheus

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// MetricsSource is satisfied by *authcore.Engine.
type MetricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source MetricsSource
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves the exposition. A disabled source yields an empty 200.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		_, _ = p.WriteTo(&buf)
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(buf.Bytes())
	})
}

// Render returns the current metrics. It returns "" when metrics are
// disabled and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	var b strings.Builder
	_, _ = p.WriteTo(&b)
	return b.String()
}

// WriteTo writes one snapshot to w.
func (p *PrometheusExporter) WriteTo(w io.Writer) (int64, error) {
	if p == nil || p.source == nil {
		return 0, nil
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return 0, nil
	}

	tw := &textWriter{w: w}
	for _, def := range internaldefs.CounterDefs {
		tw.counter(def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		tw.histogram(def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])))
	}
	tw.counter("authcore_audit_dropped_total", "Audit events dropped because the dispatcher buffer was full.", dropped)
	return tw.n, tw.err
}

// textWriter keeps the first write error and the byte count.
type textWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	n, err := fmt.Fprintf(t.w, format, args...)
	t.n += int64(n)
	t.err = err
}

func (t *textWriter) header(name, help, kind string) {
	t.printf("# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func (t *textWriter) counter(name, help string, value uint64) {
	t.header(name, help, "counter")
	t.printf("%s %d\n", name, value)
}

func (t *textWriter) histogram(name, help string, cumulative [authcore.MetricHistogramBuckets]uint64) {
	t.header(name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		t.printf("%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	t.printf("%s_count %d\n", name, cumulative[len(cumulative)-1])
	// Snapshots carry no sum.
	t.printf("%s_sum 0\n", name)
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	return strings.ReplaceAll(help, "\n", "\\n")
}
