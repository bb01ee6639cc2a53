// Package prometheus renders engine counters in the Prometheus text
// exposition format without depending on the Prometheus client library.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/credlock/credlock"
	"github.com/credlock/credlock/metrics/export/internaldefs"
)

// MetricsSource is the slice of the engine the exporter reads.
type MetricsSource interface {
	MetricsSnapshot() credlock.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders counters on demand; it holds no state of its own.
type Exporter struct {
	source MetricsSource
}

func New(source MetricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current counters, suitable for a /metrics route.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render returns the text exposition of every counter. Disabled metrics
// render empty.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	writeCounter(&b, "credlock_audit_dropped_total", "Audit events dropped by dispatcher backpressure.", dropped)

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
