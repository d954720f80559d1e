package gdb

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of gauges/counters this server exports: plain
// collectors constructed once and registered against a Registerer,
// handed down explicitly rather than reached for as globals.
type Metrics struct {
	ContextsUsed     prometheus.Gauge
	ContextsSelected prometheus.Gauge
	PacketsTotal     *prometheus.CounterVec
	StopRepliesTotal *prometheus.CounterVec
	ChecksumErrors   prometheus.Counter
}

// NewMetrics builds and registers the collectors against reg. Passing a
// fresh prometheus.Registry (rather than the global default) keeps
// multiple in-process servers (as tests construct) from colliding on
// duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ContextsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gdb_contexts_used",
			Help: "Number of context pool slots currently attached to a process.",
		}),
		ContextsSelected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gdb_contexts_selected",
			Help: "Number of context pool slots currently reserved.",
		}),
		PacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdb_packets_total",
			Help: "RSP packets processed, by direction.",
		}, []string{"direction"}),
		StopRepliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdb_stop_replies_total",
			Help: "Stop replies synthesized, by kind.",
		}, []string{"kind"}),
		ChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gdb_checksum_errors_total",
			Help: "RSP frames rejected for a checksum mismatch.",
		}),
	}
	reg.MustRegister(m.ContextsUsed, m.ContextsSelected, m.PacketsTotal, m.StopRepliesTotal, m.ChecksumErrors)
	return m
}

func (m *Metrics) packetIn()  { m.PacketsTotal.WithLabelValues("in").Inc() }
func (m *Metrics) packetOut() { m.PacketsTotal.WithLabelValues("out").Inc() }

func (m *Metrics) stopReply(kind string) { m.StopRepliesTotal.WithLabelValues(kind).Inc() }

func (m *Metrics) checksumError() { m.ChecksumErrors.Inc() }

// recomputePoolGauges scans the pool under the all-contexts lock and
// sets the two pool gauges; called after any accept/close so the
// exported values never drift from the live pool state.
func (s *Server) recomputePoolGauges() {
	if s.metrics == nil {
		return
	}
	used, selected := 0, 0
	for _, c := range s.ctxs {
		if c.Flags&FlagUsed != 0 {
			used++
		}
		if c.Flags&FlagSelected != 0 {
			selected++
		}
	}
	s.metrics.ContextsUsed.Set(float64(used))
	s.metrics.ContextsSelected.Set(float64(selected))
}
