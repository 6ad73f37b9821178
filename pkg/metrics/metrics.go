package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the assistant core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Turns         *prometheus.CounterVec // turns completed, by responding agent
	Handoffs      *prometheus.CounterVec // handoff records appended, by from/to/reason
	Generations   *prometheus.CounterVec // generate calls, by backend used
	Retrievals    *prometheus.CounterVec // retrieval outcomes: confident, weak, unavailable
	WebSearches   *prometheus.CounterVec // web search outcomes: ok, empty, unavailable
	TurnDuration  prometheus.Histogram
	ChunksIndexed prometheus.Counter
	EventsDropped prometheus.Counter // audit events dropped on a full buffer
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_turns_total",
			Help: "Conversation turns completed, by responding agent",
		}, []string{"agent"}),
		Handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_handoffs_total",
			Help: "Agent handoffs recorded",
		}, []string{"from", "to", "reason"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_generations_total",
			Help: "Generation requests, by backend that produced the text",
		}, []string{"backend"}),
		Retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_retrievals_total",
			Help: "Reference retrievals, by outcome",
		}, []string{"outcome"}),
		WebSearches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carebridge_web_searches_total",
			Help: "Web searches, by outcome",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carebridge_turn_duration_seconds",
			Help:    "Wall time spent processing one turn",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carebridge_chunks_indexed_total",
			Help: "Reference chunks written by index builds",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carebridge_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
	}

	reg.MustRegister(m.Turns)
	reg.MustRegister(m.Handoffs)
	reg.MustRegister(m.Generations)
	reg.MustRegister(m.Retrievals)
	reg.MustRegister(m.WebSearches)
	reg.MustRegister(m.TurnDuration)
	reg.MustRegister(m.ChunksIndexed)
	reg.MustRegister(m.EventsDropped)

	return m
}

func (m *Metrics) ObserveTurn(agent string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(agent).Inc()
	m.TurnDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveHandoff(from, to, reason string) {
	if m == nil {
		return
	}
	m.Handoffs.WithLabelValues(from, to, reason).Inc()
}

func (m *Metrics) ObserveGeneration(backend string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObserveRetrieval(outcome string) {
	if m == nil {
		return
	}
	m.Retrievals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveWebSearch(outcome string) {
	if m == nil {
		return
	}
	m.WebSearches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddChunksIndexed(n int) {
	if m == nil {
		return
	}
	m.ChunksIndexed.Add(float64(n))
}

func (m *Metrics) IncEventsDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}
