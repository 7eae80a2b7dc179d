package memory

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the manager's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Retrievals *prometheus.CounterVec
	Promotions *prometheus.CounterVec
	TierErrors *prometheus.CounterVec
	Extracted  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memhub",
			Name:      "retrievals_total",
			Help:      "Retrieval calls by outcome.",
		}, []string{"outcome"}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memhub",
			Name:      "promotions_total",
			Help:      "Short-term to long-term promotions by result.",
		}, []string{"result"}),
		TierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memhub",
			Name:      "tier_errors_total",
			Help:      "Failed store operations by tier and operation.",
		}, []string{"tier", "op"}),
		Extracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memhub",
			Name:      "extracted_candidates_total",
			Help:      "Candidate memories produced by the fact extractor.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Retrievals, m.Promotions, m.TierErrors, m.Extracted)
	}
	return m
}

func (m *Metrics) retrieval(outcome string) {
	if m != nil {
		m.Retrievals.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) promotion(result string) {
	if m != nil {
		m.Promotions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) tierError(tier Tier, op string) {
	if m != nil {
		m.TierErrors.WithLabelValues(string(tier), op).Inc()
	}
}

func (m *Metrics) extracted(n int) {
	if m != nil && n > 0 {
		m.Extracted.Add(float64(n))
	}
}
