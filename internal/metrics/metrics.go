package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeSimulated = "simulated"
	OutcomeError     = "error"
)

// Metrics holds the service counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	AgentInvocations    *prometheus.CounterVec
	ChainRuns           *prometheus.CounterVec
	ChainSteps          *prometheus.CounterVec
	DocumentExports     *prometheus.CounterVec
	IntegrationRequests *prometheus.CounterVec
	DocumentImports     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AgentInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "agent_invocations_total",
			Help:      "Agent webhook invocations by agent and outcome.",
		}, []string{"agent", "outcome"}),
		ChainRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "chain_runs_total",
			Help:      "Chain runs by outcome.",
		}, []string{"outcome"}),
		ChainSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "chain_steps_total",
			Help:      "Chain steps by agent and outcome.",
		}, []string{"agent", "outcome"}),
		DocumentExports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "document_exports_total",
			Help:      "Document exports by format and fallback tier.",
		}, []string{"format", "tier"}),
		IntegrationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "integration_requests_total",
			Help:      "Outbound integration API calls by service and outcome.",
		}, []string{"service", "outcome"}),
		DocumentImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentflow",
			Name:      "document_imports_total",
			Help:      "Document imports by source type and result (created, updated, skipped).",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AgentInvocations,
		m.ChainRuns,
		m.ChainSteps,
		m.DocumentExports,
		m.IntegrationRequests,
		m.DocumentImports,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Outcome maps an error and simulated flag to an outcome label.
func Outcome(err error, simulated bool) string {
	switch {
	case err != nil:
		return OutcomeError
	case simulated:
		return OutcomeSimulated
	default:
		return OutcomeOK
	}
}
