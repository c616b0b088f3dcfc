// Package metrics records pipeline activity. The no-op collector is the
// default; the Prometheus collector owns its own registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives pipeline measurements
type Collector interface {
	PhaseTransition(component, from, to string)
	DownloadBytes(component string, n int)
	DownloadAttempt(component, outcome string)
	HealthPoll(outcome string)
	ProcessExit(name string, code int)
}

// NewNoop returns a collector that records nothing
func NewNoop() Collector { return noop{} }

type noop struct{}

func (noop) PhaseTransition(string, string, string) {}
func (noop) DownloadBytes(string, int)              {}
func (noop) DownloadAttempt(string, string)         {}
func (noop) HealthPoll(string)                      {}
func (noop) ProcessExit(string, int)                {}

// Prometheus implements Collector with Prometheus metrics
type Prometheus struct {
	phaseTransitions *prometheus.CounterVec
	downloadBytes    *prometheus.CounterVec
	downloadAttempts *prometheus.CounterVec
	healthPolls      *prometheus.CounterVec
	processExits     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheus creates a collector registered on a fresh registry
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "localmodel"
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.phaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_phase_transitions_total",
			Help:      "Total number of install orchestrator phase transitions",
		},
		[]string{"component", "from_phase", "to_phase"},
	)

	p.downloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Total number of bytes written by the downloader",
		},
		[]string{"component"},
	)

	p.downloadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_attempts_total",
			Help:      "Total number of verified download attempts by outcome",
		},
		[]string{"component", "outcome"},
	)

	p.healthPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_health_polls_total",
			Help:      "Total number of server status polls by outcome",
		},
		[]string{"outcome"},
	)

	p.processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "Total number of supervised process exits by exit code",
		},
		[]string{"process", "code"},
	)

	p.registry.MustRegister(
		p.phaseTransitions,
		p.downloadBytes,
		p.downloadAttempts,
		p.healthPolls,
		p.processExits,
	)
	return p
}

func (p *Prometheus) PhaseTransition(component, from, to string) {
	p.phaseTransitions.WithLabelValues(component, from, to).Inc()
}

func (p *Prometheus) DownloadBytes(component string, n int) {
	p.downloadBytes.WithLabelValues(component).Add(float64(n))
}

func (p *Prometheus) DownloadAttempt(component, outcome string) {
	p.downloadAttempts.WithLabelValues(component, outcome).Inc()
}

func (p *Prometheus) HealthPoll(outcome string) {
	p.healthPolls.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ProcessExit(name string, code int) {
	p.processExits.WithLabelValues(name, strconv.Itoa(code)).Inc()
}

// Registry exposes the underlying registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
