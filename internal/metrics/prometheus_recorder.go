package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry       *prom.Registry
	buildDuration  prom.Histogram
	buildOutcome   *prom.CounterVec
	compileErrors  prom.Counter
	broadcasts     *prom.CounterVec
	droppedClients prom.Counter
	clients        prom.Gauge
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs the metrics and registers them with reg,
// or with a fresh registry if reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "devrun",
			Name:      "build_duration_seconds",
			Help:      "Duration of stylesheet builds",
			Buckets:   prom.DefBuckets,
		}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "devrun",
			Name:      "build_outcomes_total",
			Help:      "Stylesheet builds by outcome",
		}, []string{"outcome"}),
		compileErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: "devrun",
			Name:      "compile_errors_total",
			Help:      "Source files that failed to compile",
		}),
		broadcasts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "devrun",
			Name:      "livereload_broadcasts_total",
			Help:      "Broadcasts sent to reload clients, by kind",
		}, []string{"kind"}),
		droppedClients: prom.NewCounter(prom.CounterOpts{
			Namespace: "devrun",
			Name:      "livereload_dropped_clients_total",
			Help:      "Reload clients pruned because they could not keep up",
		}),
		clients: prom.NewGauge(prom.GaugeOpts{
			Namespace: "devrun",
			Name:      "livereload_clients",
			Help:      "Currently connected reload clients",
		}),
	}
	reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.compileErrors, pr.broadcasts, pr.droppedClients, pr.clients)
	return pr
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcome) {
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddCompileErrors(n int) {
	p.compileErrors.Add(float64(n))
}

func (p *PrometheusRecorder) IncBroadcast(kind string) {
	p.broadcasts.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncDroppedClients(n int) {
	p.droppedClients.Add(float64(n))
}

func (p *PrometheusRecorder) SetClients(n int) {
	p.clients.Set(float64(n))
}
