// Package metrics records build and dev-server activity as Prometheus
// metrics. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels a finished page build.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Recorder holds the unifee collectors registered on one registry.
type Recorder struct {
	registry        *prom.Registry
	buildDuration   *prom.HistogramVec
	buildOutcomes   *prom.CounterVec
	assetDuration   *prom.HistogramVec
	imageBytesSaved prom.Counter
	reloads         prom.Counter
	liveClients     prom.Gauge
	commandResults  *prom.CounterVec
}

// NewRecorder constructs and registers the collectors on reg, or on a new
// private registry when reg is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		registry: reg,
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "unifee",
			Name:      "page_build_duration_seconds",
			Help:      "Duration of page builds",
			Buckets:   prom.DefBuckets,
		}, []string{"page"}),
		buildOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "unifee",
			Name:      "page_builds_total",
			Help:      "Page builds by outcome",
		}, []string{"page", "outcome"}),
		assetDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "unifee",
			Name:      "asset_compile_duration_seconds",
			Help:      "Duration of individual asset compilations",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		imageBytesSaved: prom.NewCounter(prom.CounterOpts{
			Namespace: "unifee",
			Name:      "image_bytes_saved_total",
			Help:      "Bytes saved by image optimization",
		}),
		reloads: prom.NewCounter(prom.CounterOpts{
			Namespace: "unifee",
			Name:      "reload_broadcasts_total",
			Help:      "Reload markers broadcast to browsers",
		}),
		liveClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: "unifee",
			Name:      "live_reload_clients",
			Help:      "Currently connected live reload clients",
		}),
		commandResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "unifee",
			Name:      "project_commands_total",
			Help:      "Project build commands by script and result",
		}, []string{"script", "result"}),
	}
	reg.MustRegister(
		r.buildDuration,
		r.buildOutcomes,
		r.assetDuration,
		r.imageBytesSaved,
		r.reloads,
		r.liveClients,
		r.commandResults,
	)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (r *Recorder) ObservePageBuild(page string, d time.Duration, outcome Outcome) {
	if r == nil {
		return
	}
	r.buildDuration.WithLabelValues(page).Observe(d.Seconds())
	r.buildOutcomes.WithLabelValues(page, string(outcome)).Inc()
}

func (r *Recorder) ObserveAssetCompile(kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.assetDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) AddImageBytesSaved(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.imageBytesSaved.Add(float64(n))
}

func (r *Recorder) IncReloadBroadcast() {
	if r == nil {
		return
	}
	r.reloads.Inc()
}

func (r *Recorder) SetLiveClients(n int) {
	if r == nil {
		return
	}
	r.liveClients.Set(float64(n))
}

func (r *Recorder) IncCommandResult(script string, success bool) {
	if r == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	r.commandResults.WithLabelValues(script, result).Inc()
}
