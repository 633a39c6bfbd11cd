package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus is a Recorder backed by its own registry.
type Prometheus struct {
	registry     *prom.Registry
	storeTotal   *prom.CounterVec
	storeSeconds *prom.HistogramVec
	callTotal    *prom.CounterVec
	callSeconds  *prom.HistogramVec
	tierTotal    *prom.CounterVec
}

// NewPrometheus creates a recorder with all collectors registered.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prom.NewRegistry(),
		storeTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "medreason",
			Name:      "store_ops_total",
			Help:      "Total number of persistence operations",
		}, []string{"op", "success"}),
		storeSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "medreason",
			Name:      "store_op_seconds",
			Help:      "Persistence operation duration in seconds",
			Buckets:   prom.DefBuckets,
		}, []string{"op", "success"}),
		callTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "medreason",
			Name:      "calls_total",
			Help:      "Total number of entry-point and external calls",
		}, []string{"call", "success"}),
		callSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "medreason",
			Name:      "call_seconds",
			Help:      "Entry-point and external call duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"call", "success"}),
		tierTotal: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "medreason",
			Name:      "medicine_search_tier_total",
			Help:      "Medicine searches answered per tier",
		}, []string{"tier"}),
	}
	p.registry.MustRegister(p.storeTotal, p.storeSeconds, p.callTotal, p.callSeconds, p.tierTotal)
	return p
}

func (p *Prometheus) IncStoreOp(op string, success bool) {
	p.storeTotal.WithLabelValues(op, strconv.FormatBool(success)).Inc()
}

func (p *Prometheus) ObserveStoreOpSeconds(op string, success bool, seconds float64) {
	p.storeSeconds.WithLabelValues(op, strconv.FormatBool(success)).Observe(seconds)
}

func (p *Prometheus) IncCall(call string, success bool) {
	p.callTotal.WithLabelValues(call, strconv.FormatBool(success)).Inc()
}

func (p *Prometheus) ObserveCallSeconds(call string, success bool, seconds float64) {
	p.callSeconds.WithLabelValues(call, strconv.FormatBool(success)).Observe(seconds)
}

func (p *Prometheus) IncTier(tier string) {
	p.tierTotal.WithLabelValues(tier).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (p *Prometheus) Registry() *prom.Registry {
	return p.registry
}
