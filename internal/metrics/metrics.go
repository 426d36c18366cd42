package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gateway metrics on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	// Upstream Zabbix calls
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec

	// Gateway API
	APIResponses   *prometheus.CounterVec
	LoginThrottled prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	r := &Registry{reg: reg}

	r.UpstreamRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "zabbixgateway_upstream_requests_total",
		Help: "Zabbix JSON-RPC calls by method and outcome",
	}, []string{"method", "outcome"})

	r.UpstreamLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zabbixgateway_upstream_request_duration_seconds",
		Help:    "Zabbix JSON-RPC call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	r.APIResponses = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "zabbixgateway_api_responses_total",
		Help: "Gateway API responses by route and status code",
	}, []string{"route", "status"})

	r.LoginThrottled = factory.NewCounter(prometheus.CounterOpts{
		Name: "zabbixgateway_login_throttled_total",
		Help: "Login attempts rejected by the per client throttle",
	})

	return r
}

// ObserveUpstream records one upstream call. Safe on a nil receiver.
func (r *Registry) ObserveUpstream(method, outcome string, dur time.Duration) {
	if r == nil {
		return
	}
	r.UpstreamRequests.WithLabelValues(method, outcome).Inc()
	r.UpstreamLatency.WithLabelValues(method).Observe(dur.Seconds())
}

// ObserveResponse records one API response. Safe on a nil receiver.
func (r *Registry) ObserveResponse(route string, status int) {
	if r == nil {
		return
	}
	r.APIResponses.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (r *Registry) ObserveThrottled() {
	if r == nil {
		return
	}
	r.LoginThrottled.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
