package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics regroupe les compteurs Prometheus de l'application. Un *Metrics nil est valide (no-op).
type Metrics struct {
	Registry *prometheus.Registry

	providerFetches  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerLinks    *prometheus.CounterVec
	aggregations     *prometheus.CounterVec
	autoSwitches     prometheus.Counter
	proxyRequests    *prometheus.CounterVec
	probeStatus      *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		providerFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhub",
			Name:      "provider_fetches_total",
			Help:      "Provider fetches by server and outcome.",
		}, []string{"server", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamhub",
			Name:      "provider_fetch_seconds",
			Help:      "Provider fetch latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"server"}),
		providerLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhub",
			Name:      "provider_links_total",
			Help:      "Links returned by provider.",
		}, []string{"server"}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhub",
			Name:      "aggregations_total",
			Help:      "Aggregation runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		autoSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamhub",
			Name:      "auto_switches_total",
			Help:      "Automatic switches from an external provider to aggregated links.",
		}),
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhub",
			Name:      "proxy_requests_total",
			Help:      "Proxied requests by outcome.",
		}, []string{"outcome"}),
		probeStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamhub",
			Name:      "provider_working",
			Help:      "1 if the last probe of an external provider succeeded.",
		}, []string{"provider"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.providerFetches, m.providerDuration, m.providerLinks,
		m.aggregations, m.autoSwitches, m.proxyRequests, m.probeStatus,
	)
	return m
}

func (m *Metrics) ObserveFetch(server string, res ServerResult, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "empty"
	if res.Success && len(res.Links) > 0 {
		outcome = "ok"
	}
	m.providerFetches.WithLabelValues(server, outcome).Inc()
	m.providerDuration.WithLabelValues(server).Observe(d.Seconds())
	m.providerLinks.WithLabelValues(server).Add(float64(len(res.Links)))
}

func (m *Metrics) ObserveAggregation(mode AggregationMode, outcome string) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(string(mode), outcome).Inc()
}

func (m *Metrics) AutoSwitched() {
	if m == nil {
		return
	}
	m.autoSwitches.Inc()
}

func (m *Metrics) ObserveProxy(outcome string) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetProviderWorking(provider string, working bool) {
	if m == nil {
		return
	}
	v := 0.0
	if working {
		v = 1
	}
	m.probeStatus.WithLabelValues(provider).Set(v)
}
