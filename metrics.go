package scu

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "scu"

type metrics struct {
	periods      *prometheus.CounterVec
	xruns        *prometheus.CounterVec
	dmaBusy      *prometheus.CounterVec
	pollTimeouts *prometheus.CounterVec
	routeChanges *prometheus.CounterVec
	routeActive  *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		periods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "periods_elapsed_total",
			Help:      "Number of completed period transfers.",
		}, []string{"direction"}),
		xruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "xruns_total",
			Help:      "Number of underruns and overruns by detecting block.",
		}, []string{"direction", "source"}),
		dmaBusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dma_busy_total",
			Help:      "Number of stream starts refused for lack of a DMA channel.",
		}, []string{"direction"}),
		pollTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "poll_timeouts_total",
			Help:      "Number of register polls that gave up.",
		}, []string{"block"}),
		routeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "route_changes_total",
			Help:      "Number of accepted route changes.",
		}, []string{"direction"}),
		routeActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "route_active",
			Help:      "Active topology per direction: 0 none, 1 SSI, 2 SRC, 3 DVC.",
		}, []string{"direction"}),
	}

	collectors := []prometheus.Collector{m.periods, m.xruns, m.dmaBusy, m.pollTimeouts, m.routeChanges, m.routeActive}
	for i, col := range collectors {
		if err := reg.Register(col); err != nil {
			for _, done := range collectors[:i] {
				reg.Unregister(done)
			}

			return nil, err
		}
	}

	return m, nil
}

func (m *metrics) unregister(reg prometheus.Registerer) {
	for _, col := range []prometheus.Collector{m.periods, m.xruns, m.dmaBusy, m.pollTimeouts, m.routeChanges, m.routeActive} {
		reg.Unregister(col)
	}
}
