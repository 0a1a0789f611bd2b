// Package metrics holds the Prometheus collectors shared by the registry
// and the package manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds all collectors. A nil *Metrics records nothing.
type Metrics struct {
	Operations *prometheus.CounterVec
	Activation prometheus.Histogram
	Active     prometheus.Gauge
	Refreshes  *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a private
// registry so repeated construction in tests never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deplug_package_operations_total",
				Help: "Package manager operations by kind and result",
			},
			[]string{"op", "result"},
		),
		Activation: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deplug_package_activation_seconds",
				Help:    "Time spent running a package's init and activate hooks",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		Active: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deplug_packages_active",
				Help: "Number of active packages",
			},
		),
		Refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deplug_registry_refresh_total",
				Help: "Remote catalog refreshes by result",
			},
			[]string{"result"},
		),
	}
}

// Operation counts one manager operation.
func (m *Metrics) Operation(op string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result(err)).Inc()
}

// ObserveActivation records how long a package took to come up.
func (m *Metrics) ObserveActivation(d time.Duration) {
	if m == nil {
		return
	}
	m.Activation.Observe(d.Seconds())
}

// SetActive sets the active package gauge.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.Active.Set(float64(n))
}

// Refresh counts one catalog refresh.
func (m *Metrics) Refresh(err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
