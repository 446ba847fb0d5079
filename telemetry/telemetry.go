package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the editor.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. Hooks run inline with request handling.
type Collector interface {
	IncHotReload(file string)
	IncValidationFailure(field string)
	IncDiscoveryFailure(dir string)
	IncSave(result string)
}

// Save results reported through IncSave.
const (
	SaveOK      = "ok"
	SaveInvalid = "invalid"
	SaveError   = "error"
)

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)         {}
func (noopCollector) IncValidationFailure(string) {}
func (noopCollector) IncDiscoveryFailure(string)  {}
func (noopCollector) IncSave(string)              {}

// PrometheusCollector exposes telemetry counters via Prometheus.
type PrometheusCollector struct {
	hotReloads         *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	discoveryFailures  *prometheus.CounterVec
	saves              *prometheus.CounterVec
}

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Registering twice reuses the existing counters.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	hotReloads, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "mbusdconf_config_hot_reload_total",
		Help: "Number of reloads triggered by external changes per file.",
	}, "file")
	if err != nil {
		return nil, err
	}
	validationFailures, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "mbusdconf_validation_failures_total",
		Help: "Number of rejected field values per option key.",
	}, "field")
	if err != nil {
		return nil, err
	}
	discoveryFailures, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "mbusdconf_discovery_failures_total",
		Help: "Number of failed serial device directory listings per directory.",
	}, "dir")
	if err != nil {
		return nil, err
	}
	saves, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "mbusdconf_saves_total",
		Help: "Number of save attempts per result.",
	}, "result")
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{
		hotReloads:         hotReloads,
		validationFailures: validationFailures,
		discoveryFailures:  discoveryFailures,
		saves:              saves,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncValidationFailure counts a rejected value of the given field.
func (p *PrometheusCollector) IncValidationFailure(field string) {
	if p == nil || p.validationFailures == nil {
		return
	}
	p.validationFailures.WithLabelValues(field).Inc()
}

// IncDiscoveryFailure counts a failed directory listing.
func (p *PrometheusCollector) IncDiscoveryFailure(dir string) {
	if p == nil || p.discoveryFailures == nil {
		return
	}
	p.discoveryFailures.WithLabelValues(dir).Inc()
}

// IncSave counts a save attempt.
func (p *PrometheusCollector) IncSave(result string) {
	if p == nil || p.saves == nil {
		return
	}
	p.saves.WithLabelValues(result).Inc()
}
