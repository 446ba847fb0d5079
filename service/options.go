package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/timzifer/mbusdconf/discovery"
	internalconfig "github.com/timzifer/mbusdconf/internal/config"
	"github.com/timzifer/mbusdconf/notify"
	"github.com/timzifer/mbusdconf/telemetry"
)

// Option customizes the dependencies of a Service.
type Option func(*options)

type options struct {
	lister    discovery.Lister
	applier   Applier
	publisher notify.Publisher
	collector telemetry.Collector
	gatherer  prometheus.Gatherer
}

func defaultOptions(cfg *internalconfig.Config, logger zerolog.Logger) options {
	o := options{
		lister:    discovery.LocalLister{},
		publisher: notify.Noop(),
		collector: telemetry.Noop(),
		gatherer:  prometheus.DefaultGatherer,
	}
	if rpc := cfg.Discovery.RPC; rpc != nil {
		o.lister = discovery.NewRPCLister(rpc.URL, rpc.Session, rpc.Timeout.Duration)
	}
	if !cfg.Apply.Disable && len(cfg.Apply.Command) > 0 {
		o.applier = &CommandApplier{Command: cfg.Apply.Command, Timeout: cfg.ApplyTimeout(), Logger: logger}
	}
	return o
}

func applyOptions(o options, opts []Option) options {
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLister overrides the directory lister used for device discovery.
func WithLister(lister discovery.Lister) Option {
	return func(o *options) {
		if lister != nil {
			o.lister = lister
		}
	}
}

// WithApplier overrides the post-save hook. A nil applier disables it.
func WithApplier(applier Applier) Option {
	return func(o *options) {
		o.applier = applier
	}
}

// WithPublisher sets the notification publisher.
func WithPublisher(publisher notify.Publisher) Option {
	return func(o *options) {
		if publisher != nil {
			o.publisher = publisher
		}
	}
}

// WithTelemetry sets the telemetry collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(o *options) {
		if collector != nil {
			o.collector = collector
		}
	}
}

// WithGatherer sets the metrics source served on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(o *options) {
		if gatherer != nil {
			o.gatherer = gatherer
		}
	}
}
