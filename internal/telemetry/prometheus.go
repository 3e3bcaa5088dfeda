package telemetry

import (
	"context"
	"net/http"

	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromInstruments exposes the same gateway metrics as Instruments on a
// Prometheus registry, for scraping at /metrics.
type PromInstruments struct {
	registry      *prometheus.Registry
	queries       prometheus.Counter
	queryErrors   prometheus.Counter
	rejections    prometheus.Counter
	rateLimited   prometheus.Counter
	queryDuration prometheus.Histogram
	toolDuration  prometheus.Histogram
}

var durationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// NewPromInstruments registers the gateway collectors plus the Go runtime and
// process collectors on a fresh registry.
func NewPromInstruments() *PromInstruments {
	reg := prometheus.NewRegistry()
	p := &PromInstruments{
		registry: reg,
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "queries_total",
			Help:      "Queries that executed and returned a result.",
		}),
		queryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "query_errors_total",
			Help:      "Admitted queries that failed during execution.",
		}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "validation_rejections_total",
			Help:      "Queries refused by the validator.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "querygate",
			Name:      "rate_limited_total",
			Help:      "Queries refused because the principal's window was full.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "querygate",
			Name:      "query_duration_milliseconds",
			Help:      "Query execution duration.",
			Buckets:   durationBuckets,
		}),
		toolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "querygate",
			Name:      "tool_duration_milliseconds",
			Help:      "MCP tool and HTTP handler duration.",
			Buckets:   durationBuckets,
		}),
	}
	reg.MustRegister(
		p.queries, p.queryErrors, p.rejections, p.rateLimited, p.queryDuration, p.toolDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *PromInstruments) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PromInstruments) Registry() *prometheus.Registry { return p.registry }

func (p *PromInstruments) RecordQueryDuration(_ context.Context, ms float64) {
	p.queryDuration.Observe(ms)
}

func (p *PromInstruments) IncrementQueryCount(context.Context)           { p.queries.Inc() }
func (p *PromInstruments) IncrementQueryErrors(context.Context)          { p.queryErrors.Inc() }
func (p *PromInstruments) IncrementValidationRejections(context.Context) { p.rejections.Inc() }
func (p *PromInstruments) IncrementRateLimited(context.Context)          { p.rateLimited.Inc() }

func (p *PromInstruments) RecordToolDuration(_ context.Context, ms float64) {
	p.toolDuration.Observe(ms)
}

// Multi forwards every measurement to each instrumentation in turn.
type Multi []port.Instrumentation

func (m Multi) RecordQueryDuration(ctx context.Context, ms float64) {
	for _, i := range m {
		i.RecordQueryDuration(ctx, ms)
	}
}

func (m Multi) IncrementQueryCount(ctx context.Context) {
	for _, i := range m {
		i.IncrementQueryCount(ctx)
	}
}

func (m Multi) IncrementQueryErrors(ctx context.Context) {
	for _, i := range m {
		i.IncrementQueryErrors(ctx)
	}
}

func (m Multi) IncrementValidationRejections(ctx context.Context) {
	for _, i := range m {
		i.IncrementValidationRejections(ctx)
	}
}

func (m Multi) IncrementRateLimited(ctx context.Context) {
	for _, i := range m {
		i.IncrementRateLimited(ctx)
	}
}

func (m Multi) RecordToolDuration(ctx context.Context, ms float64) {
	for _, i := range m {
		i.RecordToolDuration(ctx, ms)
	}
}
