package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/guillermoBallester/querygate"

// Instruments holds pre-created OTel metric instruments.
type Instruments struct {
	QueryCount    metric.Int64Counter
	QueryDuration metric.Float64Histogram
	QueryErrors   metric.Int64Counter
	Rejections    metric.Int64Counter
	RateLimited   metric.Int64Counter
	ToolDuration  metric.Float64Histogram
}

// NewInstruments creates metric instruments from the global MeterProvider.
// Returns nil-safe instruments: if creation fails, noop instruments are used.
func NewInstruments() *Instruments {
	meter := otel.Meter(meterName)
	return newInstrumentsFromMeter(meter)
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	meter := noop.NewMeterProvider().Meter(meterName)
	return newInstrumentsFromMeter(meter)
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	queryCount, _ := meter.Int64Counter("querygate.query.count",
		metric.WithDescription("Queries that executed and returned a result"),
	)
	queryDuration, _ := meter.Float64Histogram("querygate.query.duration",
		metric.WithDescription("SQL query execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryErrors, _ := meter.Int64Counter("querygate.query.errors",
		metric.WithDescription("Admitted queries that failed during execution"),
	)
	rejections, _ := meter.Int64Counter("querygate.validation.rejections",
		metric.WithDescription("Queries refused by the validator"),
	)
	rateLimited, _ := meter.Int64Counter("querygate.ratelimit.denied",
		metric.WithDescription("Queries refused because the principal's window was full"),
	)
	toolDuration, _ := meter.Float64Histogram("querygate.tool.duration",
		metric.WithDescription("MCP tool and HTTP handler duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		QueryCount:    queryCount,
		QueryDuration: queryDuration,
		QueryErrors:   queryErrors,
		Rejections:    rejections,
		RateLimited:   rateLimited,
		ToolDuration:  toolDuration,
	}
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	i.QueryDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementQueryCount(ctx context.Context) {
	i.QueryCount.Add(ctx, 1)
}

func (i *Instruments) IncrementQueryErrors(ctx context.Context) {
	i.QueryErrors.Add(ctx, 1)
}

func (i *Instruments) IncrementValidationRejections(ctx context.Context) {
	i.Rejections.Add(ctx, 1)
}

func (i *Instruments) IncrementRateLimited(ctx context.Context) {
	i.RateLimited.Add(ctx, 1)
}

func (i *Instruments) RecordToolDuration(ctx context.Context, ms float64) {
	i.ToolDuration.Record(ctx, ms)
}
