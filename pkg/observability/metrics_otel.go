package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the tracer and meter name used across the module
const InstrumentationName = "github.com/platinummonkey/assetguard"

// OTelMetrics holds OpenTelemetry metric instruments for the OTLP push
// pipeline. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	decisions    metric.Int64Counter
	decisionTime metric.Float64Histogram
	contextLoad  metric.Float64Histogram
	cacheLookups metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.decisions, err = meter.Int64Counter(
		"authz.decisions",
		metric.WithDescription("Authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.decisions counter: %w", err)
	}

	m.decisionTime, err = meter.Float64Histogram(
		"authz.decision.duration",
		metric.WithDescription("Time to reach an authorization decision"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.decision.duration histogram: %w", err)
	}

	m.contextLoad, err = meter.Float64Histogram(
		"authz.context.load.duration",
		metric.WithDescription("Time to build an authorization context"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.context.load.duration histogram: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"authz.cache.lookups",
		metric.WithDescription("Authorization cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.cache.lookups counter: %w", err)
	}

	return m, nil
}

// RecordDecision records one authorization decision
func (m *OTelMetrics) RecordDecision(ctx context.Context, allowed bool, code string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("allowed", allowed),
		attribute.String("code", code),
	)
	m.decisions.Add(ctx, 1, attrs)
	m.decisionTime.Record(ctx, d.Seconds(), attrs)
}

// ObserveContextLoad records the time spent building an authorization context
func (m *OTelMetrics) ObserveContextLoad(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.contextLoad.Record(ctx, d.Seconds())
}

// RecordCacheLookup records a cache hit or miss for a key family
func (m *OTelMetrics) RecordCacheLookup(ctx context.Context, family string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("family", family),
		attribute.Bool("hit", hit),
	))
}
