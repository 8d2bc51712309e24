package observability

import (
	"context"
	"time"

	"advertiser-onboarding/internal/common/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability holds the OTel meters of the service. The instruments are exported
// through the default Prometheus registry, next to the promauto metrics.
type Observability struct {
	meterProvider  *metric.MeterProvider
	meter          otelmetric.Meter
	jobCounter     otelmetric.Int64Counter
	jobDuration    otelmetric.Float64Histogram
	flowsCompleted otelmetric.Int64Counter
	flowDuration   otelmetric.Float64Histogram
}

func New(serviceName string, log logger.Logger) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Error("Failed to create Prometheus exporter", map[string]interface{}{"error": err.Error()})
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	jobCounter, _ := meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)

	jobDuration, _ := meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)

	flowsCompleted, _ := meter.Int64Counter(
		"onboarding.flows.completed",
		otelmetric.WithDescription("Onboarding flows resolved by the verification callback"),
	)

	flowDuration, _ := meter.Float64Histogram(
		"onboarding.verification.duration",
		otelmetric.WithDescription("Time from verification submit to continuation URL"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:  provider,
		meter:          meter,
		jobCounter:     jobCounter,
		jobDuration:    jobDuration,
		flowsCompleted: flowsCompleted,
		flowDuration:   flowDuration,
	}
}

// NewNoop returns an Observability whose recorders do nothing.
func NewNoop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordJobProcessed(ctx context.Context, status string) {
	if o == nil || o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	if o == nil || o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordFlowOutcome counts a flow that left verification_payment through the callback.
func (o *Observability) RecordFlowOutcome(ctx context.Context, plan, outcome string) {
	if o == nil || o.flowsCompleted == nil {
		return
	}
	o.flowsCompleted.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("plan", plan),
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) RecordVerificationStart(ctx context.Context, duration time.Duration, plan string) {
	if o == nil || o.flowDuration == nil {
		return
	}
	o.flowDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("plan", plan),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
