package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ollama-scanner"

// StartProbeSpan starts a span covering the full ordered probe sequence
// against one candidate.
func StartProbeSpan(ctx context.Context, ip string, port int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "probe",
		trace.WithAttributes(
			attribute.String("endpoint.ip", ip),
			attribute.Int("endpoint.port", port),
		),
	)
}

// StartProbeStepSpan starts a child span for one step of the probe sequence
// (tags, generate, system_generate, version).
func StartProbeStepSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "probe."+step,
		trace.WithAttributes(attribute.String("probe.step", step)),
	)
}

// StartCatalogTxSpan starts a span around a Catalog Store transaction.
func StartCatalogTxSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "catalog.tx",
		trace.WithAttributes(attribute.String("catalog.op", op)),
	)
}
