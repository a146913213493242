package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "ollama-scanner"

// Metrics holds the scanner's metric instruments.
type Metrics struct {
	VerdictsValid     metric.Int64Counter
	VerdictsInvalid   metric.Int64Counter
	VerdictsHoneypot  metric.Int64Counter
	ProbeDuration     metric.Float64Histogram
	CatalogTxDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments against the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.VerdictsValid, err = meter.Int64Counter("scanner.verdicts.valid",
		metric.WithDescription("Number of endpoints verified as valid"))
	if err != nil {
		return nil, err
	}

	m.VerdictsInvalid, err = meter.Int64Counter("scanner.verdicts.invalid",
		metric.WithDescription("Number of endpoints verified as invalid"))
	if err != nil {
		return nil, err
	}

	m.VerdictsHoneypot, err = meter.Int64Counter("scanner.verdicts.honeypot",
		metric.WithDescription("Number of endpoints classified as honeypots"))
	if err != nil {
		return nil, err
	}

	m.ProbeDuration, err = meter.Float64Histogram("scanner.probe.duration_seconds",
		metric.WithDescription("Probe Client end-to-end duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.CatalogTxDuration, err = meter.Float64Histogram("scanner.catalog.tx_duration_seconds",
		metric.WithDescription("Catalog Store transaction duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
