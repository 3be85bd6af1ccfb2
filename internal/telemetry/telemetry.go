package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// Telemetry exposes batch download metrics through a Prometheus pull
// endpoint for the lifetime of a run. All methods are no-ops when telemetry
// is disabled.
type Telemetry struct {
	enabled       bool
	meterProvider *sdkmetric.MeterProvider

	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	bytesTotal       metric.Int64Counter
}

// New creates a telemetry instance backed by the OpenTelemetry Prometheus
// exporter and starts runtime metrics collection.
func New(_ context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	meter := otel.Meter(cfg.ServiceName)

	t := &Telemetry{enabled: true, meterProvider: meterProvider}

	if t.downloadsTotal, err = meter.Int64Counter("downloads_total",
		metric.WithDescription("Completed item transfers by terminal state")); err != nil {
		return nil, err
	}

	if t.downloadsActive, err = meter.Int64UpDownCounter("downloads_active",
		metric.WithDescription("Transfers currently in flight")); err != nil {
		return nil, err
	}

	if t.downloadDuration, err = meter.Float64Histogram("download_duration_seconds",
		metric.WithDescription("Per-item processing duration")); err != nil {
		return nil, err
	}

	if t.bytesTotal, err = meter.Int64Counter("downloaded_bytes_total",
		metric.WithDescription("Bytes transferred over the network")); err != nil {
		return nil, err
	}

	return t, nil
}

// DownloadStarted marks a transfer as in flight.
func (t *Telemetry) DownloadStarted(ctx context.Context) {
	if t == nil || !t.enabled {
		return
	}

	t.downloadsActive.Add(ctx, 1)
}

// DownloadFinished records a terminal transfer outcome.
func (t *Telemetry) DownloadFinished(ctx context.Context, state string, bytes int64, elapsed time.Duration) {
	if t == nil || !t.enabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("state", state))

	t.downloadsActive.Add(ctx, -1)
	t.downloadsTotal.Add(ctx, 1, attrs)
	t.downloadDuration.Record(ctx, elapsed.Seconds(), attrs)
	t.bytesTotal.Add(ctx, bytes)
}

// Handler returns the Prometheus scrape handler.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || !t.enabled {
		return nil
	}

	return t.meterProvider.Shutdown(ctx)
}
