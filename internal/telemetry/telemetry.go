// ABOUTME: OpenTelemetry counters for the sync engine and their exporter setup
// ABOUTME: Metrics methods are nil-safe so components run without telemetry in tests

package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ScopeName identifies this module's instruments.
const ScopeName = "github.com/2389/coven-desk"

// Metrics holds the console's counters.
type Metrics struct {
	eventsApplied metric.Int64Counter
	duplicates    metric.Int64Counter
	refreshes     metric.Int64Counter
}

// NewMetrics creates the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	eventsApplied, err := meter.Int64Counter("desk.events.applied",
		metric.WithDescription("Inbound realtime events applied to local state"))
	if err != nil {
		return nil, fmt.Errorf("creating events counter: %w", err)
	}
	duplicates, err := meter.Int64Counter("desk.messages.duplicates",
		metric.WithDescription("Messages absorbed by the dedup pass"))
	if err != nil {
		return nil, fmt.Errorf("creating duplicates counter: %w", err)
	}
	refreshes, err := meter.Int64Counter("desk.directory.refreshes",
		metric.WithDescription("Directory refresh attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating refresh counter: %w", err)
	}
	return &Metrics{
		eventsApplied: eventsApplied,
		duplicates:    duplicates,
		refreshes:     refreshes,
	}, nil
}

// EventApplied counts one applied inbound event.
func (m *Metrics) EventApplied(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.eventsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// DuplicateAbsorbed counts one message dropped by dedup.
func (m *Metrics) DuplicateAbsorbed(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicates.Add(ctx, 1)
}

// Refresh counts one directory refresh attempt.
func (m *Metrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Setup installs a global MeterProvider that periodically writes metrics to
// w and returns the console's Metrics plus a shutdown func.
func Setup(ctx context.Context, w io.Writer, interval time.Duration, version string) (*Metrics, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("desk-console"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	m, err := NewMetrics(mp.Meter(ScopeName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	return m, mp.Shutdown, nil
}
