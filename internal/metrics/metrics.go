// Package metrics exposes the in-process counters/gauges spec.md §5
// commits to ("the core exposes metrics on queue depth, active task
// count, and event bus drop count"). Rendering/exporting them is
// explicitly out of scope, so this package only constructs the
// instruments against an in-process MeterProvider with no registered
// reader — grounded on internal/otel/metrics.go's instrument-per-field
// struct and sdkmetric.NewMeterProvider construction, trimmed to the
// three quantities spec.md actually names.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "nox"

// Source supplies the live values the observable instruments sample on
// each collection pass. Implemented by *supervisor.Supervisor (via small
// adapter methods) so this package never imports taskmgr/agentmgr/bus
// directly.
type Source interface {
	QueueDepth() int
	ActiveTaskCount() int
	BusDroppedEventCount() int64
}

// Metrics holds Nox's observable instruments.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
}

// New constructs a MeterProvider with no exporter attached (in-process
// only) and registers callbacks against src.
func New(src Source) (*Metrics, error) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter(meterName)

	m := &Metrics{provider: provider, meter: meter}
	if err := m.registerInstruments(src); err != nil {
		return nil, err
	}
	return m, nil
}

// Provider returns the underlying MeterProvider, for a collaborator that
// wants to attach its own exporter/reader at the transport boundary.
func (m *Metrics) Provider() *sdkmetric.MeterProvider {
	return m.provider
}

// Shutdown releases the MeterProvider's resources.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) registerInstruments(src Source) error {
	queueDepth, err := m.meter.Int64ObservableGauge("nox.queue.depth",
		metric.WithDescription("number of tasks waiting in the ready queue"),
	)
	if err != nil {
		return fmt.Errorf("register queue depth gauge: %w", err)
	}

	activeTasks, err := m.meter.Int64ObservableGauge("nox.tasks.active",
		metric.WithDescription("number of tasks currently InProgress"),
	)
	if err != nil {
		return fmt.Errorf("register active tasks gauge: %w", err)
	}

	busDropped, err := m.meter.Int64ObservableCounter("nox.bus.dropped_events",
		metric.WithDescription("total events dropped by the event bus due to full subscriber buffers"),
	)
	if err != nil {
		return fmt.Errorf("register bus dropped counter: %w", err)
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(queueDepth, int64(src.QueueDepth()))
		o.ObserveInt64(activeTasks, int64(src.ActiveTaskCount()))
		o.ObserveInt64(busDropped, src.BusDroppedEventCount())
		return nil
	}, queueDepth, activeTasks, busDropped)
	if err != nil {
		return fmt.Errorf("register metrics callback: %w", err)
	}
	return nil
}
