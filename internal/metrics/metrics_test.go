package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	queueDepth  int
	activeTasks int
	dropped     int64
}

func (f fakeSource) QueueDepth() int            { return f.queueDepth }
func (f fakeSource) ActiveTaskCount() int       { return f.activeTasks }
func (f fakeSource) BusDroppedEventCount() int64 { return f.dropped }

func TestNew_NoReaderAttachedByDefault(t *testing.T) {
	src := fakeSource{queueDepth: 3, activeTasks: 2, dropped: 7}
	m, err := New(src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRegisterInstruments_ObservedValuesMatchSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &Metrics{provider: provider, meter: provider.Meter(meterName)}

	src := fakeSource{queueDepth: 5, activeTasks: 1, dropped: 42}
	if err := m.registerInstruments(src); err != nil {
		t.Fatalf("registerInstruments: %v", err)
	}

	var data metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &data); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(data.ScopeMetrics) == 0 || len(data.ScopeMetrics[0].Metrics) != 3 {
		t.Fatalf("got scope metrics %+v, want 3 instruments", data.ScopeMetrics)
	}
}
