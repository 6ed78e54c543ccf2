package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsSinkRecordsInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	sink, err := NewMetricsSink(provider.Meter("test"))
	if err != nil {
		t.Fatalf("new metrics sink: %v", err)
	}
	ctx := context.Background()
	sink.Record(ctx, Event{Stage: StageAnalyze, Kind: KindOK, Duration: 120 * time.Millisecond})
	sink.Record(ctx, Event{Stage: StageSynthesize, Kind: KindRateLimited, Err: errors.New("429")})
	sink.Record(ctx, Event{Stage: StageAppend, Kind: KindOK, Turns: 4})
	sink.Record(ctx, Event{Stage: StageIteration, Kind: KindOK})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			seen[m.Name] = true
			if m.Name == "narrator.transcript.turns" {
				gauge, ok := m.Data.(metricdata.Gauge[int64])
				if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 4 {
					t.Fatalf("unexpected turns gauge %+v", m.Data)
				}
			}
		}
	}
	for _, name := range []string{"narrator.iterations", "narrator.stage.duration", "narrator.stage.errors", "narrator.transcript.turns"} {
		if !seen[name] {
			t.Fatalf("missing instrument %s", name)
		}
	}
}
