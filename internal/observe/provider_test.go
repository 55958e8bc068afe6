package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// restoreGlobals puts back the global providers InitProvider replaces.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp, prop := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInitProvider_RejectsBadRatio(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5} {
		if _, err := InitProvider(context.Background(), ProviderConfig{SampleRatio: ratio}); err == nil {
			t.Errorf("ratio %v: expected error", ratio)
		}
	}
}

func TestInitProvider_Sampling(t *testing.T) {
	tests := []struct {
		ratio   float64
		sampled bool
	}{
		{1, true},
		{0, false},
	}
	for _, tt := range tests {
		restoreGlobals(t)
		shutdown, err := InitProvider(context.Background(), ProviderConfig{
			SampleRatio: tt.ratio,
			Registerer:  prometheus.NewRegistry(),
		})
		if err != nil {
			t.Fatalf("InitProvider(%v): %v", tt.ratio, err)
		}

		ctx, span := StartSpan(context.Background(), "pipeline.validate_text")
		if got := span.SpanContext().IsSampled(); got != tt.sampled {
			t.Errorf("ratio %v: sampled = %v, want %v", tt.ratio, got, tt.sampled)
		}
		// The trace ID exists even when the span is dropped so logs still correlate.
		if CorrelationID(ctx) == "" {
			t.Errorf("ratio %v: no correlation ID", tt.ratio)
		}
		span.End()

		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}
}

func TestInitProvider_RegistersCollector(t *testing.T) {
	restoreGlobals(t)
	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName: "tilawa-test",
		SampleRatio: 1,
		Registerer:  reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordPronunciation(context.Background(), "analyzed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var counter, service bool
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
		switch f.GetName() {
		case "tilawa_pronunciation_outcomes_total":
			counter = true
		case "target_info":
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "service_name" && l.GetValue() == "tilawa-test" {
						service = true
					}
				}
			}
		}
	}
	if !counter {
		t.Errorf("pronunciation counter not exported; got %v", names)
	}
	if !service {
		t.Errorf("target_info does not carry service_name=tilawa-test; got %v", names)
	}
}
