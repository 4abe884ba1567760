package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("gridbot-test")
	if err != nil {
		t.Fatalf("Failed to setup telemetry: %v", err)
	}

	if otel.GetTracerProvider() == nil {
		t.Error("Tracer provider not set")
	}
	if otel.GetMeterProvider() == nil {
		t.Error("Meter provider not set")
	}
	if tel.Metrics == nil {
		t.Fatal("Metrics not initialized")
	}

	tel.Metrics.SetOpenOrders("BTC/USD", 5)
	tel.Metrics.SetInvestedAmount("BTC/USD", 1250.50)
	tel.Metrics.SetWatchdogStaleSeconds("BTC/USD", 3.2)
	tel.Metrics.SetStateMachineState("bot-1", 1)

	tracer := GetTracer("test-tracer")
	if tracer == nil {
		t.Error("Failed to get tracer")
	}

	meter := GetMeter("test-meter")
	if meter == nil {
		t.Error("Failed to get meter")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
