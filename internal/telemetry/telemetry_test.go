package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/artha/config"
)

func TestSetupEnabledExportsToRegistry(t *testing.T) {
	ctx := context.Background()
	tel, err := Setup(ctx, config.TelemetryConfig{Enabled: true}, Options{ServiceName: "artha-test"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	tel.Metrics.Query(ctx, "ok", 150*time.Millisecond)
	tel.Metrics.ProducerRun(ctx, "debt_management", "success", time.Second)

	families, err := tel.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		name := f.GetName()
		switch {
		case strings.HasPrefix(name, "artha_queries"):
			found["queries"] = true
		case strings.HasPrefix(name, "artha_producer_runs"):
			found["producer_runs"] = true
		}
	}
	if !found["queries"] || !found["producer_runs"] {
		t.Fatalf("expected exported families, got %v", found)
	}
}

func TestDisabledSetupIsNoop(t *testing.T) {
	tel, err := Setup(context.Background(), config.TelemetryConfig{}, Options{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tel.Metrics == nil || tel.Tracer == nil {
		t.Fatalf("expected noop instruments")
	}
	tel.Metrics.Conflicts(context.Background(), 2)
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.SourceFetch(ctx, "fetch_net_worth", "ok")
	m.ToolCache(ctx, true)
	m.SnapshotCache(ctx, false)
	m.BreakerTrip(ctx)
	m.ProducerRun(ctx, "x", "failed", time.Millisecond)
	m.Weighting(ctx, "fallback")
	m.Conflicts(ctx, 1)
	m.Query(ctx, "ok", time.Millisecond)

	var tel *Telemetry
	if tel.TracerOrNoop() == nil {
		t.Fatalf("expected noop tracer")
	}
}
