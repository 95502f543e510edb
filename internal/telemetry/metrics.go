package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the consensus pipeline. All
// methods are safe on a nil receiver.
type Metrics struct {
	sourceFetches   otelmetric.Int64Counter
	toolCache       otelmetric.Int64Counter
	snapshotCache   otelmetric.Int64Counter
	breakerTrips    otelmetric.Int64Counter
	producerRuns    otelmetric.Int64Counter
	producerLatency otelmetric.Float64Histogram
	weighting       otelmetric.Int64Counter
	conflicts       otelmetric.Int64Counter
	queries         otelmetric.Int64Counter
	queryLatency    otelmetric.Float64Histogram
}

// NewMetrics registers instruments on meter. Instruments that fail to
// register are logged and left nil.
func NewMetrics(meter otelmetric.Meter) *Metrics {
	m := &Metrics{}
	var err error
	m.sourceFetches, err = meter.Int64Counter(
		"artha_source_fetches_total",
		otelmetric.WithDescription("Data source tool calls by source and outcome"),
	)
	logInitErr("artha_source_fetches_total", err)
	m.toolCache, err = meter.Int64Counter(
		"artha_tool_cache_lookups_total",
		otelmetric.WithDescription("Tool response cache lookups by result"),
	)
	logInitErr("artha_tool_cache_lookups_total", err)
	m.snapshotCache, err = meter.Int64Counter(
		"artha_snapshot_cache_lookups_total",
		otelmetric.WithDescription("Snapshot cache lookups by result"),
	)
	logInitErr("artha_snapshot_cache_lookups_total", err)
	m.breakerTrips, err = meter.Int64Counter(
		"artha_breaker_trips_total",
		otelmetric.WithDescription("Circuit breaker transitions to open"),
	)
	logInitErr("artha_breaker_trips_total", err)
	m.producerRuns, err = meter.Int64Counter(
		"artha_producer_runs_total",
		otelmetric.WithDescription("Producer invocations by producer and outcome"),
	)
	logInitErr("artha_producer_runs_total", err)
	m.producerLatency, err = meter.Float64Histogram(
		"artha_producer_duration_seconds",
		otelmetric.WithDescription("Producer wall time"),
		otelmetric.WithUnit("s"),
	)
	logInitErr("artha_producer_duration_seconds", err)
	m.weighting, err = meter.Int64Counter(
		"artha_weighting_total",
		otelmetric.WithDescription("Weight computations by method"),
	)
	logInitErr("artha_weighting_total", err)
	m.conflicts, err = meter.Int64Counter(
		"artha_conflicts_total",
		otelmetric.WithDescription("Conflicts detected between producers"),
	)
	logInitErr("artha_conflicts_total", err)
	m.queries, err = meter.Int64Counter(
		"artha_queries_total",
		otelmetric.WithDescription("Consensus queries by outcome"),
	)
	logInitErr("artha_queries_total", err)
	m.queryLatency, err = meter.Float64Histogram(
		"artha_query_duration_seconds",
		otelmetric.WithDescription("End to end consensus latency"),
		otelmetric.WithUnit("s"),
	)
	logInitErr("artha_query_duration_seconds", err)
	return m
}

func logInitErr(name string, err error) {
	if err != nil {
		log.Printf("telemetry metrics init: %s: %v", name, err)
	}
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func (m *Metrics) SourceFetch(ctx context.Context, source, outcome string) {
	if m == nil || m.sourceFetches == nil {
		return
	}
	m.sourceFetches.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) ToolCache(ctx context.Context, hit bool) {
	if m == nil || m.toolCache == nil {
		return
	}
	m.toolCache.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", hitLabel(hit))))
}

func (m *Metrics) SnapshotCache(ctx context.Context, hit bool) {
	if m == nil || m.snapshotCache == nil {
		return
	}
	m.snapshotCache.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", hitLabel(hit))))
}

func (m *Metrics) BreakerTrip(ctx context.Context) {
	if m == nil || m.breakerTrips == nil {
		return
	}
	m.breakerTrips.Add(ctx, 1)
}

// ProducerRun records one producer invocation.
func (m *Metrics) ProducerRun(ctx context.Context, producer, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("producer", producer),
		attribute.String("outcome", outcome),
	)
	if m.producerRuns != nil {
		m.producerRuns.Add(ctx, 1, attrs)
	}
	if m.producerLatency != nil {
		m.producerLatency.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *Metrics) Weighting(ctx context.Context, method string) {
	if m == nil || m.weighting == nil {
		return
	}
	m.weighting.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("method", method)))
}

func (m *Metrics) Conflicts(ctx context.Context, n int) {
	if m == nil || m.conflicts == nil || n <= 0 {
		return
	}
	m.conflicts.Add(ctx, int64(n))
}

// Query records a finished consensus query.
func (m *Metrics) Query(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	if m.queries != nil {
		m.queries.Add(ctx, 1, attrs)
	}
	if m.queryLatency != nil {
		m.queryLatency.Record(ctx, d.Seconds(), attrs)
	}
}
