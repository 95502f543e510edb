package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/artha/internal/cache"
	"github.com/mohammad-safakhou/artha/internal/conflict"
	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/quality"
	"github.com/mohammad-safakhou/artha/internal/reasoning"
	"github.com/mohammad-safakhou/artha/internal/snapshot"
	"github.com/mohammad-safakhou/artha/internal/telemetry"
	"github.com/mohammad-safakhou/artha/internal/weighting"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ErrInvalidRequest is returned for a request without user or query.
var ErrInvalidRequest = errors.New("user id and query are required")

// SnapshotSource provides the shared data snapshot for a user.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, userID string, forceRefresh bool) (*snapshot.Snapshot, error)
}

// ResultSink persists finished results. Failures are logged only.
type ResultSink interface {
	SaveResult(ctx context.Context, r *Result) error
}

// Request is one consensus query.
type Request struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	// Producers restricts the run to these names; empty means keyword selection.
	Producers []string `json:"producers,omitempty"`
	// Hints multiply producer weights before normalization.
	Hints        map[string]float64 `json:"hints,omitempty"`
	ForceRefresh bool               `json:"force_refresh,omitempty"`
}

// Options wires an Engine. Registry, Dispatcher and Snapshots are required.
type Options struct {
	Snapshots  SnapshotSource
	Registry   *producer.Registry
	Dispatcher *producer.Dispatcher
	Scorer     *quality.Scorer
	Calculator *weighting.Calculator
	Detector   *conflict.Detector
	Resolver   *conflict.Resolver
	// Synthesizer writes the narrative; nil disables it.
	Synthesizer    reasoning.Reasoner
	QueryTimeout   time.Duration
	ResultCacheTTL time.Duration
	Cache          cache.Store
	Sink           ResultSink
	Logger         *log.Logger
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer
	Now            func() time.Time
}

// Engine runs the consensus pipeline: snapshot, dispatch, scoring,
// weighting, conflict detection and resolution, assembly, narrative.
type Engine struct {
	snapshots   SnapshotSource
	registry    *producer.Registry
	dispatcher  *producer.Dispatcher
	scorer      *quality.Scorer
	calculator  *weighting.Calculator
	detector    *conflict.Detector
	resolver    *conflict.Resolver
	synthesizer reasoning.Reasoner
	timeout     time.Duration
	resultTTL   time.Duration
	cache       cache.Store
	sink        ResultSink
	logger      *log.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	now         func() time.Time
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Snapshots == nil || opts.Registry == nil {
		return nil, fmt.Errorf("consensus engine needs a snapshot source and a registry")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = producer.NewDispatcher(opts.Registry, producer.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Scorer == nil {
		opts.Scorer = quality.NewScorer(quality.DefaultOptions())
	}
	if opts.Calculator == nil {
		opts.Calculator = weighting.NewCalculator(weighting.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Detector == nil {
		opts.Detector = conflict.NewDetector(conflict.DefaultThreshold)
	}
	if opts.Resolver == nil {
		opts.Resolver = conflict.NewResolver(nil, opts.Logger)
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 60 * time.Second
	}
	if opts.Cache == nil && opts.ResultCacheTTL > 0 {
		opts.Cache = cache.NewMemory()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("artha/consensus")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		snapshots:   opts.Snapshots,
		registry:    opts.Registry,
		dispatcher:  opts.Dispatcher,
		scorer:      opts.Scorer,
		calculator:  opts.Calculator,
		detector:    opts.Detector,
		resolver:    opts.Resolver,
		synthesizer: opts.Synthesizer,
		timeout:     opts.QueryTimeout,
		resultTTL:   opts.ResultCacheTTL,
		cache:       opts.Cache,
		sink:        opts.Sink,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		now:         opts.Now,
	}, nil
}

// Registry exposes the producer registry.
func (e *Engine) Registry() *producer.Registry { return e.registry }

// Process runs one query. The only error returned after validation is a
// failure to obtain a snapshot, which means authentication failed; every
// other failure degrades the result instead.
func (e *Engine) Process(ctx context.Context, req Request) (*Result, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Query = strings.TrimSpace(req.Query)
	if req.UserID == "" || req.Query == "" {
		return nil, ErrInvalidRequest
	}
	start := e.now()

	key := resultKey(req)
	if !req.ForceRefresh {
		if r, ok := e.cachedResult(ctx, key); ok {
			e.metrics.Query(ctx, "cached", e.now().Sub(start))
			return r, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "consensus.process", trace.WithAttributes(attribute.Int("query.length", len(req.Query))))
	defer span.End()

	snap, err := e.snapshots.GetSnapshot(ctx, req.UserID, req.ForceRefresh)
	if err != nil {
		span.RecordError(err)
		e.metrics.Query(ctx, "snapshot_error", e.now().Sub(start))
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	selected := req.Producers
	if len(selected) == 0 {
		selected = e.dispatcher.Select(req.Query)
	}
	outputs := e.dispatcher.Dispatch(ctx, snap, req.Query, selected...)

	specs := make(map[string]producer.Spec, len(outputs))
	for name := range outputs {
		if s, ok := e.registry.Spec(name); ok {
			specs[name] = s
		}
	}
	vectors := e.scorer.ScoreAll(specs, outputs, req.Query)

	weights, report := e.calculator.Compute(ctx, weighting.Input{Query: req.Query, Vectors: vectors, Hints: req.Hints})

	conflicts := e.detector.Detect(weights, outputs)
	e.metrics.Conflicts(ctx, len(conflicts))
	resolution, resErr := e.resolver.Resolve(ctx, req.Query, conflicts)

	result := Assemble(AssembleInput{
		UserID:          req.UserID,
		Query:           req.Query,
		Registered:      e.registry.Names(),
		Outputs:         outputs,
		Quality:         vectors,
		Weights:         weights,
		Report:          report,
		Conflicts:       conflicts,
		Resolution:      resolution,
		ResolutionError: resErr,
		DataGaps:        snap.DataGaps(),
	})
	result.ID = uuid.NewString()
	result.Timestamp = e.now().UTC()

	if e.synthesizer != nil && len(result.Participating) > 0 {
		text, err := e.synthesizer.Reason(ctx, SynthesisPrompt(result))
		if err != nil {
			e.logger.Printf("narrative synthesis skipped: %v", err)
		} else {
			result.Narrative = strings.TrimSpace(text)
		}
	}
	result.Duration = e.now().Sub(start)

	span.SetAttributes(
		attribute.Int("producers.selected", len(selected)),
		attribute.Int("producers.participating", len(result.Participating)),
		attribute.Int("conflicts", len(conflicts)),
		attribute.String("weighting.method", string(report.Method)),
	)
	e.logger.Printf("query for %s done in %s: %d/%d producers, confidence %.2f, %d conflicts",
		req.UserID, result.Duration, len(result.Participating), len(outputs), result.OverallConfidence, len(conflicts))

	// persistence must not be cut short by the query deadline
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelPersist()
	e.storeResult(persistCtx, key, result)
	if e.sink != nil {
		if err := e.sink.SaveResult(persistCtx, result); err != nil {
			e.logger.Printf("saving result %s failed: %v", result.ID, err)
		}
	}
	e.metrics.Query(ctx, "ok", result.Duration)
	return result, nil
}

func (e *Engine) cachedResult(ctx context.Context, key string) (*Result, bool) {
	if e.cache == nil || e.resultTTL <= 0 {
		return nil, false
	}
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Printf("result cache read failed: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		e.logger.Printf("discarding unreadable cached result: %v", err)
		return nil, false
	}
	r.Cached = true
	return &r, true
}

func (e *Engine) storeResult(ctx context.Context, key string, r *Result) {
	if e.cache == nil || e.resultTTL <= 0 {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		e.logger.Printf("encode result %s: %v", r.ID, err)
		return
	}
	if err := e.cache.Set(ctx, key, raw, e.resultTTL); err != nil {
		e.logger.Printf("result cache write failed: %v", err)
	}
}

// resultKey identifies a request by user, normalized query, selection and hints.
func resultKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(strings.Fields(strings.ToLower(req.Query)), " ")))
	names := append([]string(nil), req.Producers...)
	sort.Strings(names)
	fmt.Fprintf(h, "|%s|", strings.Join(names, ","))
	hints := make([]string, 0, len(req.Hints))
	for k, v := range req.Hints {
		hints = append(hints, fmt.Sprintf("%s=%g", k, v))
	}
	sort.Strings(hints)
	h.Write([]byte(strings.Join(hints, ",")))
	return "result:" + req.UserID + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// SynthesisPrompt asks for the narrative from the five most influential outputs.
func SynthesisPrompt(r *Result) string {
	type weighted struct {
		Agent  string  `json:"agent"`
		Weight float64 `json:"weight"`
		Output any     `json:"output"`
	}
	var top []weighted
	for _, pw := range r.Participating {
		if len(top) == 5 {
			break
		}
		top = append(top, weighted{Agent: pw.Name, Weight: pw.Weight, Output: r.Outputs[pw.Name].Payload})
	}
	b, _ := json.MarshalIndent(top, "", "  ")
	resolution := r.Resolution.Text
	if resolution == "" {
		resolution = "No conflicts"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a financial recommendation for the query %q from these weighted agent outputs, most important first:\n%s\n\n", r.Query, b)
	fmt.Fprintf(&sb, "Conflict resolution:\n%s\n\n", resolution)
	if len(r.DataGaps) > 0 {
		fmt.Fprintf(&sb, "Data that could not be fetched: %s\n\n", strings.Join(r.DataGaps, ", "))
	}
	sb.WriteString("Structure: executive summary, three to five key recommendations with ₹ amounts and timelines, ")
	sb.WriteString("supporting analysis, risk considerations, next steps.")
	return sb.String()
}
