package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
	"github.com/mohammad-safakhou/artha/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Options configures a Dispatcher.
type Options struct {
	MaxConcurrency int
	DefaultTimeout time.Duration
	// SelectionFloor is passed to Registry.Select when no names are given.
	SelectionFloor float64
	Logger         *log.Logger
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer
}

// Dispatcher runs selected producers in parallel with per-producer
// timeouts and failure isolation.
type Dispatcher struct {
	registry *Registry
	limit    int
	timeout  time.Duration
	floor    float64
	logger   *log.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

func NewDispatcher(reg *Registry, opts Options) *Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("artha/producer")
	}
	return &Dispatcher{
		registry: reg,
		limit:    opts.MaxConcurrency,
		timeout:  opts.DefaultTimeout,
		floor:    opts.SelectionFloor,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
}

// Select picks producers for query using the configured floor.
func (d *Dispatcher) Select(query string) []string {
	return d.registry.Select(query, d.floor)
}

// Dispatch runs the named producers, or the selection for query when none
// are named, and returns one Output per name. The whole dispatch shares one
// deadline, the largest timeout among the named producers, so it returns
// within that bound even when producers queue behind the concurrency limit.
// A producer that ignores cancellation is abandoned and its result dropped;
// one still queued when the deadline passes is reported as timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, snap *snapshot.Snapshot, query string, selected ...string) map[string]Output {
	names := dedupe(selected)
	if len(names) == 0 {
		names = d.Select(query)
	}

	outputs := make(map[string]Output, len(names))
	entries := make([]entry, 0, len(names))
	var budget time.Duration
	for _, name := range names {
		e, ok := d.registry.lookup(name)
		if !ok {
			outputs[name] = Output{Name: name, Err: &Error{Kind: KindSkipped, Message: "not registered"}}
			continue
		}
		entries = append(entries, e)
		if t := d.timeoutFor(e); t > budget {
			budget = t
		}
	}
	if len(entries) == 0 {
		return outputs
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	results := make(chan Output, len(entries))
	var g errgroup.Group
	g.SetLimit(d.limit)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			results <- d.run(ctx, dispatchCtx, e, snap, query)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for out := range results {
		outputs[out.Name] = out
	}
	return outputs
}

func (d *Dispatcher) timeoutFor(e entry) time.Duration {
	if e.spec.Timeout > 0 {
		return e.spec.Timeout
	}
	return d.timeout
}

type runResult struct {
	payload  any
	err      error
	panicked any
}

// run executes one producer. ctx is the query context; dispatchCtx carries
// the shared dispatch deadline.
func (d *Dispatcher) run(ctx, dispatchCtx context.Context, e entry, snap *snapshot.Snapshot, query string) Output {
	name := e.spec.Name
	start := time.Now()
	out := Output{Name: name}
	finish := func() Output {
		out.Duration = time.Since(start)
		outcome := "ok"
		if out.Err != nil {
			outcome = string(out.Err.Kind)
			d.logger.Printf("producer %s did not contribute after %s: %v", name, out.Duration, out.Err)
		}
		d.metrics.ProducerRun(ctx, name, outcome, out.Duration)
		return out
	}

	if err := ctx.Err(); err != nil {
		out.Err = &Error{Kind: KindUnavailable, Message: "query cancelled before start", Err: err}
		return finish()
	}
	if dispatchCtx.Err() != nil {
		out.Err = &Error{Kind: KindTimeout, Message: "dispatch deadline passed before start", Err: context.DeadlineExceeded}
		return finish()
	}

	timeout := d.timeoutFor(e)
	runCtx, cancel := context.WithTimeout(dispatchCtx, timeout)
	defer cancel()
	runCtx, span := d.tracer.Start(runCtx, "producer.analyze", trace.WithAttributes(attribute.String("producer", name)))
	defer span.End()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{panicked: r}
			}
		}()
		payload, err := e.producer.Analyze(runCtx, snap, query)
		done <- runResult{payload: payload, err: err}
	}()

	select {
	case res := <-done:
		out.Payload, out.Err = classify(ctx, runCtx, res)
	case <-runCtx.Done():
		out.Err = deadlineError(ctx, timeout)
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, string(out.Err.Kind))
	}
	return finish()
}

func classify(parent, runCtx context.Context, res runResult) (any, *Error) {
	if res.panicked != nil {
		return nil, &Error{Kind: KindPanic, Message: fmt.Sprint(res.panicked)}
	}
	if res.err != nil {
		var pe *Error
		if errors.As(res.err, &pe) {
			return nil, pe
		}
		if parent.Err() != nil {
			return nil, &Error{Kind: KindUnavailable, Message: "query cancelled", Err: res.err}
		}
		if errors.Is(res.err, context.DeadlineExceeded) && runCtx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Message: "producer deadline exceeded", Err: res.err}
		}
		return nil, &Error{Kind: KindFailed, Err: res.err}
	}
	if res.payload == nil {
		return nil, &Error{Kind: KindUnavailable, Message: "no output"}
	}
	payload, err := Normalize(res.payload)
	if err != nil {
		return nil, &Error{Kind: KindFailed, Err: err}
	}
	if payload == nil {
		return nil, &Error{Kind: KindUnavailable, Message: "no output"}
	}
	return payload, nil
}

func deadlineError(parent context.Context, timeout time.Duration) *Error {
	if err := parent.Err(); err != nil {
		return &Error{Kind: KindUnavailable, Message: "query cancelled", Err: err}
	}
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("no result within %s", timeout), Err: context.DeadlineExceeded}
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
