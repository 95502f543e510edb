package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/artha/internal/cache"
	"github.com/mohammad-safakhou/artha/internal/datasource"
	"github.com/mohammad-safakhou/artha/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the subset of the data source client the aggregator needs.
type Fetcher interface {
	Authenticate(ctx context.Context, subject string) (*datasource.Session, error)
	CallToolWithRetry(ctx context.Context, sess *datasource.Session, tool string, args map[string]any) (json.RawMessage, error)
}

// Options configures an Aggregator.
type Options struct {
	Sources []string
	TTL     time.Duration
	// RefreshTimeout bounds a shared fetch. Defaults to 30s.
	RefreshTimeout time.Duration
	Cache          cache.Store
	Logger         *log.Logger
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer
	Now            func() time.Time
}

// Aggregator builds and caches per-user snapshots.
type Aggregator struct {
	fetcher Fetcher
	sources []string
	ttl     time.Duration
	refresh time.Duration
	cache   cache.Store
	logger  *log.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	group   singleflight.Group
}

func NewAggregator(f Fetcher, opts Options) *Aggregator {
	if len(opts.Sources) == 0 {
		opts.Sources = RequiredSources
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("artha/snapshot")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		fetcher: f,
		sources: append([]string(nil), opts.Sources...),
		ttl:     opts.TTL,
		refresh: opts.RefreshTimeout,
		cache:   opts.Cache,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		now:     opts.Now,
	}
}

func cacheKey(userID string) string { return "snapshot:" + userID }

// GetSnapshot returns the cached snapshot for userID, or fetches a fresh one
// when the cache is cold, expired or forceRefresh is set. Authentication
// failure is returned as an error; individual source failures are recorded
// as data gaps.
//
// Concurrent callers for the same user share one fetch. The fetch is detached
// from the caller that started it and bounded by the refresh timeout, so one
// caller going away never degrades the snapshot the others receive. A caller
// whose ctx ends first stops waiting and gets ctx's error.
func (a *Aggregator) GetSnapshot(ctx context.Context, userID string, forceRefresh bool) (*Snapshot, error) {
	if !forceRefresh {
		if snap, ok := a.cached(ctx, userID); ok {
			a.metrics.SnapshotCache(ctx, true)
			return snap, nil
		}
	}
	a.metrics.SnapshotCache(ctx, false)

	ch := a.group.DoChan(userID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.refresh)
		defer cancel()
		if !forceRefresh {
			// another flight may have completed between the miss and DoChan
			if snap, ok := a.cached(fetchCtx, userID); ok {
				return snap, nil
			}
		}
		return a.refreshSnapshot(fetchCtx, userID)
	})
	select {
	case <-ctx.Done():
		a.logger.Printf("stopped waiting for snapshot of %s: %v", userID, ctx.Err())
		return nil, fmt.Errorf("snapshot for %s: %w", userID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			a.logger.Printf("joined in-flight refresh for %s", userID)
		}
		return res.Val.(*Snapshot), nil
	}
}

// Invalidate drops the cached snapshot for userID.
func (a *Aggregator) Invalidate(ctx context.Context, userID string) error {
	return a.cache.Delete(ctx, cacheKey(userID))
}

func (a *Aggregator) cached(ctx context.Context, userID string) (*Snapshot, bool) {
	raw, ok, err := a.cache.Get(ctx, cacheKey(userID))
	if err != nil {
		a.logger.Printf("snapshot cache read failed for %s: %v", userID, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		a.logger.Printf("discarding unreadable snapshot for %s: %v", userID, err)
		return nil, false
	}
	return &snap, true
}

func (a *Aggregator) refreshSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "snapshot.refresh", trace.WithAttributes(attribute.Int("sources", len(a.sources))))
	defer span.End()

	sess, err := a.fetcher.Authenticate(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("authenticate %s: %w", userID, err)
	}

	var (
		mu      sync.Mutex
		results = make([]SourceResult, 0, len(a.sources))
		authErr error
	)
	var g errgroup.Group
	for _, source := range a.sources {
		source := source
		g.Go(func() error {
			payload, err := a.fetcher.CallToolWithRetry(ctx, sess, source, nil)
			res := SourceResult{Name: source, FetchedAt: a.now().UTC()}
			if err != nil {
				res.Err = err.Error()
				a.logger.Printf("source %s unavailable for %s: %v", source, userID, err)
			} else {
				res.Payload = payload
			}
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if datasource.IsAuth(err) && authErr == nil {
				authErr = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if authErr != nil {
		span.RecordError(authErr)
		return nil, fmt.Errorf("fetch snapshot for %s: %w", userID, authErr)
	}
	snap := New(userID, a.now().UTC(), results)
	span.SetAttributes(attribute.Int("data_gaps", len(snap.DataGaps())))
	if snap.Available() == 0 || ctx.Err() != nil {
		// nothing fetched, or the refresh timeout cut the fetch short
		a.logger.Printf("snapshot for %s not cached (available=%d, ctx=%v)", userID, snap.Available(), ctx.Err())
		return snap, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := a.cache.Set(ctx, cacheKey(userID), raw, a.ttl); err != nil {
		a.logger.Printf("snapshot cache write failed for %s: %v", userID, err)
	}
	return snap, nil
}
