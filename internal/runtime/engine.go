package runtime

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/mohammad-safakhou/artha/config"
	"github.com/mohammad-safakhou/artha/internal/agents"
	"github.com/mohammad-safakhou/artha/internal/cache"
	"github.com/mohammad-safakhou/artha/internal/conflict"
	"github.com/mohammad-safakhou/artha/internal/consensus"
	"github.com/mohammad-safakhou/artha/internal/datasource"
	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/quality"
	"github.com/mohammad-safakhou/artha/internal/reasoning"
	"github.com/mohammad-safakhou/artha/internal/snapshot"
	"github.com/mohammad-safakhou/artha/internal/store"
	"github.com/mohammad-safakhou/artha/internal/telemetry"
	"github.com/mohammad-safakhou/artha/internal/weighting"
)

// Options tweaks Build for tests and the CLI.
type Options struct {
	// LogOutput receives every component log; nil means log.Writer().
	LogOutput      io.Writer
	ServiceVersion string
	HTTPClient     *http.Client
	// Register adds extra producers after the built-in ones.
	Register func(*producer.Registry) error
	// SkipStore leaves persistence off even when Postgres is configured.
	SkipStore bool
}

// Runtime is a fully wired consensus engine with the resources it owns.
type Runtime struct {
	Config    *config.Config
	Engine    *consensus.Engine
	Snapshots *snapshot.Aggregator
	Client    *datasource.Client
	Cache     cache.Store
	Store     *store.Store
	Telemetry *telemetry.Telemetry
	Logger    *log.Logger
	closers   []func() error
}

// Build wires config into a ready engine: cache, data source client,
// snapshot aggregator, producers, reasoners, telemetry and the optional
// result store.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	out := opts.LogOutput
	if out == nil {
		out = log.Writer()
	}
	logger := func(prefix string) *log.Logger { return log.New(out, prefix, log.LstdFlags) }
	rt := &Runtime{Config: cfg, Logger: logger("[ARTHA] ")}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{
		ServiceName:    "artha",
		ServiceVersion: opts.ServiceVersion,
		Logger:         logger("[TELEMETRY] "),
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	rt.Telemetry = tel
	rt.closers = append(rt.closers, func() error { return tel.Shutdown(context.Background()) })

	kv, closeCache, err := cache.Open(ctx, cfg.Storage)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	rt.Cache = kv
	rt.closers = append(rt.closers, closeCache)

	dsOpts := datasource.OptionsFromConfig(cfg.DataSource)
	dsOpts.HTTPClient = opts.HTTPClient
	dsOpts.Cache = rt.Cache
	dsOpts.Logger = logger("[DATASOURCE] ")
	dsOpts.Metrics = tel.Metrics
	rt.Client = datasource.NewClient(dsOpts)

	snapCfg := cfg.Snapshot.Normalize()
	rt.Snapshots = snapshot.NewAggregator(rt.Client, snapshot.Options{
		Sources:        snapCfg.Sources,
		TTL:            snapCfg.TTL,
		RefreshTimeout: snapCfg.RefreshTimeout,
		Cache:          rt.Cache,
		Logger:         logger("[SNAPSHOT] "),
		Metrics:        tel.Metrics,
		Tracer:         tel.TracerOrNoop(),
	})

	reasoners := make(map[string]reasoning.Reasoner)
	for _, task := range []string{"weighting", "resolution", "synthesis", "analysis"} {
		r, err := reasoning.FromConfig(cfg.LLM, task, logger("[LLM] "))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("reasoner for %s: %w", task, err)
		}
		reasoners[task] = r
	}

	dispatchCfg := cfg.Dispatch.Normalize()
	reg := producer.NewRegistry()
	if err := agents.Register(reg, agents.Deps{
		Market:          reasoners["analysis"],
		Regional:        reasoners["analysis"],
		Logger:          logger("[AGENTS] "),
		ReasonerTimeout: dispatchCfg.ProducerTimeout,
	}); err != nil {
		rt.Close()
		return nil, err
	}
	if opts.Register != nil {
		if err := opts.Register(reg); err != nil {
			rt.Close()
			return nil, fmt.Errorf("register producers: %w", err)
		}
	}

	dispatchLogger := logger("[DISPATCH] ")
	consensusLogger := logger("[CONSENSUS] ")
	consCfg := cfg.Consensus.Normalize()
	engineOpts := consensus.Options{
		Snapshots: rt.Snapshots,
		Registry:  reg,
		Dispatcher: producer.NewDispatcher(reg, producer.Options{
			MaxConcurrency: dispatchCfg.MaxConcurrency,
			DefaultTimeout: dispatchCfg.ProducerTimeout,
			SelectionFloor: dispatchCfg.SelectionFloor,
			Logger:         dispatchLogger,
			Metrics:        tel.Metrics,
			Tracer:         tel.TracerOrNoop(),
		}),
		Scorer: quality.NewScorer(quality.Options{
			MinRelevance:        consCfg.MinRelevance,
			AlwaysRelevantFloor: consCfg.AlwaysRelevantFloor,
		}),
		Calculator: weighting.NewCalculator(weighting.Options{
			Reasoner: reasoners["weighting"],
			Logger:   consensusLogger,
			Metrics:  tel.Metrics,
		}),
		Detector:       conflict.NewDetector(consCfg.ConflictThreshold),
		Resolver:       conflict.NewResolver(reasoners["resolution"], consensusLogger),
		QueryTimeout:   consCfg.QueryTimeout,
		ResultCacheTTL: consCfg.ResultCacheTTL,
		Cache:          rt.Cache,
		Logger:         consensusLogger,
		Metrics:        tel.Metrics,
		Tracer:         tel.TracerOrNoop(),
	}
	if consCfg.SynthesisEnabled && cfg.LLM.Enabled() {
		engineOpts.Synthesizer = reasoners["synthesis"]
	}

	if cfg.Storage.Postgres.Configured() && !opts.SkipStore {
		st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("result store: %w", err)
		}
		rt.Store = st
		rt.closers = append(rt.closers, st.Close)
		engineOpts.Sink = st
	}

	eng, err := consensus.NewEngine(engineOpts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = eng
	return rt, nil
}

// Close releases everything Build opened, newest first.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}
