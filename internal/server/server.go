// Package server exposes the consensus engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/artha/internal/consensus"
	"github.com/mohammad-safakhou/artha/internal/runtime"
	"github.com/mohammad-safakhou/artha/internal/store"
)

// Options wires the HTTP surface. Engine, Provider and Secret are required.
type Options struct {
	Engine       *consensus.Engine
	Store        *store.Store
	Provider     Authenticator
	Secret       []byte
	TokenTTL     time.Duration
	SecureCookie bool
	// Metrics is mounted on /metrics when set.
	Metrics  http.Handler
	DocsPath string
	Logger   *log.Logger
}

// New builds the echo instance with every route mounted.
func New(opts Options) (*echo.Echo, error) {
	if opts.Engine == nil || opts.Provider == nil {
		return nil, errors.New("server needs an engine and a data provider")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := opts.Logger
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	registerDocs(e, opts.DocsPath)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	api := e.Group("/api")
	auth := &AuthHandler{Provider: opts.Provider, Secret: opts.Secret, TokenTTL: opts.TokenTTL, SecureCookie: opts.SecureCookie}
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(opts.Secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, MeResponse{UserID: userID(c)})
	})

	ch := &ConsensusHandler{Engine: opts.Engine, Store: opts.Store}
	ch.Register(api.Group("/consensus"), opts.Secret)

	ops := api.Group("/ops")
	ops.Use(runtime.EchoAuthMiddleware(opts.Secret))
	oh := &OpsHandler{Registry: opts.Engine.Registry(), Store: opts.Store}
	oh.Register(ops)

	return e, nil
}

// Run serves rt on addr until ctx is cancelled, then shuts down gracefully.
// Pending migrations are applied first when a result store is configured.
func Run(ctx context.Context, rt *runtime.Runtime, addr string) error {
	cfg := rt.Config
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	if rt.Store != nil {
		if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			logger.Printf("migrations not applied: %v", err)
		}
	}
	var metrics http.Handler
	if rt.Telemetry != nil && cfg.Telemetry.Enabled {
		metrics = rt.Telemetry.Handler()
	}
	e, err := New(Options{
		Engine:       rt.Engine,
		Store:        rt.Store,
		Provider:     rt.Client,
		Secret:       secret,
		TokenTTL:     cfg.Server.TokenTTL,
		SecureCookie: !cfg.General.Debug,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
