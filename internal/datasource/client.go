package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mohammad-safakhou/artha/config"
	"github.com/mohammad-safakhou/artha/internal/cache"
	"github.com/mohammad-safakhou/artha/internal/telemetry"
)

// Session is an authenticated provider session. It is passed explicitly to
// every call; the client keeps no per-user state.
type Session struct {
	ID              string
	Subject         string
	AuthenticatedAt time.Time
}

// Options configures a Client.
type Options struct {
	BaseURL          string
	CallTimeout      time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	CacheTTL         time.Duration
	BreakerThreshold int
	BreakerRecovery  time.Duration

	HTTPClient *http.Client
	Cache      cache.Store
	Logger     *log.Logger
	Metrics    *telemetry.Metrics
}

// OptionsFromConfig maps the datasource config section onto Options.
func OptionsFromConfig(cfg config.DataSourceConfig) Options {
	cfg = cfg.Normalize()
	return Options{
		BaseURL:          cfg.BaseURL,
		CallTimeout:      cfg.CallTimeout,
		MaxRetries:       cfg.MaxRetries,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		CacheTTL:         cfg.CacheTTL,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerRecovery:  cfg.BreakerRecovery,
	}
}

// Client talks to the financial data provider over JSON-RPC/HTTP.
type Client struct {
	baseURL     string
	http        *http.Client
	callTimeout time.Duration
	maxRetries  int
	retryBase   time.Duration
	cacheTTL    time.Duration
	cache       cache.Store
	breaker     *breaker
	logger      *log.Logger
	metrics     *telemetry.Metrics
	nextID      atomic.Int64
}

func NewClient(opts Options) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		callTimeout: opts.CallTimeout,
		maxRetries:  opts.MaxRetries,
		retryBase:   opts.RetryBaseDelay,
		cacheTTL:    opts.CacheTTL,
		cache:       opts.Cache,
		breaker:     newBreaker(opts.BreakerThreshold, opts.BreakerRecovery),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Authenticate runs the two-step login for subject (the provider's phone
// number). Step one must answer login_required; step two must return 200.
func (c *Client) Authenticate(ctx context.Context, subject string) (*Session, error) {
	sessionID := "mcp-session-" + uuid.NewString()

	reqCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	status, body, err := c.post(reqCtx, sessionID, newToolCall(c.nextID.Add(1), "fetch_net_worth", nil))
	if err != nil {
		return nil, &AuthError{Kind: AuthTransport, Err: err}
	}
	if status != http.StatusOK {
		return nil, &AuthError{Kind: AuthProtocolMismatch, Status: status, Err: errors.New("probe rejected")}
	}
	var resp RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &AuthError{Kind: AuthProtocolMismatch, Err: fmt.Errorf("decode probe: %w", err)}
	}
	payload, err := embeddedPayload(resp)
	if err != nil {
		return nil, &AuthError{Kind: AuthProtocolMismatch, Err: err}
	}
	if got := payloadStatus(payload); got != StatusLoginRequired {
		return nil, &AuthError{Kind: AuthProtocolMismatch, Err: fmt.Errorf("expected status %q, got %q", StatusLoginRequired, got)}
	}

	form := url.Values{}
	form.Set("sessionId", sessionID)
	form.Set("phoneNumber", subject)
	loginReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Kind: AuthTransport, Err: err}
	}
	loginReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	loginResp, err := c.http.Do(loginReq)
	if err != nil {
		return nil, &AuthError{Kind: AuthTransport, Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(loginResp.Body, 4096))
	loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		return nil, &AuthError{Kind: AuthRejected, Status: loginResp.StatusCode}
	}

	c.logger.Printf("authenticated subject session=%s", sessionID)
	return &Session{ID: sessionID, Subject: subject, AuthenticatedAt: time.Now().UTC()}, nil
}

// CallTool performs one tool call. Responses are cached per
// session, tool and arguments; a cache hit performs no network I/O.
func (c *Client) CallTool(ctx context.Context, sess *Session, tool string, args map[string]any) (json.RawMessage, error) {
	if sess == nil || sess.ID == "" {
		return nil, &AuthError{Kind: AuthExpired, Err: ErrNoSession}
	}
	key := "tool:" + sess.ID + ":" + tool + ":" + canonicalArgs(args)
	if cached, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		c.metrics.ToolCache(ctx, true)
		return json.RawMessage(cached), nil
	} else if err != nil {
		c.logger.Printf("tool cache read failed for %s: %v", tool, err)
	}
	c.metrics.ToolCache(ctx, false)

	if !c.breaker.allow() {
		c.metrics.SourceFetch(ctx, tool, "breaker_open")
		return nil, &ToolError{Tool: tool, Kind: ToolUnavailable, Err: ErrBreakerOpen}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	status, body, err := c.post(callCtx, sess.ID, newToolCall(c.nextID.Add(1), tool, args))
	if err != nil {
		// cancellation by the caller says nothing about provider health
		if ctx.Err() == nil {
			c.fail(ctx)
		}
		c.metrics.SourceFetch(ctx, tool, "unavailable")
		return nil, &ToolError{Tool: tool, Kind: ToolUnavailable, Err: err}
	}
	if status != http.StatusOK {
		if status == http.StatusTooManyRequests || status >= 500 {
			c.fail(ctx)
		}
		c.metrics.SourceFetch(ctx, tool, "remote")
		return nil, &ToolError{Tool: tool, Kind: ToolRemote, Status: status, Err: errors.New(snippet(body))}
	}
	c.breaker.recordSuccess()

	var resp RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.metrics.SourceFetch(ctx, tool, "remote")
		return nil, &ToolError{Tool: tool, Kind: ToolRemote, Status: status, Err: fmt.Errorf("decode: %w", err)}
	}
	payload, err := embeddedPayload(resp)
	if err != nil {
		c.metrics.SourceFetch(ctx, tool, "remote")
		return nil, &ToolError{Tool: tool, Kind: ToolRemote, Status: status, Err: err}
	}
	if payloadStatus(payload) == StatusLoginRequired {
		return nil, &AuthError{Kind: AuthExpired, Err: fmt.Errorf("session %s no longer authenticated", sess.ID)}
	}

	if err := c.cache.Set(ctx, key, payload, c.cacheTTL); err != nil {
		c.logger.Printf("tool cache write failed for %s: %v", tool, err)
	}
	c.metrics.SourceFetch(ctx, tool, "ok")
	return payload, nil
}

// CallToolWithRetry retries transient failures with exponential backoff
// (base, 2*base, 4*base, ...) up to the configured retry count. Auth errors
// and non-transient remote errors are returned immediately.
func (c *Client) CallToolWithRetry(ctx context.Context, sess *Session, tool string, args map[string]any) (json.RawMessage, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.retryBase << uint(c.maxRetries)
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	var out json.RawMessage
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		res, err := c.CallTool(ctx, sess, tool, args)
		if err == nil {
			out = res
			return nil
		}
		var te *ToolError
		if errors.As(err, &te) && te.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		c.logger.Printf("retrying %s after attempt %d in %s: %v", tool, attempt, wait, err)
	})
	if err == nil {
		return out, nil
	}
	var te *ToolError
	var ae *AuthError
	if errors.As(err, &te) || errors.As(err, &ae) {
		return nil, err
	}
	return nil, &ToolError{Tool: tool, Kind: ToolUnavailable, Err: err}
}

func (c *Client) fail(ctx context.Context) {
	if c.breaker.recordFailure() {
		c.logger.Printf("circuit opened for %s", c.breaker.recovery)
		c.metrics.BreakerTrip(ctx)
	}
}

func (c *Client) post(ctx context.Context, sessionID string, call RPCRequest) (int, []byte, error) {
	payload, err := json.Marshal(call)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/stream", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SessionHeader, sessionID)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[:limit]
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
