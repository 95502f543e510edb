package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mohammad-safakhou/artha/config"
)

// StatusError is a non-200 answer from the completion endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion endpoint status %d: %s", e.Status, e.Body)
}

func (e *StatusError) transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey     string
	baseURL    string
	model      config.LLMModel
	maxRetries int
	client     *http.Client
	logger     *log.Logger
}

// NewOpenAI builds a client for modelKey of provider p. The API key falls
// back to OPENAI_API_KEY.
func NewOpenAI(p config.LLMProvider, modelKey string, logger *log.Logger) (*OpenAI, error) {
	m, ok := p.Models[modelKey]
	if !ok {
		return nil, fmt.Errorf("model %s not configured", modelKey)
	}
	if m.APIName == "" {
		m.APIName = m.Name
	}
	if m.APIName == "" {
		m.APIName = modelKey
	}
	apiKey := p.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	baseURL := strings.TrimRight(p.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &OpenAI{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      m,
		maxRetries: max(p.MaxRetries, 0),
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Reason sends prompt as a single user message and returns the first choice.
// 429 and 5xx answers are retried with exponential backoff.
func (o *OpenAI) Reason(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatReq{
		Model:       o.model.APIName,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: o.model.Temperature,
		MaxTokens:   o.model.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.maxRetries)), ctx)

	var text string
	err = backoff.RetryNotify(func() error {
		out, err := o.complete(ctx, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.transient() {
				return backoff.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	}, policy, func(err error, wait time.Duration) {
		o.logger.Printf("completion retry in %s: %v", wait, err)
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (o *OpenAI) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	var out chatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// FromConfig returns the reasoner routed for task ("weighting",
// "resolution", "synthesis" or "analysis"). With no providers configured it
// returns Disabled.
func FromConfig(cfg config.LLMConfig, task string, logger *log.Logger) (Reasoner, error) {
	if !cfg.Enabled() {
		return Disabled{}, nil
	}
	model := cfg.Routing.Model(task)
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := cfg.Providers[name]
		if p.Type != "" && p.Type != "openai" {
			continue
		}
		key := model
		if key == "" {
			key = firstModel(p)
		}
		if _, ok := p.Models[key]; !ok {
			continue
		}
		return NewOpenAI(p, key, logger)
	}
	return nil, fmt.Errorf("no openai-compatible provider serves model %q for %s", model, task)
}

func firstModel(p config.LLMProvider) string {
	keys := make([]string, 0, len(p.Models))
	for k := range p.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
