package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mohammad-safakhou/artha/config"
)

func TestExtractFirstJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`Here you go: {"weights": {"a": 0.5}} thanks`, `{"weights": {"a": 0.5}}`},
		{`{"note": "use } carefully", "a": 1} trailing {"b": 2}`, `{"note": "use } carefully", "a": 1}`},
		{"no json at all", ""},
		{`{"unterminated": `, ""},
		{"```json\n{\"x\": {\"y\": [1,2]}}\n```", `{"x": {"y": [1,2]}}`},
	}
	for _, tc := range cases {
		if got := ExtractFirstJSON(tc.in); got != tc.want {
			t.Fatalf("ExtractFirstJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func testProvider(url string) config.LLMProvider {
	return config.LLMProvider{
		Type:       "openai",
		APIKey:     "sk-test",
		BaseURL:    url,
		MaxRetries: 2,
		Models:     map[string]config.LLMModel{"fast": {Name: "gpt-4o-mini", MaxTokens: 256, Temperature: 0.1}},
	}
}

func TestOpenAIReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 1 || req.Messages[0].Content != "weigh these" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"weights\":{}}"}}]}`))
	}))
	defer srv.Close()

	r, err := NewOpenAI(testProvider(srv.URL), "fast", nil)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	out, err := r.Reason(context.Background(), "weigh these")
	if err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if out != `{"weights":{}}` {
		t.Fatalf("unexpected content %q", out)
	}
}

func TestOpenAIRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	r, _ := NewOpenAI(testProvider(srv.URL), "fast", nil)
	out, err := r.Reason(context.Background(), "p")
	if err != nil || out != "ok" {
		t.Fatalf("expected recovery, got %q, %v", out, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	r, _ := NewOpenAI(testProvider(srv.URL), "fast", nil)
	_, err := r.Reason(context.Background(), "p")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig(config.LLMConfig{}, "weighting", nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, err := r.Reason(context.Background(), "x"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled reasoner, got %v", err)
	}

	cfg := config.LLMConfig{
		Providers: map[string]config.LLMProvider{"main": testProvider("http://example.invalid")},
		Routing:   config.LLMRoutingConfig{Fallback: "fast"},
	}
	r, err = FromConfig(cfg, "synthesis", nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := r.(*OpenAI); !ok {
		t.Fatalf("expected OpenAI reasoner, got %T", r)
	}

	cfg.Routing = config.LLMRoutingConfig{Synthesis: "missing"}
	if _, err := FromConfig(cfg, "synthesis", nil); err == nil {
		t.Fatalf("expected error for unrouted model")
	}
}
